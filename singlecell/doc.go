// Package singlecell provides the in-memory model and core math for
// single-cell RNA-seq count analysis: the sparse count matrix with its cell
// and gene tables, per-cell quality metrics and filtering, log-normalization,
// highly-variable-gene selection, scaling, and principal component analysis.
package singlecell
