package singlecell

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Gene describes one row of the count matrix.
type Gene struct {
	// ID is the feature identifier, e.g. "ENSG00000186092".
	ID string
	// Name is the gene symbol, e.g. "OR4F5".
	Name string
	// Type is the feature type reported by the upstream counter, e.g.
	// "Gene Expression".  Empty for two-column feature tables.
	Type string
	// Mito marks mitochondrial genes (by symbol prefix, see Opts.MitoPrefix).
	Mito bool
	// HVGRank is the 1-based rank among selected highly variable genes, 0 if
	// the gene was not selected.
	HVGRank int
}

// Cell describes one column of the count matrix, together with the per-cell
// annotations accumulated as the pipeline progresses.  The zero values of the
// annotation fields mean "stage not run yet": Cluster -1 is set by NewDataset,
// Pseudotime starts as NaN.
type Cell struct {
	// Barcode is the cell barcode, e.g. "AAACATACAACCAC-1".
	Barcode string
	// Library tags the source library after a merge; empty for single-library
	// datasets.
	Library string

	// QC metrics, filled by ComputeMetrics.
	Features int     // genes with nonzero count
	Counts   float64 // total molecules
	PctMito  float64 // percentage of counts in mitochondrial genes

	// Cluster is the cluster id, -1 before clustering.
	Cluster int
	// CellType is the human-assigned label, empty before annotation.
	CellType string
	// Pseudotime is the trajectory ordering, NaN before trajectory inference.
	Pseudotime float64
}

// Dataset is a gene × cell sparse count matrix plus its gene and cell tables.
// Counts are stored compressed by cell (CSC): the stored entries of cell j
// are RowIdx/Counts[ColPtr[j]:ColPtr[j+1]], with RowIdx strictly increasing
// within each cell.  The raw counts are immutable after ingestion; stages add
// layers (LogNorm) and mutate cell annotations in place.
type Dataset struct {
	Genes []Gene
	Cells []Cell

	ColPtr []int64   // len(Cells)+1, monotone
	RowIdx []int32   // gene index per stored entry
	Counts []float32 // raw counts, > 0

	// LogNorm is the log-normalized layer, parallel to Counts.  Nil until
	// LogNormalize has run.
	LogNorm []float32

	// Lazily built CSR mirror for per-gene scans.  valPos indexes into
	// Counts/LogNorm so both layers share one index.
	rowPtr  []int64
	cellIdx []int32
	valPos  []int32
}

// NewCells builds a fresh cell table from barcodes with annotations unset:
// Cluster -1, Pseudotime NaN.
func NewCells(barcodes []string) []Cell {
	cells := make([]Cell, len(barcodes))
	for i, bc := range barcodes {
		cells[i] = Cell{Barcode: bc, Cluster: -1, Pseudotime: math.NaN()}
	}
	return cells
}

// NewDataset assembles and validates a dataset from prebuilt CSC arrays.
// Cell annotations pass through untouched, so deserializers round-trip
// cluster and type assignments; fresh ingests should build cells with
// NewCells.
func NewDataset(genes []Gene, cells []Cell, colPtr []int64, rowIdx []int32, counts []float32) (*Dataset, error) {
	d := &Dataset{Genes: genes, Cells: cells, ColPtr: colPtr, RowIdx: rowIdx, Counts: counts}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dataset) validate() error {
	if len(d.ColPtr) != len(d.Cells)+1 {
		return fmt.Errorf("singlecell: colptr has %d entries for %d cells", len(d.ColPtr), len(d.Cells))
	}
	if d.ColPtr[0] != 0 || d.ColPtr[len(d.Cells)] != int64(len(d.Counts)) {
		return fmt.Errorf("singlecell: colptr spans [%d,%d), want [0,%d)", d.ColPtr[0], d.ColPtr[len(d.Cells)], len(d.Counts))
	}
	if len(d.RowIdx) != len(d.Counts) {
		return fmt.Errorf("singlecell: %d row indices for %d counts", len(d.RowIdx), len(d.Counts))
	}
	if len(d.Counts) > math.MaxInt32 {
		return fmt.Errorf("singlecell: %d stored entries overflow the row index", len(d.Counts))
	}
	nGenes := int32(len(d.Genes))
	for j := range d.Cells {
		start, end := d.ColPtr[j], d.ColPtr[j+1]
		if start > end {
			return fmt.Errorf("singlecell: colptr decreases at cell %d", j)
		}
		prev := int32(-1)
		for p := start; p < end; p++ {
			g := d.RowIdx[p]
			if g < 0 || g >= nGenes {
				return fmt.Errorf("singlecell: cell %d references gene %d of %d", j, g, nGenes)
			}
			if g <= prev {
				return fmt.Errorf("singlecell: cell %d has unsorted or duplicate gene %d", j, g)
			}
			prev = g
			if !(d.Counts[p] > 0) {
				return fmt.Errorf("singlecell: cell %d gene %d has nonpositive count %v", j, g, d.Counts[p])
			}
		}
	}
	return nil
}

// NewDatasetFromCOO assembles a dataset from unordered (gene, cell, count)
// triples, the order-free form produced by MatrixMarket parsing.  Duplicate
// coordinates are rejected.
func NewDatasetFromCOO(genes []Gene, cells []Cell, rows, cols []int32, vals []float32) (*Dataset, error) {
	if len(rows) != len(cols) || len(cols) != len(vals) {
		return nil, fmt.Errorf("singlecell: COO arrays disagree: %d/%d/%d", len(rows), len(cols), len(vals))
	}
	nnz := len(vals)
	colPtr := make([]int64, len(cells)+1)
	for _, c := range cols {
		if c < 0 || int(c) >= len(cells) {
			return nil, fmt.Errorf("singlecell: COO cell %d of %d", c, len(cells))
		}
		colPtr[c+1]++
	}
	for j := 0; j < len(cells); j++ {
		colPtr[j+1] += colPtr[j]
	}
	rowIdx := make([]int32, nnz)
	counts := make([]float32, nnz)
	next := make([]int64, len(cells))
	copy(next, colPtr[:len(cells)])
	for i := 0; i < nnz; i++ {
		c := cols[i]
		p := next[c]
		next[c]++
		rowIdx[p] = rows[i]
		counts[p] = vals[i]
	}
	// Sort each cell's entries by gene.
	for j := 0; j < len(cells); j++ {
		start, end := colPtr[j], colPtr[j+1]
		col := cscColumn{rowIdx[start:end], counts[start:end]}
		sort.Sort(col)
		for p := int64(1); p < end-start; p++ {
			if col.genes[p] == col.genes[p-1] {
				return nil, fmt.Errorf("singlecell: duplicate entry for gene %d, cell %d", col.genes[p], j)
			}
		}
	}
	return NewDataset(genes, cells, colPtr, rowIdx, counts)
}

type cscColumn struct {
	genes  []int32
	counts []float32
}

func (c cscColumn) Len() int           { return len(c.genes) }
func (c cscColumn) Less(i, j int) bool { return c.genes[i] < c.genes[j] }
func (c cscColumn) Swap(i, j int) {
	c.genes[i], c.genes[j] = c.genes[j], c.genes[i]
	c.counts[i], c.counts[j] = c.counts[j], c.counts[i]
}

// NCells returns the number of cells (matrix columns).
func (d *Dataset) NCells() int { return len(d.Cells) }

// NGenes returns the number of genes (matrix rows).
func (d *Dataset) NGenes() int { return len(d.Genes) }

// NNZ returns the number of stored entries.
func (d *Dataset) NNZ() int { return len(d.Counts) }

// CellCounts returns views of the stored genes and raw counts of cell j.
// The views alias dataset storage and must not be modified.
func (d *Dataset) CellCounts(j int) (genes []int32, counts []float32) {
	start, end := d.ColPtr[j], d.ColPtr[j+1]
	return d.RowIdx[start:end], d.Counts[start:end]
}

// CellLog returns views of the stored genes and log-normalized values of
// cell j.
//
// REQUIRES: LogNormalize has run.
func (d *Dataset) CellLog(j int) (genes []int32, vals []float32) {
	start, end := d.ColPtr[j], d.ColPtr[j+1]
	return d.RowIdx[start:end], d.LogNorm[start:end]
}

// GeneEntries returns views of the stored entries of gene g: the cell indices
// and the positions of their values in Counts/LogNorm.  The CSR mirror is
// built on first use; the build is not threadsafe, so call EnsureCSR before
// scanning genes from multiple goroutines.
func (d *Dataset) GeneEntries(g int) (cells []int32, pos []int32) {
	d.EnsureCSR()
	start, end := d.rowPtr[g], d.rowPtr[g+1]
	return d.cellIdx[start:end], d.valPos[start:end]
}

// EnsureCSR builds the per-gene index if it is not yet present.
func (d *Dataset) EnsureCSR() {
	if d.rowPtr != nil {
		return
	}
	rowPtr := make([]int64, len(d.Genes)+1)
	for _, g := range d.RowIdx {
		rowPtr[g+1]++
	}
	for g := 0; g < len(d.Genes); g++ {
		rowPtr[g+1] += rowPtr[g]
	}
	cellIdx := make([]int32, len(d.Counts))
	valPos := make([]int32, len(d.Counts))
	next := make([]int64, len(d.Genes))
	copy(next, rowPtr[:len(d.Genes)])
	for j := 0; j < len(d.Cells); j++ {
		for p := d.ColPtr[j]; p < d.ColPtr[j+1]; p++ {
			g := d.RowIdx[p]
			q := next[g]
			next[g]++
			cellIdx[q] = int32(j)
			valPos[q] = int32(p)
		}
	}
	d.rowPtr = rowPtr
	d.cellIdx = cellIdx
	d.valPos = valPos
}

// SubsetCells returns a new dataset containing the cells in keep, in order.
// Gene and cell records are copied; layers and per-cell annotations survive,
// the CSR mirror does not.
func (d *Dataset) SubsetCells(keep []int32) (*Dataset, error) {
	genes := make([]Gene, len(d.Genes))
	copy(genes, d.Genes)
	cells := make([]Cell, len(keep))
	colPtr := make([]int64, len(keep)+1)
	var nnz int64
	for i, j := range keep {
		if j < 0 || int(j) >= len(d.Cells) {
			return nil, fmt.Errorf("singlecell: subset index %d of %d", j, len(d.Cells))
		}
		cells[i] = d.Cells[j]
		nnz += d.ColPtr[j+1] - d.ColPtr[j]
		colPtr[i+1] = nnz
	}
	rowIdx := make([]int32, nnz)
	counts := make([]float32, nnz)
	var logNorm []float32
	if d.LogNorm != nil {
		logNorm = make([]float32, nnz)
	}
	for i, j := range keep {
		src, dst := d.ColPtr[j], colPtr[i]
		n := d.ColPtr[j+1] - src
		copy(rowIdx[dst:dst+n], d.RowIdx[src:src+n])
		copy(counts[dst:dst+n], d.Counts[src:src+n])
		if logNorm != nil {
			copy(logNorm[dst:dst+n], d.LogNorm[src:src+n])
		}
	}
	out := &Dataset{Genes: genes, Cells: cells, ColPtr: colPtr, RowIdx: rowIdx, Counts: counts, LogNorm: logNorm}
	return out, nil
}

// MarkMito sets the Mito flag on genes whose symbol carries the given prefix.
// The match is case-sensitive: "MT-" matches human mitochondrial symbols
// without catching e.g. "MTRNR" pseudo-prefixes.
func (d *Dataset) MarkMito(prefix string) int {
	n := 0
	for i := range d.Genes {
		d.Genes[i].Mito = strings.HasPrefix(d.Genes[i].Name, prefix)
		if d.Genes[i].Mito {
			n++
		}
	}
	return n
}

// ClusterIDs returns the sorted distinct cluster ids present on the cells,
// excluding the -1 "not clustered" sentinel.
func (d *Dataset) ClusterIDs() []int {
	seen := map[int]bool{}
	for i := range d.Cells {
		if c := d.Cells[i].Cluster; c >= 0 {
			seen[c] = true
		}
	}
	ids := make([]int, 0, len(seen))
	for c := range seen {
		ids = append(ids, c)
	}
	sort.Ints(ids)
	return ids
}
