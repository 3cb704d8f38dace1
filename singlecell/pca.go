package singlecell

import (
	"fmt"
	"math"

	"github.com/grailbio/base/log"
	"gonum.org/v1/gonum/mat"
)

// PCA holds a principal component decomposition of the scaled
// highly-variable-gene matrix.
type PCA struct {
	// Scores is cells × components: each cell's coordinates in PC space.
	// Downstream stages (neighbor graph, clustering, trajectory) operate on
	// these rows and never touch the full matrix again.
	Scores *mat.Dense
	// Loadings is genes × components, over the genes in Genes.
	Loadings *mat.Dense
	// Stdev[k] is the standard deviation explained by component k,
	// the elbow-plot quantity.
	Stdev []float64
	// Genes are the dataset gene indices the loading rows refer to, in HVG
	// rank order.
	Genes []int
}

// NComponents returns the number of computed components.
func (p *PCA) NComponents() int {
	_, c := p.Scores.Dims()
	return c
}

// TopScores returns the first n columns of the score matrix as a view. It
// panics if n exceeds the number of computed components.
func (p *PCA) TopScores(n int) mat.Matrix {
	r, _ := p.Scores.Dims()
	return p.Scores.Slice(0, r, 0, n)
}

// ComputePCA runs a thin SVD of the scaled matrix and keeps up to
// opts.MaxPCs components. The scaled columns are already centered, so the
// SVD is the principal component decomposition.
func ComputePCA(scaled *mat.Dense, genes []int, opts Opts) (*PCA, error) {
	nCells, nGenes := scaled.Dims()
	if nGenes != len(genes) {
		return nil, fmt.Errorf("pca: %d matrix columns for %d genes", nGenes, len(genes))
	}
	if nCells < 2 {
		return nil, fmt.Errorf("pca: need at least two cells, have %d", nCells)
	}
	// Centering costs one degree of freedom, so at most nCells-1 informative
	// components exist.
	nPCs := opts.MaxPCs
	if m := nCells - 1; nPCs > m {
		nPCs = m
	}
	if nPCs > nGenes {
		nPCs = nGenes
	}
	if nPCs < 1 {
		return nil, fmt.Errorf("pca: max-pcs %d leaves no components", opts.MaxPCs)
	}

	var svd mat.SVD
	if ok := svd.Factorize(scaled, mat.SVDThin); !ok {
		return nil, fmt.Errorf("pca: SVD of %d×%d matrix failed to converge", nCells, nGenes)
	}
	values := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	scores := mat.NewDense(nCells, nPCs, nil)
	for j := 0; j < nCells; j++ {
		for k := 0; k < nPCs; k++ {
			scores.Set(j, k, u.At(j, k)*values[k])
		}
	}
	loadings := mat.NewDense(nGenes, nPCs, nil)
	for g := 0; g < nGenes; g++ {
		for k := 0; k < nPCs; k++ {
			loadings.Set(g, k, v.At(g, k))
		}
	}
	stdev := make([]float64, nPCs)
	for k := 0; k < nPCs; k++ {
		stdev[k] = values[k] / math.Sqrt(float64(nCells-1))
	}
	log.Debug.Printf("pca: %d components of %d×%d matrix, leading stdev %.3f", nPCs, nCells, nGenes, stdev[0])
	genesCopy := make([]int, len(genes))
	copy(genesCopy, genes)
	return &PCA{Scores: scores, Loadings: loadings, Stdev: stdev, Genes: genesCopy}, nil
}
