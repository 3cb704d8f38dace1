package singlecell

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestComputePCA(t *testing.T) {
	d := hvgDataset(t)
	opts := DefaultOpts
	opts.TopGenes = 2
	opts.DispersionBins = 1
	_, err := SelectHVG(d, opts)
	require.NoError(t, err)
	scaled, genes, err := ScaleHVG(d, opts)
	require.NoError(t, err)

	p, err := ComputePCA(scaled, genes, opts)
	require.NoError(t, err)
	// 6 cells × 2 genes caps the rank at 2.
	require.Equal(t, 2, p.NComponents())
	require.Len(t, p.Stdev, 2)
	assert.GreaterOrEqual(t, p.Stdev[0], p.Stdev[1])
	assert.Equal(t, []int{1, 3}, p.Genes)

	// Scores × Loadingsᵀ reconstructs the input when all components are kept.
	var recon mat.Dense
	recon.Mul(p.Scores, p.Loadings.T())
	r, c := scaled.Dims()
	for j := 0; j < r; j++ {
		for k := 0; k < c; k++ {
			assert.InDelta(t, scaled.At(j, k), recon.At(j, k), 1e-9)
		}
	}

	// Loadings columns are orthonormal.
	for a := 0; a < 2; a++ {
		for b := 0; b < 2; b++ {
			var dot float64
			for g := 0; g < c; g++ {
				dot += p.Loadings.At(g, a) * p.Loadings.At(g, b)
			}
			want := 0.0
			if a == b {
				want = 1.0
			}
			assert.InDelta(t, want, dot, 1e-9)
		}
	}

	// Total explained variance matches the input variance: two z-scored
	// columns carry sample variance 1 each.
	var total float64
	for _, s := range p.Stdev {
		total += s * s
	}
	assert.InDelta(t, 2.0, total, 1e-9)
}

func TestComputePCAMaxPCs(t *testing.T) {
	d := hvgDataset(t)
	opts := DefaultOpts
	opts.TopGenes = 2
	opts.DispersionBins = 1
	opts.MaxPCs = 1
	_, err := SelectHVG(d, opts)
	require.NoError(t, err)
	scaled, genes, err := ScaleHVG(d, opts)
	require.NoError(t, err)
	p, err := ComputePCA(scaled, genes, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, p.NComponents())

	top := p.TopScores(1)
	r, c := top.Dims()
	assert.Equal(t, 6, r)
	assert.Equal(t, 1, c)
}

func TestComputePCADimsMismatch(t *testing.T) {
	scaled := mat.NewDense(3, 2, nil)
	_, err := ComputePCA(scaled, []int{7}, DefaultOpts)
	assert.Error(t, err)
}

func TestComputePCACentering(t *testing.T) {
	// Score columns of a centered input are centered too.
	d := hvgDataset(t)
	opts := DefaultOpts
	opts.TopGenes = 2
	opts.DispersionBins = 1
	_, err := SelectHVG(d, opts)
	require.NoError(t, err)
	scaled, genes, err := ScaleHVG(d, opts)
	require.NoError(t, err)
	p, err := ComputePCA(scaled, genes, opts)
	require.NoError(t, err)
	r, c := p.Scores.Dims()
	for k := 0; k < c; k++ {
		var sum float64
		for j := 0; j < r; j++ {
			sum += p.Scores.At(j, k)
		}
		assert.True(t, math.Abs(sum) < 1e-9, "component %d not centered: %v", k, sum)
	}
}
