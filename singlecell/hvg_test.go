package singlecell

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hvgDataset builds a six-cell dataset with equal per-cell totals (20) so
// normalized expression is proportional to raw counts:
//
//	      c0  c1  c2  c3  c4  c5
//	HK     5   5   5   5   5   5   constant
//	VAR   10   .  10   .  10   .   strongly variable
//	MID    3   4   3   4   3   4   mildly variable
//	FILL   2  11   2  11   2  11   variable (keeps totals equal)
func hvgDataset(t testing.TB) *Dataset {
	genes := []Gene{
		{ID: "G0", Name: "HK"},
		{ID: "G1", Name: "VAR"},
		{ID: "G2", Name: "MID"},
		{ID: "G3", Name: "FILL"},
	}
	cells := NewCells([]string{"A-1", "B-1", "C-1", "D-1", "E-1", "F-1"})
	var rows, cols []int32
	var vals []float32
	add := func(g, c int32, v float32) {
		if v > 0 {
			rows = append(rows, g)
			cols = append(cols, c)
			vals = append(vals, v)
		}
	}
	for c := int32(0); c < 6; c++ {
		add(0, c, 5)
		if c%2 == 0 {
			add(1, c, 10)
			add(2, c, 3)
			add(3, c, 2)
		} else {
			add(2, c, 4)
			add(3, c, 11)
		}
	}
	d, err := NewDatasetFromCOO(genes, cells, rows, cols, vals)
	require.NoError(t, err)
	require.NoError(t, LogNormalize(d, DefaultOpts))
	return d
}

func TestSelectHVG(t *testing.T) {
	d := hvgDataset(t)
	opts := DefaultOpts
	opts.TopGenes = 2
	opts.DispersionBins = 1 // rank by raw dispersion z-score

	stats, err := SelectHVG(d, opts)
	require.NoError(t, err)
	require.Len(t, stats, 4)

	// Sorted most variable first: VAR, FILL, MID, HK.
	assert.Equal(t, 1, stats[0].Gene)
	assert.Equal(t, 3, stats[1].Gene)
	assert.Equal(t, 0, stats[3].Gene)
	assert.Equal(t, 0.0, stats[3].Dispersion) // constant gene
	for i := 1; i < len(stats); i++ {
		assert.LessOrEqual(t, stats[i].Standardized, stats[i-1].Standardized)
	}

	assert.Equal(t, 1, stats[0].Rank)
	assert.Equal(t, 2, stats[1].Rank)
	assert.Equal(t, 0, stats[2].Rank)

	assert.Equal(t, 1, d.Genes[1].HVGRank)
	assert.Equal(t, 2, d.Genes[3].HVGRank)
	assert.Equal(t, 0, d.Genes[0].HVGRank)
	assert.Equal(t, []int{1, 3}, d.HVGIndices())
}

func TestSelectHVGRequiresNormalized(t *testing.T) {
	d := testDataset(t)
	_, err := SelectHVG(d, DefaultOpts)
	assert.Error(t, err)
}

func TestSelectHVGTopGenesCap(t *testing.T) {
	d := hvgDataset(t)
	opts := DefaultOpts
	opts.TopGenes = 100 // more than we have
	stats, err := SelectHVG(d, opts)
	require.NoError(t, err)
	assert.Len(t, d.HVGIndices(), 4)
	assert.Equal(t, 4, stats[3].Rank)
}

func TestScaleHVG(t *testing.T) {
	d := hvgDataset(t)
	opts := DefaultOpts
	opts.TopGenes = 2
	opts.DispersionBins = 1
	_, err := SelectHVG(d, opts)
	require.NoError(t, err)

	scaled, genes, err := ScaleHVG(d, opts)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, genes)
	r, c := scaled.Dims()
	require.Equal(t, 6, r)
	require.Equal(t, 2, c)

	// Each column is z-scored: mean 0, unit sample variance.
	for k := 0; k < c; k++ {
		var sum, sumSq float64
		for j := 0; j < r; j++ {
			v := scaled.At(j, k)
			sum += v
			sumSq += v * v
		}
		assert.InDelta(t, 0, sum/float64(r), 1e-9)
		assert.InDelta(t, 1, sumSq/float64(r-1), 1e-9)
	}
}

func TestScaleHVGClips(t *testing.T) {
	d := hvgDataset(t)
	opts := DefaultOpts
	opts.TopGenes = 2
	opts.DispersionBins = 1
	opts.ScaleMax = 0.5
	_, err := SelectHVG(d, opts)
	require.NoError(t, err)
	scaled, _, err := ScaleHVG(d, opts)
	require.NoError(t, err)
	r, c := scaled.Dims()
	for j := 0; j < r; j++ {
		for k := 0; k < c; k++ {
			v := scaled.At(j, k)
			assert.LessOrEqual(t, v, 0.5)
			assert.GreaterOrEqual(t, v, -0.5)
		}
	}
}

func TestScaleHVGConstantGene(t *testing.T) {
	d := hvgDataset(t)
	d.Genes[0].HVGRank = 1 // HK never varies
	scaled, _, err := ScaleHVG(d, DefaultOpts)
	require.NoError(t, err)
	for j := 0; j < 6; j++ {
		assert.Equal(t, 0.0, scaled.At(j, 0))
	}
}
