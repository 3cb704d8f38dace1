package singlecell

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge(t *testing.T) {
	a := testDataset(t)
	b := testDataset(t) // same barcodes; suffixing must keep them apart
	merged, err := Merge([]string{"pre", "post"}, []*Dataset{a, b})
	require.NoError(t, err)

	assert.Equal(t, 8, merged.NCells())
	assert.Equal(t, 4, merged.NGenes())
	assert.Equal(t, 18, merged.NNZ())

	assert.Equal(t, "AAAA-1", merged.Cells[0].Barcode)
	assert.Equal(t, "pre", merged.Cells[0].Library)
	assert.Equal(t, "AAAA-2", merged.Cells[4].Barcode)
	assert.Equal(t, "post", merged.Cells[4].Library)

	// Counts survive per cell.
	genes, counts := merged.CellCounts(4)
	assert.Equal(t, []int32{0, 1}, genes)
	assert.Equal(t, []float32{5, 5}, counts)

	// Merged data is unannotated regardless of input state.
	assert.Equal(t, -1, merged.Cells[0].Cluster)
	assert.Equal(t, "", merged.Cells[0].CellType)
}

func TestMergeDropsLayers(t *testing.T) {
	a := testDataset(t)
	b := testDataset(t)
	require.NoError(t, LogNormalize(a, DefaultOpts))
	a.Cells[0].Cluster = 2
	merged, err := Merge([]string{"pre", "post"}, []*Dataset{a, b})
	require.NoError(t, err)
	assert.Nil(t, merged.LogNorm)
	assert.Equal(t, -1, merged.Cells[0].Cluster)
}

func TestMergeGeneMismatch(t *testing.T) {
	a := testDataset(t)
	b := testDataset(t)
	b.Genes[2].ID = "ENSG99"
	_, err := Merge([]string{"pre", "post"}, []*Dataset{a, b})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reference")

	c := testDataset(t)
	c.Genes = c.Genes[:3]
	c.RowIdx = c.RowIdx[:0] // keep it valid enough not to matter
	_, err = Merge([]string{"pre", "post"}, []*Dataset{a, c})
	assert.Error(t, err)
}

func TestMergeDuplicateBarcode(t *testing.T) {
	a := testDataset(t)
	b := testDataset(t)
	// Suffix-stripping makes AAAA-7 collide with AAAA-1 once re-suffixed.
	b.Cells[1].Barcode = "AAAA-7"
	_, err := Merge([]string{"pre", "post"}, []*Dataset{b, a})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate barcode")
}

func TestSuffixBarcode(t *testing.T) {
	tests := []struct {
		bc      string
		ordinal int
		want    string
	}{
		{"AAAC-1", 2, "AAAC-2"},
		{"AAAC", 1, "AAAC-1"},
		{"AAAC-12", 3, "AAAC-3"},
		{"AA-AC", 2, "AA-AC-2"}, // non-numeric suffix kept
	}
	for _, test := range tests {
		if got := suffixBarcode(test.bc, test.ordinal); got != test.want {
			t.Errorf("suffixBarcode(%q, %d) = %q, want %q", test.bc, test.ordinal, got, test.want)
		}
	}
}
