package singlecell

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCellTypes(t *testing.T) {
	in := `# cluster annotations, 2025-06 review
0	Naive CD4 T
1	CD14+ Mono

2	Exhausted CD8 T
`
	m, err := ParseCellTypes(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, CellTypeMap{0: "Naive CD4 T", 1: "CD14+ Mono", 2: "Exhausted CD8 T"}, m)
}

func TestParseCellTypesErrors(t *testing.T) {
	for _, in := range []string{
		"",                     // empty
		"0 NoTab\n",            // missing tab
		"x\tB cells\n",         // bad cluster id
		"-1\tB cells\n",        // negative id
		"0\t\n",                // empty label
		"0\tB cells\n0\tNK\n",  // conflicting labels
	} {
		_, err := ParseCellTypes(strings.NewReader(in))
		assert.Error(t, err, "input %q", in)
	}
	// Repeating an identical line is harmless.
	m, err := ParseCellTypes(strings.NewReader("0\tB cells\n0\tB cells\n"))
	require.NoError(t, err)
	assert.Len(t, m, 1)
}

func TestAnnotate(t *testing.T) {
	d := testDataset(t)
	d.Cells[0].Cluster = 0
	d.Cells[1].Cluster = 1
	d.Cells[2].Cluster = 0
	d.Cells[3].Cluster = 1

	m := CellTypeMap{0: "Mono", 1: "CD8 T"}
	require.NoError(t, Annotate(d, m, false))
	assert.Equal(t, "Mono", d.Cells[0].CellType)
	assert.Equal(t, "CD8 T", d.Cells[1].CellType)
	assert.Equal(t, "Mono", d.Cells[2].CellType)

	labels, counts := CellTypeCounts(d)
	assert.Equal(t, []string{"CD8 T", "Mono"}, labels)
	assert.Equal(t, []int{2, 2}, counts)
}

func TestAnnotateMissingCluster(t *testing.T) {
	d := testDataset(t)
	d.Cells[0].Cluster = 0
	d.Cells[1].Cluster = 1
	d.Cells[2].Cluster = 2
	d.Cells[3].Cluster = 0

	m := CellTypeMap{0: "Mono", 1: "CD8 T"}
	err := Annotate(d, m, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[2]")

	// With unassigned clusters allowed the run proceeds.
	require.NoError(t, Annotate(d, m, true))
	assert.Equal(t, UnassignedLabel, d.Cells[2].CellType)
	assert.Equal(t, "Mono", d.Cells[3].CellType)
}

func TestAnnotateUnclustered(t *testing.T) {
	d := testDataset(t)
	err := Annotate(d, CellTypeMap{0: "Mono"}, false)
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	d1 := testDataset(t)
	d2 := testDataset(t)
	f1 := ComputeFingerprint(d1)
	require.False(t, f1.IsZero())
	assert.Equal(t, f1, ComputeFingerprint(d2))
	assert.Len(t, f1.String(), 64)

	// Annotations added by later stages do not change identity.
	d2.Cells[0].Cluster = 3
	d2.Cells[0].CellType = "Mono"
	require.NoError(t, LogNormalize(d2, DefaultOpts))
	assert.Equal(t, f1, ComputeFingerprint(d2))

	// Changing a count does.
	d2.Counts[0]++
	assert.NotEqual(t, f1, ComputeFingerprint(d2))

	// So does renaming a barcode.
	d3 := testDataset(t)
	d3.Cells[0].Barcode = "AAAT-1"
	assert.NotEqual(t, f1, ComputeFingerprint(d3))
}
