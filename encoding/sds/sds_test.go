package sds

import (
	"fmt"
	"math"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/singlecell"
	"gonum.org/v1/gonum/mat"
)

// newDataset builds nCells cells over three genes, one entry per cell.
func newDataset(t *testing.T, nCells int) *singlecell.Dataset {
	genes := []singlecell.Gene{
		{ID: "ENSG1", Name: "CD3E", Type: "Gene Expression"},
		{ID: "ENSG2", Name: "LYZ", Type: "Gene Expression"},
		{ID: "ENSG3", Name: "MT-CO1", Type: "Gene Expression"},
	}
	barcodes := make([]string, nCells)
	rows := make([]int32, nCells)
	cols := make([]int32, nCells)
	vals := make([]float32, nCells)
	for i := 0; i < nCells; i++ {
		barcodes[i] = fmt.Sprintf("BC%06d-1", i)
		rows[i] = int32(i % 3)
		cols[i] = int32(i)
		vals[i] = float32(i%7 + 1)
	}
	d, err := singlecell.NewDatasetFromCOO(genes, singlecell.NewCells(barcodes), rows, cols, vals)
	assert.NoError(t, err)
	return d
}

func TestDatasetRoundTrip(t *testing.T) {
	ctx := vcontext.Background()
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := tempDir + "/counts.sds"

	d := newDataset(t, 10)
	d.Cells[3].Cluster = 2
	d.Cells[3].CellType = "CD8 T"
	d.Cells[3].Pseudotime = 0.25
	d.Genes[1].HVGRank = 1

	assert.NoError(t, WriteDataset(ctx, path, d))
	got, err := ReadDataset(ctx, path)
	assert.NoError(t, err)

	expect.EQ(t, got.NGenes(), 3)
	expect.EQ(t, got.NCells(), 10)
	expect.EQ(t, singlecell.ComputeFingerprint(got), singlecell.ComputeFingerprint(d))
	expect.Nil(t, got.LogNorm)

	// Annotations and gene marks survive.
	expect.EQ(t, got.Cells[3].Cluster, 2)
	expect.EQ(t, got.Cells[3].CellType, "CD8 T")
	expect.EQ(t, got.Cells[3].Pseudotime, 0.25)
	expect.EQ(t, got.Cells[4].Cluster, -1)
	expect.True(t, math.IsNaN(got.Cells[4].Pseudotime))
	expect.EQ(t, got.Genes[1].HVGRank, 1)
}

func TestDatasetRoundTripMultiBlock(t *testing.T) {
	ctx := vcontext.Background()
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := tempDir + "/counts.sds"

	d := newDataset(t, 3*cellsPerBlock/2+17) // spans two blocks, ragged tail
	assert.NoError(t, singlecell.LogNormalize(d, singlecell.DefaultOpts))
	assert.NoError(t, WriteDataset(ctx, path, d))

	got, err := ReadDataset(ctx, path)
	assert.NoError(t, err)
	expect.EQ(t, got.NCells(), d.NCells())
	expect.EQ(t, singlecell.ComputeFingerprint(got), singlecell.ComputeFingerprint(d))
	assert.EQ(t, len(got.LogNorm), len(d.LogNorm))
	for i := range d.LogNorm {
		if got.LogNorm[i] != d.LogNorm[i] {
			t.Fatalf("lognorm[%d]: got %v, want %v", i, got.LogNorm[i], d.LogNorm[i])
		}
	}
}

func TestReadInfo(t *testing.T) {
	ctx := vcontext.Background()
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := tempDir + "/counts.sds"

	d := newDataset(t, 10)
	assert.NoError(t, WriteDataset(ctx, path, d))
	info, err := ReadInfo(ctx, path)
	assert.NoError(t, err)
	expect.EQ(t, info.NGenes, 3)
	expect.EQ(t, info.NCells, 10)
	expect.EQ(t, info.NNZ, int64(10))
	expect.False(t, info.HasLogNorm)
	expect.EQ(t, info.Fingerprint, singlecell.ComputeFingerprint(d))
}

type testPayload struct {
	Name   string
	Scores Matrix
	Stdev  []float64
}

func TestArtifactRoundTrip(t *testing.T) {
	ctx := vcontext.Background()
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := tempDir + "/pca.rio"

	d := newDataset(t, 5)
	fp := singlecell.ComputeFingerprint(d)
	in := testPayload{
		Name:   "components",
		Scores: NewMatrix(mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})),
		Stdev:  []float64{2.5, 1.25},
	}
	assert.NoError(t, WriteArtifact(ctx, path, "pca", fp, in))

	var out testPayload
	assert.NoError(t, ReadArtifact(ctx, path, "pca", fp, &out))
	expect.EQ(t, out.Name, "components")
	expect.EQ(t, out.Stdev, []float64{2.5, 1.25})
	dense := out.Scores.Dense()
	expect.EQ(t, dense.At(1, 2), 6.0)

	info, err := ReadArtifactInfo(ctx, path)
	assert.NoError(t, err)
	expect.EQ(t, info.Kind, "pca")
	expect.EQ(t, info.Fingerprint, fp)
	expect.True(t, info.CreatedNs > 0)
}

func TestArtifactKindMismatch(t *testing.T) {
	ctx := vcontext.Background()
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := tempDir + "/pca.rio"

	fp := singlecell.ComputeFingerprint(newDataset(t, 5))
	assert.NoError(t, WriteArtifact(ctx, path, "pca", fp, testPayload{Name: "x"}))

	var out testPayload
	err := ReadArtifact(ctx, path, "cluster", fp, &out)
	assert.HasSubstr(t, err.Error(), `artifact kind "pca"`)
}

func TestArtifactFingerprintMismatch(t *testing.T) {
	ctx := vcontext.Background()
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := tempDir + "/pca.rio"

	d := newDataset(t, 5)
	fp := singlecell.ComputeFingerprint(d)
	assert.NoError(t, WriteArtifact(ctx, path, "pca", fp, testPayload{Name: "x"}))

	d.Counts[0]++
	other := singlecell.ComputeFingerprint(d)
	var out testPayload
	err := ReadArtifact(ctx, path, "pca", other, &out)
	assert.HasSubstr(t, err.Error(), "rerun the producing stage")

	// A zero fingerprint skips the check.
	assert.NoError(t, ReadArtifact(ctx, path, "pca", singlecell.Fingerprint{}, &out))
}

func TestDatasetArtifactConfusion(t *testing.T) {
	ctx := vcontext.Background()
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	d := newDataset(t, 5)
	sdsPath := tempDir + "/counts.sds"
	rioPath := tempDir + "/pca.rio"
	assert.NoError(t, WriteDataset(ctx, sdsPath, d))
	assert.NoError(t, WriteArtifact(ctx, rioPath, "pca", singlecell.ComputeFingerprint(d), testPayload{}))

	_, err := ReadDataset(ctx, rioPath)
	assert.NotNil(t, err)
	var out testPayload
	err = ReadArtifact(ctx, sdsPath, "pca", singlecell.Fingerprint{}, &out)
	assert.NotNil(t, err)
}

func TestMatrixEmpty(t *testing.T) {
	var m Matrix
	expect.Nil(t, m.Dense())
}
