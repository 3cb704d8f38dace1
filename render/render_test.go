package render

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/cluster"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/singlecell"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/trajectory"
)

func testEmbedding() (*cluster.Embedding, []int32) {
	emb := &cluster.Embedding{
		X:       []float64{-1, -1.2, -0.8, 1, 1.2, 0.8},
		Y:       []float64{0, 0.3, -0.3, 0, 0.3, -0.3},
		Sampled: []bool{true, true, true, true, true, true},
	}
	return emb, []int32{0, 0, 0, 1, 1, 1}
}

func assertPNG(t *testing.T, path string) {
	t.Helper()
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, fi.Size(), int64(0))
}

func TestClusterScatter(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	emb, labels := testEmbedding()

	path := filepath.Join(tempDir, "clusters.png")
	require.NoError(t, ClusterScatter(ctx, path, emb, labels))
	assertPNG(t, path)

	assert.Error(t, ClusterScatter(ctx, path, emb, labels[:3]))
}

func TestFeatureScatter(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	emb, _ := testEmbedding()

	path := filepath.Join(tempDir, "cd8a.png")
	values := []float64{0, 0.5, 1, 2, 3, 0}
	require.NoError(t, FeatureScatter(ctx, path, emb, values, "CD8A"))
	assertPNG(t, path)

	// A constant feature must still render.
	flat := filepath.Join(tempDir, "flat.png")
	require.NoError(t, FeatureScatter(ctx, flat, emb, make([]float64, 6), "FLAT"))
	assertPNG(t, flat)

	assert.Error(t, FeatureScatter(ctx, path, emb, values[:2], "CD8A"))
}

func TestTypeScatter(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	emb, _ := testEmbedding()

	path := filepath.Join(tempDir, "types.png")
	types := []string{"CD8 T", "CD8 T", "", "Mono", "Mono", "Mono"}
	require.NoError(t, TypeScatter(ctx, path, emb, types))
	assertPNG(t, path)

	assert.Error(t, TypeScatter(ctx, path, emb, types[:2]))
}

func TestTrajectoryOverlay(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	emb, labels := testEmbedding()
	tr := &trajectory.Trajectory{Edges: []trajectory.Edge{{A: 0, B: 1, Weight: 1}}}

	path := filepath.Join(tempDir, "trajectory.png")
	require.NoError(t, TrajectoryOverlay(ctx, path, emb, labels, tr))
	assertPNG(t, path)

	bad := &trajectory.Trajectory{Edges: []trajectory.Edge{{A: 0, B: 5, Weight: 1}}}
	assert.Error(t, TrajectoryOverlay(ctx, path, emb, labels, bad))
}

func TestQCPanels(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	cells := []singlecell.Cell{
		{Features: 500, Counts: 1500, PctMito: 2.1},
		{Features: 800, Counts: 2600, PctMito: 1.2},
		{Features: 300, Counts: 900, PctMito: 4.8},
		{Features: 1200, Counts: 5000, PctMito: 0.7},
	}

	path := filepath.Join(tempDir, "qc.png")
	require.NoError(t, QCPanels(ctx, path, cells))
	assertPNG(t, path)

	assert.Error(t, QCPanels(ctx, path, nil))
}

func TestElbow(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()

	path := filepath.Join(tempDir, "elbow.png")
	require.NoError(t, Elbow(ctx, path, []float64{5, 3, 2, 1.5, 1.2, 1.1}))
	assertPNG(t, path)

	assert.Error(t, Elbow(ctx, path, nil))
}

func TestMarkerHeatmap(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	z := mat.NewDense(3, 2, []float64{1, -1, 0.5, -0.5, -1, 1})

	path := filepath.Join(tempDir, "heatmap.png")
	require.NoError(t, MarkerHeatmap(ctx, path, []string{"CD8A", "GZMB", "LYZ"}, []int{0, 1}, z))
	assertPNG(t, path)

	assert.Error(t, MarkerHeatmap(ctx, path, []string{"CD8A"}, []int{0, 1}, z))
}
