package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/cluster"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/encoding/sds"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/singlecell"
)

// The fixture is two sharply separated populations plus three cells built to
// fail QC: cell 0 detects almost nothing, cell 38 looks like a doublet and
// cell 39 is mostly mitochondrial.
//
// Genes 0-9 mark population A (cells 0-19), genes 10-19 mark population B
// (cells 20-39), genes 20-28 are uniform housekeeping and gene 29 is MT-CO1.
const (
	fixtureGenes = 30
	fixtureCells = 40
)

func fixtureBarcode(i int) string {
	const bases = "ACGT"
	b := make([]byte, 8)
	for p := 7; p >= 0; p-- {
		b[p] = bases[i%4]
		i /= 4
	}
	return string(b)
}

func fixtureGeneName(g int) string {
	switch {
	case g < 10:
		return fmt.Sprintf("GA%d", g)
	case g < 20:
		return fmt.Sprintf("GB%d", g-10)
	case g < 29:
		return fmt.Sprintf("HK%d", g-20)
	default:
		return "MT-CO1"
	}
}

func fixtureEntries() [][3]int {
	var e [][3]int
	add := func(g, c, v int) { e = append(e, [3]int{g, c, v}) }
	for c := 0; c < fixtureCells; c++ {
		switch {
		case c == 0: // nearly empty droplet
			add(0, c, 5)
			add(20, c, 2)
			add(29, c, 1)
		case c < 20: // population A
			for g := 0; g < 10; g++ {
				add(g, c, 5)
			}
			for g := 20; g < 29; g++ {
				add(g, c, 2)
			}
			add(29, c, 1)
		case c == 38: // doublet: both marker sets detected
			for g := 0; g < 20; g++ {
				add(g, c, 5)
			}
			for g := 20; g < 29; g++ {
				add(g, c, 2)
			}
			add(29, c, 1)
		case c == 39: // dying cell: mitochondrial takeover
			for g := 10; g < 20; g++ {
				add(g, c, 5)
			}
			for g := 20; g < 29; g++ {
				add(g, c, 2)
			}
			add(29, c, 60)
		default: // population B
			for g := 10; g < 20; g++ {
				add(g, c, 5)
			}
			for g := 20; g < 29; g++ {
				add(g, c, 2)
			}
			add(29, c, 1)
		}
	}
	return e
}

// writeTriplet materializes the fixture as a plain-text triplet directory.
// mutateBarcode flips one base of cell 5's barcode to exercise whitelist
// correction.
func writeTriplet(t *testing.T, dir string, mutateBarcode bool) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0775))

	entries := fixtureEntries()
	var mtx strings.Builder
	mtx.WriteString("%%MatrixMarket matrix coordinate integer general\n%\n")
	fmt.Fprintf(&mtx, "%d %d %d\n", fixtureGenes, fixtureCells, len(entries))
	for _, e := range entries {
		fmt.Fprintf(&mtx, "%d %d %d\n", e[0]+1, e[1]+1, e[2])
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "matrix.mtx"), []byte(mtx.String()), 0644))

	var genes strings.Builder
	for g := 0; g < fixtureGenes; g++ {
		fmt.Fprintf(&genes, "ENSG%05d\t%s\n", g, fixtureGeneName(g))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "genes.tsv"), []byte(genes.String()), 0644))

	var bcs strings.Builder
	for c := 0; c < fixtureCells; c++ {
		bc := fixtureBarcode(c)
		if mutateBarcode && c == 5 {
			bc = "G" + bc[1:]
		}
		fmt.Fprintf(&bcs, "%s-1\n", bc)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "barcodes.tsv"), []byte(bcs.String()), 0644))
}

const testConfig = `
[qc]
min_features = 5
max_features = 25

[normalize]
top_genes = 20

[reduce]
max_pcs = 10
use_pcs = 5

[cluster]
k = 8

[markers]
top_markers = 5
heatmap_genes = 5
`

func TestPipelineEndToEnd(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()

	triplet := filepath.Join(tempDir, "triplet")
	writeTriplet(t, triplet, false)
	configPath := filepath.Join(tempDir, "analysis.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))
	typesPath := filepath.Join(tempDir, "types.tsv")
	require.NoError(t, os.WriteFile(typesPath, []byte("0\tCD8 T\n1\tMyeloid\n"), 0644))

	outDir := filepath.Join(tempDir, "analysis")
	require.NoError(t, runAll(triplet, outDir, configPath, typesPath))

	for _, name := range []string{
		"dataset.sds", "filtered.sds", "normalized.sds", "annotated.sds",
		"qc.png", "hvg.tsv", "pca.rio", "elbow.png",
		"clusters.rio", "clusters.png", "types.png",
		"trajectory.rio", "trajectory.png", "cells.tsv", "manifest.json",
		"markers/heatmap.png", "markers/manifest.json",
	} {
		fi, err := os.Stat(filepath.Join(outDir, name))
		require.NoError(t, err, name)
		assert.Greater(t, fi.Size(), int64(0), name)
	}

	// Every surviving cell sits strictly inside the QC bounds.
	filtered, err := sds.ReadDataset(ctx, filepath.Join(outDir, "filtered.sds"))
	require.NoError(t, err)
	require.Equal(t, 37, len(filtered.Cells))
	for _, c := range filtered.Cells {
		assert.Greater(t, c.Features, 5)
		assert.Less(t, c.Features, 25)
		assert.Less(t, c.PctMito, 5.0)
	}

	// Two clusters, every cell assigned, largest first.
	fp := singlecell.ComputeFingerprint(filtered)
	ca, err := loadCluster(ctx, filepath.Join(outDir, "clusters.rio"), fp)
	require.NoError(t, err)
	require.Equal(t, 37, len(ca.Labels))
	for _, l := range ca.Labels {
		assert.GreaterOrEqual(t, l, int32(0))
	}
	assert.Equal(t, []int{19, 18}, cluster.Sizes(ca.Labels))

	// The population A cells form cluster 0 and get its label.
	annotated, err := sds.ReadDataset(ctx, filepath.Join(outDir, "annotated.sds"))
	require.NoError(t, err)
	for _, c := range annotated.Cells {
		switch c.Cluster {
		case 0:
			assert.Equal(t, "CD8 T", c.CellType)
		case 1:
			assert.Equal(t, "Myeloid", c.CellType)
		default:
			t.Fatalf("cell %s has cluster %d", c.Barcode, c.Cluster)
		}
	}

	// Marker tables hold at most top_markers rows of the right genes.
	for id, prefix := range map[int]string{0: "GA", 1: "GB"} {
		data, err := os.ReadFile(filepath.Join(outDir, fmt.Sprintf("markers/cluster-%d.markers.csv", id)))
		require.NoError(t, err)
		rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
		require.NoError(t, err)
		require.Greater(t, len(rows), 1)
		assert.LessOrEqual(t, len(rows)-1, 5)
		for _, row := range rows[1:] {
			assert.True(t, strings.HasPrefix(row[1], prefix), "cluster %d marker %s", id, row[1])
		}
	}

	// Pseudotime is finite for every cell and the centroid tree has one edge.
	var ta trajectoryArtifact
	require.NoError(t, sds.ReadArtifact(ctx, filepath.Join(outDir, "trajectory.rio"), trajectoryKind, fp, &ta))
	require.Equal(t, 1, len(ta.Edges))
	require.Equal(t, 37, len(ta.Pseudotime))
	for i, pt := range ta.Pseudotime {
		assert.False(t, math.IsNaN(pt) || math.IsInf(pt, 0), "cell %d", i)
		assert.GreaterOrEqual(t, pt, 0.0)
	}

	// cells.tsv: header plus one row per cell.
	cellData, err := os.ReadFile(filepath.Join(outDir, "cells.tsv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(cellData), "\n"), "\n")
	require.Equal(t, 38, len(lines))
	assert.Contains(t, lines[0], "barcode")
	assert.Contains(t, lines[0], "pseudotime")

	// The manifest checksums everything it lists.
	var m manifest
	manifestData, err := os.ReadFile(filepath.Join(outDir, "manifest.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(manifestData, &m))
	assert.NotEmpty(t, m.RunID)
	assert.Equal(t, fp.String(), m.Fingerprint)
	names := map[string]bool{}
	for _, f := range m.Files {
		names[f.Path] = true
		assert.Equal(t, 16, len(f.Seahash), f.Path)
		assert.Greater(t, f.Bytes, int64(0), f.Path)
	}
	assert.True(t, names["cells.tsv"])
	assert.True(t, names["clusters.rio"])

	// A type table that misses a cluster faults unless unassigned cells are
	// explicitly allowed.
	partial := filepath.Join(tempDir, "partial.tsv")
	require.NoError(t, os.WriteFile(partial, []byte("0\tCD8 T\n"), 0644))
	err = runAnnotate(filepath.Join(outDir, "normalized.sds"), filepath.Join(outDir, "clusters.rio"),
		partial, filepath.Join(tempDir, "partial.sds"), "", false)
	require.Error(t, err)
	require.NoError(t, runAnnotate(filepath.Join(outDir, "normalized.sds"), filepath.Join(outDir, "clusters.rio"),
		partial, filepath.Join(tempDir, "partial.sds"), "", true))

	// Merge two libraries and summarize.
	merged := filepath.Join(tempDir, "merged.sds")
	require.NoError(t, runMerge([]string{
		filepath.Join(outDir, "dataset.sds"),
		filepath.Join(outDir, "dataset.sds"),
	}, merged, "rep1,rep2"))
	md, err := sds.ReadDataset(ctx, merged)
	require.NoError(t, err)
	assert.Equal(t, 80, len(md.Cells))
	assert.Equal(t, "rep1", md.Cells[0].Library)
	assert.Equal(t, "rep2", md.Cells[79].Library)

	require.NoError(t, runStat(filepath.Join(outDir, "annotated.sds")))
}

func TestIngestWhitelist(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()

	triplet := filepath.Join(tempDir, "triplet")
	writeTriplet(t, triplet, true)
	var wl strings.Builder
	for c := 0; c < fixtureCells; c++ {
		fmt.Fprintf(&wl, "%s\n", fixtureBarcode(c))
	}
	whitelist := filepath.Join(tempDir, "whitelist.txt")
	require.NoError(t, os.WriteFile(whitelist, []byte(wl.String()), 0644))

	out := filepath.Join(tempDir, "dataset.sds")
	require.NoError(t, runIngest(triplet, out, whitelist, "MT-"))
	d, err := sds.ReadDataset(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, fixtureBarcode(5)+"-1", d.Cells[5].Barcode)
}

func TestLoadRunConfig(t *testing.T) {
	cfg, err := loadRunConfig("")
	require.NoError(t, err)
	assert.Equal(t, singlecell.DefaultOpts.MinFeatures, cfg.QC.MinFeatures)
	assert.Equal(t, singlecell.DefaultOpts.TopGenes, cfg.Normalize.TopGenes)

	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(tempDir, "analysis.toml")
	require.NoError(t, os.WriteFile(path, []byte("[qc]\nmin_features = 7\n"), 0644))
	cfg, err = loadRunConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.QC.MinFeatures)
	// Unset keys keep their defaults.
	assert.Equal(t, singlecell.DefaultOpts.MaxFeatures, cfg.QC.MaxFeatures)
	assert.Equal(t, singlecell.DefaultOpts.MaxPctMito, cfg.QC.MaxPctMito)

	_, err = loadRunConfig(filepath.Join(tempDir, "missing.toml"))
	require.Error(t, err)
}

func TestMain(m *testing.M) {
	shutdown := grail.Init()
	defer shutdown()
	os.Exit(m.Run())
}
