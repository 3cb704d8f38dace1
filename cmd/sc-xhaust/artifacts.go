package main

import (
	"context"

	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/cluster"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/encoding/sds"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/neighbors"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/singlecell"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/trajectory"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Artifact kinds. ReadArtifact refuses a file whose kind does not match, so
// verbs cannot be fed each other's outputs by accident.
const (
	pcaKind        = "pca"
	clusterKind    = "cluster"
	trajectoryKind = "trajectory"
)

// pcaArtifact is the reduce output: the decomposition of the scaled HVG
// matrix. Scores carry every computed component; consumers slice off the
// leading columns they want.
type pcaArtifact struct {
	Scores   sds.Matrix
	Loadings sds.Matrix
	Stdev    []float64
	Genes    []int
}

// clusterArtifact carries the cluster labels, the 2-D embedding and the
// pruned SNN graph they came from, plus the knobs that produced them.
type clusterArtifact struct {
	Labels     []int32
	X, Y       []float64
	Sampled    []bool
	Edges      []neighbors.Edge
	K          int
	Prune      float64
	Resolution float64
}

// trajectoryArtifact records the centroid tree and the per-cell pseudotime.
type trajectoryArtifact struct {
	Root         int
	UsePCs       int
	Edges        []trajectory.Edge
	Parent       []int
	CentroidTime []float64
	Limb         []int
	Pseudotime   []float64
	Branch       []int32
}

func loadPCA(ctx context.Context, path string, fp singlecell.Fingerprint) (*singlecell.PCA, error) {
	var a pcaArtifact
	if err := sds.ReadArtifact(ctx, path, pcaKind, fp, &a); err != nil {
		return nil, err
	}
	scores := a.Scores.Dense()
	if scores == nil {
		return nil, errors.Errorf("%s: empty score matrix", path)
	}
	return &singlecell.PCA{
		Scores:   scores,
		Loadings: a.Loadings.Dense(),
		Stdev:    a.Stdev,
		Genes:    a.Genes,
	}, nil
}

func loadCluster(ctx context.Context, path string, fp singlecell.Fingerprint) (*clusterArtifact, error) {
	var a clusterArtifact
	if err := sds.ReadArtifact(ctx, path, clusterKind, fp, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (a *clusterArtifact) embedding() *cluster.Embedding {
	return &cluster.Embedding{X: a.X, Y: a.Y, Sampled: a.Sampled}
}

// applyLabels copies cluster assignments from an artifact onto the dataset.
func applyLabels(d *singlecell.Dataset, labels []int32) error {
	if len(labels) != len(d.Cells) {
		return errors.Errorf("cluster artifact covers %d cells, dataset has %d; artifacts must come from this dataset",
			len(labels), len(d.Cells))
	}
	for i := range d.Cells {
		d.Cells[i].Cluster = int(labels[i])
	}
	return nil
}

// topScores returns the leading n columns of the score matrix, or all of
// them when n is zero, negative or out of range.
func topScores(p *singlecell.PCA, n int) *mat.Dense {
	if c := p.NComponents(); n <= 0 || n > c {
		n = c
	}
	return p.TopScores(n).(*mat.Dense)
}
