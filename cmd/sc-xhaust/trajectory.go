package main

import (
	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/encoding/sds"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/render"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/singlecell"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/trajectory"
	"github.com/pkg/errors"
	"v.io/x/lib/cmdline"
)

type trajectoryFlags struct {
	out    string
	plot   string
	cells  string
	root   int
	usePCs int
}

func newCmdTrajectory() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "trajectory",
		Short: "Order cells along a minimum spanning tree of cluster centroids",
		Long: `
Trajectory connects the cluster centroids in PC space by their minimum
spanning tree, roots it at the chosen cluster and assigns each cell a
pseudotime: the tree distance to its cluster plus the cell's projection onto
the edge joining the cluster to its parent. Cells never hold more than the
component matrix; the full expression matrix is not touched.
`,
		ArgsName: "in.sds pca.rio clusters.rio",
	}
	flags := trajectoryFlags{}
	cmd.Flags.StringVar(&flags.out, "o", "trajectory.rio", "Output artifact filename")
	cmd.Flags.StringVar(&flags.plot, "plot", "", "Write the tree overlaid on the embedding to this PNG")
	cmd.Flags.StringVar(&flags.cells, "cells", "", "Write the per-cell table to this TSV")
	cmd.Flags.IntVar(&flags.root, "root", trajectory.DefaultOpts.Root, "Cluster id to root the tree at")
	cmd.Flags.IntVar(&flags.usePCs, "use-pcs", singlecell.DefaultOpts.UsePCs, "Number of leading components to use")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 3 {
			return errors.Errorf("trajectory takes a dataset, a pca artifact and a cluster artifact, got %v", argv)
		}
		return runTrajectory(argv[0], argv[1], argv[2], flags)
	})
	return cmd
}

func runTrajectory(in, pcaPath, clustersPath string, flags trajectoryFlags) error {
	ctx := vcontext.Background()
	d, err := sds.ReadDataset(ctx, in)
	if err != nil {
		return err
	}
	fp := singlecell.ComputeFingerprint(d)
	p, err := loadPCA(ctx, pcaPath, fp)
	if err != nil {
		return err
	}
	ca, err := loadCluster(ctx, clustersPath, fp)
	if err != nil {
		return err
	}
	if err := applyLabels(d, ca.Labels); err != nil {
		return err
	}

	scores := topScores(p, flags.usePCs)
	topts := trajectory.DefaultOpts
	topts.Root = flags.root
	tr, err := trajectory.Infer(scores, ca.Labels, topts)
	if err != nil {
		return err
	}
	for i := range d.Cells {
		d.Cells[i].Pseudotime = tr.Pseudotime[i]
	}

	_, used := scores.Dims()
	a := trajectoryArtifact{
		Root:         flags.root,
		UsePCs:       used,
		Edges:        tr.Edges,
		Parent:       tr.Parent,
		CentroidTime: tr.CentroidTime,
		Limb:         tr.Limb,
		Pseudotime:   tr.Pseudotime,
		Branch:       tr.Branch,
	}
	if err := sds.WriteArtifact(ctx, flags.out, trajectoryKind, fp, &a); err != nil {
		return err
	}
	if flags.plot != "" {
		if err := render.TrajectoryOverlay(ctx, flags.plot, ca.embedding(), ca.Labels, tr); err != nil {
			return err
		}
	}
	if flags.cells != "" {
		return writeCellTable(ctx, flags.cells, d, ca.embedding())
	}
	return nil
}
