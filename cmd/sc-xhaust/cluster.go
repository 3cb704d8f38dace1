package main

import (
	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/cluster"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/encoding/sds"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/neighbors"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/render"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/singlecell"
	"github.com/pkg/errors"
	"v.io/x/lib/cmdline"
)

// clusterFlags holds the cluster verb knobs.
type clusterFlags struct {
	out        string
	plot       string
	usePCs     int
	k          int
	prune      float64
	resolution float64
	maxEmbed   int
	seed       int64
}

func newCmdCluster() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "cluster",
		Short: "Build the neighbor graph, partition it and embed cells in 2-D",
		Long: `
Cluster consumes the leading principal components: it finds each cell's k
nearest neighbors, rewires them into a shared-nearest-neighbor graph weighted
by neighborhood overlap, and partitions that graph by modularity at a fixed
resolution. Labels are renumbered so cluster 0 is the largest. A spectral
2-D embedding of the same graph is stored for plotting.

The pca.rio argument must come from the same dataset: fingerprints are
compared and a mismatch is an error.
`,
		ArgsName: "in.sds pca.rio",
	}
	flags := clusterFlags{}
	cmd.Flags.StringVar(&flags.out, "o", "clusters.rio", "Output artifact filename")
	cmd.Flags.StringVar(&flags.plot, "plot", "", "Write the cluster scatter to this PNG")
	cmd.Flags.IntVar(&flags.usePCs, "use-pcs", singlecell.DefaultOpts.UsePCs, "Number of leading components to use")
	cmd.Flags.IntVar(&flags.k, "k", neighbors.DefaultOpts.K, "Neighbors per cell")
	cmd.Flags.Float64Var(&flags.prune, "prune", neighbors.DefaultOpts.Prune, "Drop SNN edges with Jaccard weight below this")
	cmd.Flags.Float64Var(&flags.resolution, "resolution", cluster.DefaultOpts.Resolution, "Modularity resolution; higher yields more clusters")
	cmd.Flags.IntVar(&flags.maxEmbed, "max-embed-cells", cluster.DefaultOpts.MaxEmbedCells, "Cells beyond this count are placed from their neighbors instead of eigendecomposed")
	cmd.Flags.Int64Var(&flags.seed, "seed", cluster.DefaultOpts.Seed, "Seed for embedding downsampling")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 2 {
			return errors.Errorf("cluster takes a dataset and a pca artifact, got %v", argv)
		}
		return runCluster(argv[0], argv[1], flags)
	})
	return cmd
}

func runCluster(in, pcaPath string, flags clusterFlags) error {
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
	scores := topScores(p, flags.usePCs)

	knn, err := neighbors.Compute(scores, flags.k)
	if err != nil {
		return err
	}
	g := knn.SNN(flags.prune)

	copts := cluster.DefaultOpts
	copts.Resolution = flags.resolution
	copts.MaxEmbedCells = flags.maxEmbed
	copts.Seed = flags.seed
	labels, err := cluster.Partition(g, copts)
	if err != nil {
		return err
	}
	emb, err := cluster.Embed(g, copts)
	if err != nil {
		return err
	}

	a := clusterArtifact{
		Labels:     labels,
		X:          emb.X,
		Y:          emb.Y,
		Sampled:    emb.Sampled,
		Edges:      g.Edges,
		K:          flags.k,
		Prune:      flags.prune,
		Resolution: flags.resolution,
	}
	if err := sds.WriteArtifact(ctx, flags.out, clusterKind, fp, &a); err != nil {
		return err
	}
	if flags.plot != "" {
		return render.ClusterScatter(ctx, flags.plot, emb, labels)
	}
	return nil
}
