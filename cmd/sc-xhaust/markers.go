package main

import (
	"context"
	"fmt"
	"os"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/diffexp"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/encoding/sds"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/render"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/singlecell"
	"github.com/pkg/errors"
	"v.io/x/lib/cmdline"
)

type markersFlags struct {
	dir          string
	minPct       float64
	minLogFC     float64
	onlyPositive bool
	topMarkers   int
	heatmapGenes int
}

func newCmdMarkers() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "markers",
		Short: "Rank marker genes for every cluster",
		Long: `
Markers compares each cluster against all other cells with a rank-sum test
on the log-normalized layer, adjusts p-values per cluster and keeps the top
genes by adjusted p. One CSV table is written per cluster, plus a heatmap of
the leading markers and a manifest of everything produced.
`,
		ArgsName: "in.sds clusters.rio",
	}
	flags := markersFlags{}
	cmd.Flags.StringVar(&flags.dir, "o", "markers", "Output directory")
	cmd.Flags.Float64Var(&flags.minPct, "min-pct", diffexp.DefaultOpts.MinPct, "Test only genes detected in this fraction of either population")
	cmd.Flags.Float64Var(&flags.minLogFC, "min-logfc", diffexp.DefaultOpts.MinLogFC, "Test only genes with at least this log2 fold change")
	cmd.Flags.BoolVar(&flags.onlyPositive, "only-positive", diffexp.DefaultOpts.OnlyPositive, "Report upregulated markers only")
	cmd.Flags.IntVar(&flags.topMarkers, "top-markers", diffexp.DefaultOpts.TopMarkers, "Markers kept per cluster; 0 keeps all")
	cmd.Flags.IntVar(&flags.heatmapGenes, "heatmap-genes", 10, "Markers per cluster on the heatmap")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 2 {
			return errors.Errorf("markers takes a dataset and a cluster artifact, got %v", argv)
		}
		return runMarkers(argv[0], argv[1], flags)
	})
	return cmd
}

func runMarkers(in, clustersPath string, flags markersFlags) error {
	ctx := vcontext.Background()
	d, err := sds.ReadDataset(ctx, in)
	if err != nil {
		return err
	}
	fp := singlecell.ComputeFingerprint(d)
	ca, err := loadCluster(ctx, clustersPath, fp)
	if err != nil {
		return err
	}
	if err := applyLabels(d, ca.Labels); err != nil {
		return err
	}

	opts := diffexp.DefaultOpts
	opts.MinPct = flags.minPct
	opts.MinLogFC = flags.minLogFC
	opts.OnlyPositive = flags.onlyPositive
	opts.TopMarkers = flags.topMarkers
	markers, err := diffexp.FindAll(d, opts)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(flags.dir, 0775); err != nil {
		return err
	}
	var written []string
	for _, id := range d.ClusterIDs() {
		var sub []diffexp.Marker
		for _, m := range markers {
			if m.Cluster == id {
				sub = append(sub, m)
			}
		}
		name := fmt.Sprintf("cluster-%d.markers.csv", id)
		if err := writeMarkerCSV(ctx, flags.dir+"/"+name, sub); err != nil {
			return err
		}
		written = append(written, name)
	}

	genes, clusters, z, err := diffexp.MarkerMatrix(d, markers, flags.heatmapGenes)
	if err != nil {
		return err
	}
	if len(genes) > 0 {
		if err := render.MarkerHeatmap(ctx, flags.dir+"/heatmap.png", genes, clusters, z); err != nil {
			return err
		}
		written = append(written, "heatmap.png")
	}
	return writeManifest(ctx, flags.dir, fp, opts, written)
}

func writeMarkerCSV(ctx context.Context, path string, markers []diffexp.Marker) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	return diffexp.WriteCSV(out.Writer(ctx), markers)
}

func newCmdAnnotate() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "annotate",
		Short: "Apply a cluster-to-cell-type table",
		Long: `
Annotate assigns a cell type to every cell through its cluster, from a
hand-curated table of "cluster<TAB>label" lines. The table must cover every
cluster present unless -allow-unassigned is set, in which case uncovered
clusters keep an empty type.
`,
		ArgsName: "in.sds clusters.rio",
	}
	typesFlag := cmd.Flags.String("types", "", "Cell type table: one cluster<TAB>label per line (required)")
	outFlag := cmd.Flags.String("o", "annotated.sds", "Output dataset filename")
	allowFlag := cmd.Flags.Bool("allow-unassigned", false, "Permit clusters missing from the table")
	cellsFlag := cmd.Flags.String("cells", "", "Write the per-cell table to this TSV")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 2 {
			return errors.Errorf("annotate takes a dataset and a cluster artifact, got %v", argv)
		}
		if *typesFlag == "" {
			return errors.New("annotate requires -types")
		}
		return runAnnotate(argv[0], argv[1], *typesFlag, *outFlag, *cellsFlag, *allowFlag)
	})
	return cmd
}

func runAnnotate(in, clustersPath, typesPath, out, cellsOut string, allowUnassigned bool) error {
	ctx := vcontext.Background()
	d, err := sds.ReadDataset(ctx, in)
	if err != nil {
		return err
	}
	ca, err := loadCluster(ctx, clustersPath, singlecell.ComputeFingerprint(d))
	if err != nil {
		return err
	}
	if err := applyLabels(d, ca.Labels); err != nil {
		return err
	}
	m, err := readCellTypes(ctx, typesPath)
	if err != nil {
		return err
	}
	if err := singlecell.Annotate(d, m, allowUnassigned); err != nil {
		return err
	}
	names, counts := singlecell.CellTypeCounts(d)
	for i, name := range names {
		log.Printf("annotate: %6d cells  %s", counts[i], name)
	}
	if cellsOut != "" {
		if err := writeCellTable(ctx, cellsOut, d, ca.embedding()); err != nil {
			return err
		}
	}
	return sds.WriteDataset(ctx, out, d)
}

func readCellTypes(ctx context.Context, path string) (m singlecell.CellTypeMap, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	return singlecell.ParseCellTypes(in.Reader(ctx))
}
