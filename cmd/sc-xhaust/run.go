package main

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/cluster"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/diffexp"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/encoding/sds"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/neighbors"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/render"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/singlecell"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/trajectory"
	"github.com/pkg/errors"
	"v.io/x/lib/cmdline"
)

// runConfig mirrors the analysis.toml layout. Absent keys keep the package
// defaults, so an empty or missing file reproduces the stock pipeline.
type runConfig struct {
	Whitelist string `toml:"whitelist"`
	QC        struct {
		MinFeatures int     `toml:"min_features"`
		MaxFeatures int     `toml:"max_features"`
		MaxPctMito  float64 `toml:"max_pct_mito"`
		MitoPrefix  string  `toml:"mito_prefix"`
	} `toml:"qc"`
	Normalize struct {
		ScaleFactor float64 `toml:"scale_factor"`
		TopGenes    int     `toml:"top_genes"`
	} `toml:"normalize"`
	Reduce struct {
		ScaleMax float64 `toml:"scale_max"`
		MaxPCs   int     `toml:"max_pcs"`
		UsePCs   int     `toml:"use_pcs"`
	} `toml:"reduce"`
	Cluster struct {
		K             int     `toml:"k"`
		Prune         float64 `toml:"prune"`
		Resolution    float64 `toml:"resolution"`
		MaxEmbedCells int     `toml:"max_embed_cells"`
		Seed          int64   `toml:"seed"`
	} `toml:"cluster"`
	Markers struct {
		MinPct       float64 `toml:"min_pct"`
		MinLogFC     float64 `toml:"min_logfc"`
		OnlyPositive bool    `toml:"only_positive"`
		TopMarkers   int     `toml:"top_markers"`
		HeatmapGenes int     `toml:"heatmap_genes"`
	} `toml:"markers"`
	Annotate struct {
		Types           string `toml:"types"`
		AllowUnassigned bool   `toml:"allow_unassigned"`
	} `toml:"annotate"`
	Trajectory struct {
		Root int `toml:"root"`
	} `toml:"trajectory"`
}

func defaultRunConfig() runConfig {
	var cfg runConfig
	cfg.QC.MinFeatures = singlecell.DefaultOpts.MinFeatures
	cfg.QC.MaxFeatures = singlecell.DefaultOpts.MaxFeatures
	cfg.QC.MaxPctMito = singlecell.DefaultOpts.MaxPctMito
	cfg.QC.MitoPrefix = singlecell.DefaultOpts.MitoPrefix
	cfg.Normalize.ScaleFactor = singlecell.DefaultOpts.ScaleFactor
	cfg.Normalize.TopGenes = singlecell.DefaultOpts.TopGenes
	cfg.Reduce.ScaleMax = singlecell.DefaultOpts.ScaleMax
	cfg.Reduce.MaxPCs = singlecell.DefaultOpts.MaxPCs
	cfg.Reduce.UsePCs = singlecell.DefaultOpts.UsePCs
	cfg.Cluster.K = neighbors.DefaultOpts.K
	cfg.Cluster.Prune = neighbors.DefaultOpts.Prune
	cfg.Cluster.Resolution = cluster.DefaultOpts.Resolution
	cfg.Cluster.MaxEmbedCells = cluster.DefaultOpts.MaxEmbedCells
	cfg.Cluster.Seed = cluster.DefaultOpts.Seed
	cfg.Markers.MinPct = diffexp.DefaultOpts.MinPct
	cfg.Markers.MinLogFC = diffexp.DefaultOpts.MinLogFC
	cfg.Markers.OnlyPositive = diffexp.DefaultOpts.OnlyPositive
	cfg.Markers.TopMarkers = diffexp.DefaultOpts.TopMarkers
	cfg.Markers.HeatmapGenes = 10
	cfg.Trajectory.Root = trajectory.DefaultOpts.Root
	return cfg
}

func loadRunConfig(path string) (runConfig, error) {
	cfg := defaultRunConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

func newCmdRun() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "run",
		Short: "Execute the whole pipeline on one triplet directory",
		Long: `
Run chains every stage: ingest, qc, normalize, reduce, cluster, markers,
annotate (when a cell type table is given) and trajectory. All intermediate
datasets, artifacts, tables and figures land in the output directory, along
with a manifest checksumming each of them. Stage knobs come from an optional
TOML config; flags on the individual verbs are not consulted.
`,
		ArgsName: "triplet-dir",
	}
	outFlag := cmd.Flags.String("o", "analysis", "Output directory")
	configFlag := cmd.Flags.String("config", "", "TOML config overriding stage defaults")
	typesFlag := cmd.Flags.String("types", "", "Cell type table; overrides the config's annotate.types")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return errors.Errorf("run takes one triplet directory, got %v", argv)
		}
		return runAll(argv[0], *outFlag, *configFlag, *typesFlag)
	})
	return cmd
}

func runAll(dir, outDir, configPath, typesPath string) error {
	cfg, err := loadRunConfig(configPath)
	if err != nil {
		return err
	}
	if typesPath != "" {
		cfg.Annotate.Types = typesPath
	}
	if err := os.MkdirAll(outDir, 0775); err != nil {
		return err
	}
	join := func(name string) string { return outDir + "/" + name }
	var written []string
	step := func(name string, f func() error) error {
		if err := f(); err != nil {
			return errors.Wrap(err, name)
		}
		return nil
	}

	qcOpts := singlecell.DefaultOpts
	qcOpts.MinFeatures = cfg.QC.MinFeatures
	qcOpts.MaxFeatures = cfg.QC.MaxFeatures
	qcOpts.MaxPctMito = cfg.QC.MaxPctMito
	qcOpts.MitoPrefix = cfg.QC.MitoPrefix
	normOpts := qcOpts
	normOpts.ScaleFactor = cfg.Normalize.ScaleFactor
	normOpts.TopGenes = cfg.Normalize.TopGenes
	reduceOpts := normOpts
	reduceOpts.ScaleMax = cfg.Reduce.ScaleMax
	reduceOpts.MaxPCs = cfg.Reduce.MaxPCs
	reduceOpts.UsePCs = cfg.Reduce.UsePCs

	if err := step("ingest", func() error {
		return runIngest(dir, join("dataset.sds"), cfg.Whitelist, cfg.QC.MitoPrefix)
	}); err != nil {
		return err
	}
	written = append(written, "dataset.sds")

	if err := step("qc", func() error {
		return runQC(join("dataset.sds"), join("filtered.sds"), join("qc.png"), qcOpts)
	}); err != nil {
		return err
	}
	written = append(written, "filtered.sds", "qc.png")

	if err := step("normalize", func() error {
		return runNormalize(join("filtered.sds"), join("normalized.sds"), join("hvg.tsv"), normOpts)
	}); err != nil {
		return err
	}
	written = append(written, "normalized.sds", "hvg.tsv")

	if err := step("reduce", func() error {
		return runReduce(join("normalized.sds"), join("pca.rio"), join("elbow.png"), reduceOpts)
	}); err != nil {
		return err
	}
	written = append(written, "pca.rio", "elbow.png")

	if err := step("cluster", func() error {
		return runCluster(join("normalized.sds"), join("pca.rio"), clusterFlags{
			out:        join("clusters.rio"),
			plot:       join("clusters.png"),
			usePCs:     cfg.Reduce.UsePCs,
			k:          cfg.Cluster.K,
			prune:      cfg.Cluster.Prune,
			resolution: cfg.Cluster.Resolution,
			maxEmbed:   cfg.Cluster.MaxEmbedCells,
			seed:       cfg.Cluster.Seed,
		})
	}); err != nil {
		return err
	}
	written = append(written, "clusters.rio", "clusters.png")

	if err := step("markers", func() error {
		return runMarkers(join("normalized.sds"), join("clusters.rio"), markersFlags{
			dir:          join("markers"),
			minPct:       cfg.Markers.MinPct,
			minLogFC:     cfg.Markers.MinLogFC,
			onlyPositive: cfg.Markers.OnlyPositive,
			topMarkers:   cfg.Markers.TopMarkers,
			heatmapGenes: cfg.Markers.HeatmapGenes,
		})
	}); err != nil {
		return err
	}

	// Annotation is optional; trajectory reads whichever dataset is latest so
	// the cell table carries types when they exist.
	finalDataset := "normalized.sds"
	if cfg.Annotate.Types != "" {
		if err := step("annotate", func() error {
			return runAnnotate(join("normalized.sds"), join("clusters.rio"),
				cfg.Annotate.Types, join("annotated.sds"), "", cfg.Annotate.AllowUnassigned)
		}); err != nil {
			return err
		}
		written = append(written, "annotated.sds")
		finalDataset = "annotated.sds"
		if err := step("types plot", func() error {
			return renderTypeScatter(join(finalDataset), join("clusters.rio"), join("types.png"))
		}); err != nil {
			return err
		}
		written = append(written, "types.png")
	}

	if err := step("trajectory", func() error {
		return runTrajectory(join(finalDataset), join("pca.rio"), join("clusters.rio"), trajectoryFlags{
			out:    join("trajectory.rio"),
			plot:   join("trajectory.png"),
			cells:  join("cells.tsv"),
			root:   cfg.Trajectory.Root,
			usePCs: cfg.Reduce.UsePCs,
		})
	}); err != nil {
		return err
	}
	written = append(written, "trajectory.rio", "trajectory.png", "cells.tsv")

	ctx := vcontext.Background()
	d, err := sds.ReadDataset(ctx, join(finalDataset))
	if err != nil {
		return err
	}
	if err := writeManifest(ctx, outDir, singlecell.ComputeFingerprint(d), &cfg, written); err != nil {
		return err
	}
	log.Printf("run: complete, outputs under %s", outDir)
	return nil
}

// renderTypeScatter redraws the embedding colored by cell type.
func renderTypeScatter(datasetPath, clustersPath, out string) error {
	ctx := vcontext.Background()
	d, err := sds.ReadDataset(ctx, datasetPath)
	if err != nil {
		return err
	}
	ca, err := loadCluster(ctx, clustersPath, singlecell.ComputeFingerprint(d))
	if err != nil {
		return err
	}
	types := make([]string, len(d.Cells))
	for i := range d.Cells {
		types[i] = d.Cells[i].CellType
	}
	return render.TypeScatter(ctx, out, ca.embedding(), types)
}
