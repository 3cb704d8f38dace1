package main

import (
	"context"
	"io"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/barcode"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/encoding/cellranger"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/encoding/sds"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/render"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/singlecell"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"v.io/x/lib/cmdline"
)

func newCmdIngest() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "ingest",
		Short: "Import a count matrix triplet directory",
		Long: `
Ingest reads a Cell Ranger style triplet directory (matrix.mtx, features.tsv
or genes.tsv, barcodes.tsv, each optionally gzipped), marks mitochondrial
genes by symbol prefix and writes a single dataset file. With -whitelist,
cell barcodes one substitution away from a whitelist entry are snapped to it
before duplicate barcodes are rejected.
`,
		ArgsName: "triplet-dir",
	}
	outFlag := cmd.Flags.String("o", "dataset.sds", "Output dataset filename")
	whitelistFlag := cmd.Flags.String("whitelist", "", "Barcode whitelist, one barcode per line, optionally gzipped. Enables single-substitution correction.")
	mitoFlag := cmd.Flags.String("mito-prefix", singlecell.DefaultOpts.MitoPrefix, "Gene symbol prefix that marks a mitochondrial gene")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return errors.Errorf("ingest takes one triplet directory, got %v", argv)
		}
		return runIngest(argv[0], *outFlag, *whitelistFlag, *mitoFlag)
	})
	return cmd
}

func runIngest(dir, out, whitelist, mitoPrefix string) error {
	ctx := vcontext.Background()
	d, err := cellranger.ReadMatrixDir(ctx, dir)
	if err != nil {
		return err
	}
	if whitelist != "" {
		if err := correctBarcodes(ctx, d, whitelist); err != nil {
			return err
		}
	}
	nMito := d.MarkMito(mitoPrefix)
	log.Printf("ingest: %d genes x %d cells, %d entries, %d mitochondrial genes",
		len(d.Genes), len(d.Cells), len(d.Counts), nMito)
	return sds.WriteDataset(ctx, out, d)
}

// maybeGzip wraps the reader in a gzip decompressor when the path says so.
func maybeGzip(reader io.Reader, path string) (io.Reader, error) {
	if fileio.DetermineType(path) == fileio.Gzip {
		return gzip.NewReader(reader)
	}
	return reader, nil
}

func correctBarcodes(ctx context.Context, d *singlecell.Dataset, path string) (err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, in, &err)
	reader, err := maybeGzip(in.Reader(ctx), path)
	if err != nil {
		return err
	}
	corrector, err := barcode.NewCorrector(reader)
	if err != nil {
		return err
	}
	bcs := make([]string, len(d.Cells))
	for i := range d.Cells {
		bcs[i] = d.Cells[i].Barcode
	}
	if _, err := barcode.CorrectAll(bcs, corrector); err != nil {
		return err
	}
	for i := range d.Cells {
		d.Cells[i].Barcode = bcs[i]
	}
	return nil
}

func newCmdQC() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "qc",
		Short: "Filter cells on features, counts and mitochondrial content",
		Long: `
QC computes per-cell metrics (detected features, total counts, mitochondrial
percentage) and keeps the cells strictly inside the feature bounds and
strictly under the mito cutoff. The violin panels, when requested, show the
metric distributions before filtering.
`,
		ArgsName: "in.sds",
	}
	outFlag := cmd.Flags.String("o", "filtered.sds", "Output dataset filename")
	plotFlag := cmd.Flags.String("plot", "", "Write pre-filter QC panels to this PNG")
	minFeat := cmd.Flags.Int("min-features", singlecell.DefaultOpts.MinFeatures, "Exclusive lower bound on detected features per cell")
	maxFeat := cmd.Flags.Int("max-features", singlecell.DefaultOpts.MaxFeatures, "Exclusive upper bound on detected features per cell")
	maxMito := cmd.Flags.Float64("max-pct-mito", singlecell.DefaultOpts.MaxPctMito, "Exclusive upper bound on mitochondrial percentage")
	mitoFlag := cmd.Flags.String("mito-prefix", singlecell.DefaultOpts.MitoPrefix, "Gene symbol prefix that marks a mitochondrial gene")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return errors.Errorf("qc takes one dataset, got %v", argv)
		}
		opts := singlecell.DefaultOpts
		opts.MinFeatures = *minFeat
		opts.MaxFeatures = *maxFeat
		opts.MaxPctMito = *maxMito
		opts.MitoPrefix = *mitoFlag
		return runQC(argv[0], *outFlag, *plotFlag, opts)
	})
	return cmd
}

func runQC(in, out, plot string, opts singlecell.Opts) error {
	ctx := vcontext.Background()
	d, err := sds.ReadDataset(ctx, in)
	if err != nil {
		return err
	}
	singlecell.ComputeMetrics(d, opts)
	if plot != "" {
		if err := render.QCPanels(ctx, plot, d.Cells); err != nil {
			return err
		}
	}
	filtered, _, err := singlecell.FilterCells(d, opts)
	if err != nil {
		return err
	}
	return sds.WriteDataset(ctx, out, filtered)
}

func newCmdNormalize() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "normalize",
		Short: "Log-normalize counts and rank highly variable genes",
		Long: `
Normalize divides each cell by its total counts, rescales and applies
log1p, storing the result as a second layer next to the raw counts. It then
ranks genes by dispersion standardized within mean-expression bins and
records the top ranks on the gene table.
`,
		ArgsName: "in.sds",
	}
	outFlag := cmd.Flags.String("o", "normalized.sds", "Output dataset filename")
	hvgFlag := cmd.Flags.String("hvg", "", "Write the variable-gene table to this TSV")
	scaleFactor := cmd.Flags.Float64("scale-factor", singlecell.DefaultOpts.ScaleFactor, "Per-cell total after depth rescaling")
	topGenes := cmd.Flags.Int("top-genes", singlecell.DefaultOpts.TopGenes, "Number of highly variable genes to keep")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return errors.Errorf("normalize takes one dataset, got %v", argv)
		}
		opts := singlecell.DefaultOpts
		opts.ScaleFactor = *scaleFactor
		opts.TopGenes = *topGenes
		return runNormalize(argv[0], *outFlag, *hvgFlag, opts)
	})
	return cmd
}

func runNormalize(in, out, hvgOut string, opts singlecell.Opts) error {
	ctx := vcontext.Background()
	d, err := sds.ReadDataset(ctx, in)
	if err != nil {
		return err
	}
	if err := singlecell.LogNormalize(d, opts); err != nil {
		return err
	}
	stats, err := singlecell.SelectHVG(d, opts)
	if err != nil {
		return err
	}
	if hvgOut != "" {
		if err := writeHVGTable(ctx, hvgOut, d, stats); err != nil {
			return err
		}
	}
	return sds.WriteDataset(ctx, out, d)
}

func newCmdReduce() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "reduce",
		Short: "Scale variable genes and compute principal components",
		Long: `
Reduce z-scores the highly variable genes, clips extremes and runs a thin
SVD, writing the component scores, loadings and stdevs as a pca artifact.
The elbow plot of component stdevs guides the choice of -use-pcs downstream.
`,
		ArgsName: "in.sds",
	}
	outFlag := cmd.Flags.String("o", "pca.rio", "Output artifact filename")
	elbowFlag := cmd.Flags.String("elbow", "", "Write the component stdev elbow plot to this PNG")
	scaleMax := cmd.Flags.Float64("scale-max", singlecell.DefaultOpts.ScaleMax, "Clip scaled expression to this magnitude")
	maxPCs := cmd.Flags.Int("max-pcs", singlecell.DefaultOpts.MaxPCs, "Number of components to compute and store")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return errors.Errorf("reduce takes one dataset, got %v", argv)
		}
		opts := singlecell.DefaultOpts
		opts.ScaleMax = *scaleMax
		opts.MaxPCs = *maxPCs
		return runReduce(argv[0], *outFlag, *elbowFlag, opts)
	})
	return cmd
}

func runReduce(in, out, elbow string, opts singlecell.Opts) error {
	ctx := vcontext.Background()
	d, err := sds.ReadDataset(ctx, in)
	if err != nil {
		return err
	}
	scaled, genes, err := singlecell.ScaleHVG(d, opts)
	if err != nil {
		return err
	}
	p, err := singlecell.ComputePCA(scaled, genes, opts)
	if err != nil {
		return err
	}
	a := pcaArtifact{
		Scores:   sds.NewMatrix(p.Scores),
		Loadings: sds.NewMatrix(p.Loadings),
		Stdev:    p.Stdev,
		Genes:    p.Genes,
	}
	if err := sds.WriteArtifact(ctx, out, pcaKind, singlecell.ComputeFingerprint(d), &a); err != nil {
		return err
	}
	if elbow != "" {
		return render.Elbow(ctx, elbow, p.Stdev)
	}
	return nil
}
