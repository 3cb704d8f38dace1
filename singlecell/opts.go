package singlecell

type Opts struct {
	// MinFeatures and MaxFeatures bound the number of detected genes per
	// cell.  Both bounds are exclusive: a cell survives QC iff
	// MinFeatures < Features < MaxFeatures.  Cells below the floor are
	// likely empty droplets or debris; cells above the ceiling are likely
	// doublets.
	MinFeatures int
	MaxFeatures int

	// MaxPctMito is the exclusive upper bound on the percentage of counts in
	// mitochondrial genes. High-mito cells are dying or lysed.
	MaxPctMito float64
	// MitoPrefix identifies mitochondrial genes by symbol prefix.
	MitoPrefix string

	// ScaleFactor rescales per-cell totals before the log1p transform, so
	// normalized values are comparable across cells of different depth.
	ScaleFactor float64

	// TopGenes is the number of highly variable genes to keep.
	TopGenes int
	// DispersionBins is the number of equal-width mean-expression bins used
	// to standardize dispersions when ranking variable genes.
	DispersionBins int

	// ScaleMax clips scaled expression to [-ScaleMax, ScaleMax] so a handful
	// of extreme cells cannot dominate a component.
	ScaleMax float64

	// MaxPCs is the number of principal components computed and stored.
	MaxPCs int
	// UsePCs is the number of leading components the graph and trajectory
	// stages consume.  Clamped to MaxPCs.
	UsePCs int
}

// DefaultOpts sets the default values to Opts.
var DefaultOpts = Opts{
	MinFeatures:    200,   // -min-features
	MaxFeatures:    2500,  // -max-features
	MaxPctMito:     5.0,   // -max-pct-mito, a percentage not a fraction
	MitoPrefix:     "MT-", // -mito-prefix; human symbols. Mouse needs "mt-".
	ScaleFactor:    1e4,   // -scale-factor
	TopGenes:       2000,  // -top-genes
	DispersionBins: 20,    // no flag
	ScaleMax:       10,    // -scale-max
	MaxPCs:         50,    // -max-pcs
	UsePCs:         10,    // -use-pcs
}
