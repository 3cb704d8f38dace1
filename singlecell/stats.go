package singlecell

// QCStats summarizes a quality-control pass over a dataset.
type QCStats struct {
	// Cells is the total number of cells examined.
	Cells int
	// Kept is the number of cells that passed every filter.
	Kept int
	// LowFeatures is the # of cells dropped for too few detected genes.
	LowFeatures int
	// HighFeatures is the # of cells dropped for too many detected genes
	// (doublet suspects).
	HighFeatures int
	// HighMito is the # of cells dropped for excessive mitochondrial
	// percentage. A cell failing both a feature bound and the mito bound is
	// counted under the feature bound only.
	HighMito int
	// MitoGenes is the number of genes flagged as mitochondrial.
	MitoGenes int
}

// Merge adds the field values of the two QCStats objects and creates new
// QCStats.
func (s QCStats) Merge(o QCStats) QCStats {
	s.Cells += o.Cells
	s.Kept += o.Kept
	s.LowFeatures += o.LowFeatures
	s.HighFeatures += o.HighFeatures
	s.HighMito += o.HighMito
	s.MitoGenes += o.MitoGenes
	return s
}
