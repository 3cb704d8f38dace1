package singlecell

import (
	"fmt"
	"runtime"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
)

// ComputeMetrics fills the per-cell QC fields (Features, Counts, PctMito) and
// flags mitochondrial genes. It must run before FilterCells.
func ComputeMetrics(d *Dataset, opts Opts) QCStats {
	var stats QCStats
	stats.Cells = d.NCells()
	stats.MitoGenes = d.MarkMito(opts.MitoPrefix)
	if stats.MitoGenes == 0 {
		log.Printf("qc: no gene symbol starts with %q; mito percentages will be zero", opts.MitoPrefix)
	}
	parallelism := runtime.NumCPU()
	_ = traverse.Each(parallelism, func(jobIdx int) error {
		startIdx := (jobIdx * d.NCells()) / parallelism
		endIdx := ((jobIdx + 1) * d.NCells()) / parallelism
		for j := startIdx; j < endIdx; j++ {
			genes, counts := d.CellCounts(j)
			var total, mito float64
			for i, g := range genes {
				c := float64(counts[i])
				total += c
				if d.Genes[g].Mito {
					mito += c
				}
			}
			cell := &d.Cells[j]
			cell.Features = len(genes)
			cell.Counts = total
			cell.PctMito = 0
			if total > 0 {
				cell.PctMito = 100 * mito / total
			}
		}
		return nil
	})
	return stats
}

// KeepCell reports whether a cell with the given metrics passes QC. The
// feature bounds and the mito bound are all exclusive.
func KeepCell(features int, pctMito float64, opts Opts) bool {
	return features > opts.MinFeatures &&
		features < opts.MaxFeatures &&
		pctMito < opts.MaxPctMito
}

// FilterCells returns a new dataset holding only the cells that pass QC,
// together with counts of what was dropped and why.
//
// REQUIRES: ComputeMetrics has run.
func FilterCells(d *Dataset, opts Opts) (*Dataset, QCStats, error) {
	if opts.MinFeatures >= opts.MaxFeatures {
		return nil, QCStats{}, fmt.Errorf("qc: feature bounds (%d, %d) are empty", opts.MinFeatures, opts.MaxFeatures)
	}
	var stats QCStats
	stats.Cells = d.NCells()
	keep := make([]int32, 0, d.NCells())
	for j := range d.Cells {
		cell := &d.Cells[j]
		switch {
		case cell.Features <= opts.MinFeatures:
			stats.LowFeatures++
		case cell.Features >= opts.MaxFeatures:
			stats.HighFeatures++
		case cell.PctMito >= opts.MaxPctMito:
			stats.HighMito++
		default:
			keep = append(keep, int32(j))
		}
	}
	stats.Kept = len(keep)
	if stats.Kept == 0 {
		return nil, stats, fmt.Errorf("qc: no cell passed the filters (of %d)", stats.Cells)
	}
	out, err := d.SubsetCells(keep)
	if err != nil {
		return nil, stats, err
	}
	log.Printf("qc: kept %d/%d cells (%d low-feature, %d high-feature, %d high-mito)",
		stats.Kept, stats.Cells, stats.LowFeatures, stats.HighFeatures, stats.HighMito)
	return out, stats, nil
}
