package singlecell

import (
	"fmt"
	"math"
	"runtime"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
)

// HVGStat holds the variability statistics of one gene.
type HVGStat struct {
	// Gene indexes Dataset.Genes.
	Gene int
	// Mean is the mean of the de-logged normalized expression over all cells.
	Mean float64
	// Dispersion is variance over mean of the same values.
	Dispersion float64
	// Standardized is the dispersion z-scored within the gene's
	// mean-expression bin. Binning stops highly expressed genes from
	// monopolizing the ranking just because expression variance grows with
	// expression mean.
	Standardized float64
	// Rank is 1 for the most variable selected gene, 0 if not selected.
	Rank int
}

// SelectHVG ranks genes by standardized dispersion, marks the top
// opts.TopGenes of them in d.Genes[].HVGRank, and returns the statistics of
// every expressed gene sorted most variable first.
//
// REQUIRES: LogNormalize has run.
func SelectHVG(d *Dataset, opts Opts) ([]HVGStat, error) {
	if d.LogNorm == nil {
		return nil, fmt.Errorf("hvg: dataset has no normalized layer")
	}
	if opts.TopGenes <= 0 || opts.DispersionBins <= 0 {
		return nil, fmt.Errorf("hvg: top-genes %d and bins %d must be positive", opts.TopGenes, opts.DispersionBins)
	}
	d.EnsureCSR()
	nCells := float64(d.NCells())
	if nCells < 2 {
		return nil, fmt.Errorf("hvg: need at least two cells, have %d", d.NCells())
	}
	means := make([]float64, d.NGenes())
	disps := make([]float64, d.NGenes())
	parallelism := runtime.NumCPU()
	_ = traverse.Each(parallelism, func(jobIdx int) error {
		startIdx := (jobIdx * d.NGenes()) / parallelism
		endIdx := ((jobIdx + 1) * d.NGenes()) / parallelism
		for g := startIdx; g < endIdx; g++ {
			_, pos := d.GeneEntries(g)
			var sum, sumSq float64
			for _, p := range pos {
				// Undo the log so dispersion is computed on the
				// depth-corrected counts.
				v := math.Expm1(float64(d.LogNorm[p]))
				sum += v
				sumSq += v * v
			}
			mean := sum / nCells
			means[g] = mean
			if mean > 0 {
				variance := (sumSq - nCells*mean*mean) / (nCells - 1)
				disps[g] = variance / mean
			}
		}
		return nil
	})

	stats := make([]HVGStat, 0, d.NGenes())
	minMean, maxMean := math.Inf(1), math.Inf(-1)
	for g := range d.Genes {
		d.Genes[g].HVGRank = 0
		if means[g] <= 0 {
			continue
		}
		stats = append(stats, HVGStat{Gene: g, Mean: means[g], Dispersion: disps[g]})
		minMean = math.Min(minMean, means[g])
		maxMean = math.Max(maxMean, means[g])
	}
	if len(stats) == 0 {
		return nil, fmt.Errorf("hvg: no expressed genes")
	}

	// Equal-width bins over the observed mean range.
	binOf := func(mean float64) int {
		if maxMean == minMean {
			return 0
		}
		b := int(float64(opts.DispersionBins) * (mean - minMean) / (maxMean - minMean))
		if b >= opts.DispersionBins {
			b = opts.DispersionBins - 1
		}
		return b
	}
	binN := make([]int, opts.DispersionBins)
	binSum := make([]float64, opts.DispersionBins)
	binSumSq := make([]float64, opts.DispersionBins)
	for i := range stats {
		b := binOf(stats[i].Mean)
		binN[b]++
		binSum[b] += stats[i].Dispersion
		binSumSq[b] += stats[i].Dispersion * stats[i].Dispersion
	}
	for i := range stats {
		s := &stats[i]
		b := binOf(s.Mean)
		mean := binSum[b] / float64(binN[b])
		switch {
		case binN[b] == 1:
			// A lone gene defines its own bin; score it 1 so it stays
			// eligible without dominating.
			if s.Dispersion > 0 {
				s.Standardized = 1
			}
		default:
			variance := (binSumSq[b] - float64(binN[b])*mean*mean) / float64(binN[b]-1)
			if sd := math.Sqrt(math.Max(variance, 0)); sd > 0 {
				s.Standardized = (s.Dispersion - mean) / sd
			}
		}
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Standardized != stats[j].Standardized {
			return stats[i].Standardized > stats[j].Standardized
		}
		return stats[i].Gene < stats[j].Gene
	})
	n := opts.TopGenes
	if n > len(stats) {
		n = len(stats)
	}
	for i := 0; i < n; i++ {
		stats[i].Rank = i + 1
		d.Genes[stats[i].Gene].HVGRank = i + 1
	}
	log.Printf("hvg: selected %d of %d expressed genes (%d total)", n, len(stats), d.NGenes())
	return stats, nil
}

// HVGIndices returns the gene indices of the selected highly variable genes
// in rank order.
func (d *Dataset) HVGIndices() []int {
	type ranked struct{ gene, rank int }
	var sel []ranked
	for g := range d.Genes {
		if r := d.Genes[g].HVGRank; r > 0 {
			sel = append(sel, ranked{g, r})
		}
	}
	sort.Slice(sel, func(i, j int) bool { return sel[i].rank < sel[j].rank })
	out := make([]int, len(sel))
	for i, s := range sel {
		out[i] = s.gene
	}
	return out
}
