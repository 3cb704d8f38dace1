package singlecell

import (
	"fmt"
	"math"
	"runtime"

	"github.com/grailbio/base/traverse"
)

// LogNormalize fills the LogNorm layer: each count is scaled by
// opts.ScaleFactor over the cell's total and then log1p-transformed, the
// standard depth correction for droplet data. Sparsity is preserved since
// log1p(0) = 0.
func LogNormalize(d *Dataset, opts Opts) error {
	if opts.ScaleFactor <= 0 {
		return fmt.Errorf("normalize: scale factor %v must be positive", opts.ScaleFactor)
	}
	logNorm := make([]float32, len(d.Counts))
	parallelism := runtime.NumCPU()
	err := traverse.Each(parallelism, func(jobIdx int) error {
		startIdx := (jobIdx * d.NCells()) / parallelism
		endIdx := ((jobIdx + 1) * d.NCells()) / parallelism
		for j := startIdx; j < endIdx; j++ {
			start, end := d.ColPtr[j], d.ColPtr[j+1]
			var total float64
			for p := start; p < end; p++ {
				total += float64(d.Counts[p])
			}
			if total == 0 {
				return fmt.Errorf("normalize: cell %d (%s) has zero counts; run QC first", j, d.Cells[j].Barcode)
			}
			scale := opts.ScaleFactor / total
			for p := start; p < end; p++ {
				logNorm[p] = float32(math.Log1p(float64(d.Counts[p]) * scale))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	d.LogNorm = logNorm
	return nil
}
