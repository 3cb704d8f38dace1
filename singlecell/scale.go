package singlecell

import (
	"fmt"
	"math"
	"runtime"

	"github.com/grailbio/base/traverse"
	"gonum.org/v1/gonum/mat"
)

// ScaleHVG densifies the highly variable genes into a cells × genes matrix of
// z-scored normalized expression, the input to PCA. Each gene column is
// centered and scaled to unit variance, then clipped to
// [-opts.ScaleMax, opts.ScaleMax]; without the clip a few outlier cells can
// own an entire principal component. Columns follow HVG rank order. Only the
// selected genes are densified, which keeps the footprint at
// cells × opts.TopGenes instead of cells × genes.
//
// REQUIRES: LogNormalize and SelectHVG have run.
func ScaleHVG(d *Dataset, opts Opts) (*mat.Dense, []int, error) {
	if d.LogNorm == nil {
		return nil, nil, fmt.Errorf("scale: dataset has no normalized layer")
	}
	hvg := d.HVGIndices()
	if len(hvg) == 0 {
		return nil, nil, fmt.Errorf("scale: no highly variable genes selected")
	}
	if opts.ScaleMax <= 0 {
		return nil, nil, fmt.Errorf("scale: clip bound %v must be positive", opts.ScaleMax)
	}
	nCells := d.NCells()
	if nCells < 2 {
		return nil, nil, fmt.Errorf("scale: need at least two cells, have %d", nCells)
	}
	d.EnsureCSR()
	scaled := mat.NewDense(nCells, len(hvg), nil)
	parallelism := runtime.NumCPU()
	_ = traverse.Each(parallelism, func(jobIdx int) error {
		startIdx := (jobIdx * len(hvg)) / parallelism
		endIdx := ((jobIdx + 1) * len(hvg)) / parallelism
		for k := startIdx; k < endIdx; k++ {
			cells, pos := d.GeneEntries(hvg[k])
			var sum, sumSq float64
			for _, p := range pos {
				v := float64(d.LogNorm[p])
				sum += v
				sumSq += v * v
			}
			mean := sum / float64(nCells)
			variance := (sumSq - float64(nCells)*mean*mean) / float64(nCells-1)
			sd := math.Sqrt(math.Max(variance, 0))
			if sd == 0 {
				continue // constant gene scales to all zeros
			}
			clip := func(v float64) float64 {
				z := (v - mean) / sd
				if z > opts.ScaleMax {
					return opts.ScaleMax
				}
				if z < -opts.ScaleMax {
					return -opts.ScaleMax
				}
				return z
			}
			zero := clip(0)
			for j := 0; j < nCells; j++ {
				scaled.Set(j, k, zero)
			}
			for i, c := range cells {
				scaled.Set(int(c), k, clip(float64(d.LogNorm[pos[i]])))
			}
		}
		return nil
	})
	return scaled, hvg, nil
}
