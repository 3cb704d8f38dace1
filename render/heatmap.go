package render

import (
	"context"
	"math"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
)

// markerGrid adapts a genes × clusters matrix to the heat map's grid, with
// the first gene row at the top of the figure.
type markerGrid struct {
	clusters []int
	nGenes   int
	z        *mat.Dense
}

func (g markerGrid) Dims() (c, r int)   { return len(g.clusters), g.nGenes }
func (g markerGrid) Z(c, r int) float64 { return g.z.At(g.nGenes-1-r, c) }
func (g markerGrid) X(c int) float64    { return float64(g.clusters[c]) }
func (g markerGrid) Y(r int) float64    { return float64(r) }

// MarkerHeatmap draws a genes × clusters expression matrix, typically
// row-scaled mean expression of the top markers. The blue-red palette is
// centered on zero.
func MarkerHeatmap(ctx context.Context, path string, genes []string, clusters []int, z *mat.Dense) error {
	nr, nc := z.Dims()
	if nr != len(genes) || nc != len(clusters) {
		return errors.Errorf("render: %d×%d matrix for %d genes × %d clusters", nr, nc, len(genes), len(clusters))
	}
	if nr == 0 || nc == 0 {
		return errors.New("render: empty heatmap")
	}

	grid := markerGrid{clusters: clusters, nGenes: nr, z: z}
	hm := plotter.NewHeatMap(grid, moreland.SmoothBlueRed().Palette(255))
	amax := math.Max(math.Abs(hm.Min), math.Abs(hm.Max))
	if amax == 0 {
		amax = 1
	}
	hm.Min, hm.Max = -amax, amax

	p := plot.New()
	p.Title.Text = "Top markers"
	p.X.Label.Text = "cluster"
	p.Add(hm)

	xticks := make([]plot.Tick, len(clusters))
	for c, id := range clusters {
		xticks[c] = plot.Tick{Value: float64(id), Label: strconv.Itoa(id)}
	}
	p.X.Tick.Marker = plot.ConstantTicks(xticks)
	yticks := make([]plot.Tick, len(genes))
	for r := range genes {
		yticks[r] = plot.Tick{Value: float64(r), Label: genes[nr-1-r]}
	}
	p.Y.Tick.Marker = plot.ConstantTicks(yticks)

	return writePlot(ctx, path, p, heatmapWidth, heatmapHeight)
}
