package render

import (
	"context"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/singlecell"
)

// QCPanels draws the three per-cell QC distributions side by side, the
// figure used to choose filter thresholds.
func QCPanels(ctx context.Context, path string, cells []singlecell.Cell) error {
	if len(cells) == 0 {
		return errors.New("render: no cells to draw")
	}
	features := make(plotter.Values, len(cells))
	counts := make(plotter.Values, len(cells))
	mito := make(plotter.Values, len(cells))
	for j := range cells {
		features[j] = float64(cells[j].Features)
		counts[j] = cells[j].Counts
		mito[j] = cells[j].PctMito
	}

	panels := []struct {
		name string
		vals plotter.Values
	}{
		{"nFeature_RNA", features},
		{"nCount_RNA", counts},
		{"percent.mt", mito},
	}
	plots := [][]*plot.Plot{make([]*plot.Plot, len(panels))}
	for i, panel := range panels {
		p := plot.New()
		b, err := plotter.NewBoxPlot(vg.Points(40), 0, panel.vals)
		if err != nil {
			return errors.Wrapf(err, "box plot %s", panel.name)
		}
		p.Add(b)
		p.NominalX(panel.name)
		plots[0][i] = p
	}

	img := vgimg.New(3*panelWidth, panelHeight)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: 1,
		Cols: len(panels),
		PadX: vg.Millimeter * 2,
		PadY: vg.Millimeter * 2,
	}
	canvases := plot.Align(plots, tiles, dc)
	for i := range plots[0] {
		plots[0][i].Draw(canvases[0][i])
	}
	return writeCanvas(ctx, path, img)
}

// Elbow draws per-component standard deviations, the figure used to choose
// how many components carry signal.
func Elbow(ctx context.Context, path string, stdev []float64) error {
	if len(stdev) == 0 {
		return errors.New("render: no components to draw")
	}
	p := plot.New()
	p.Title.Text = "Elbow"
	p.X.Label.Text = "PC"
	p.Y.Label.Text = "Standard deviation"
	xys := make(plotter.XYs, len(stdev))
	for k, sd := range stdev {
		xys[k] = plotter.XY{X: float64(k + 1), Y: sd}
	}
	if err := plotutil.AddLinePoints(p, xys); err != nil {
		return errors.Wrap(err, "elbow")
	}
	return writePlot(ctx, path, p, elbowWidth, elbowHeight)
}
