// Package render emits the pipeline's PNG figures with gonum plot. Every
// figure has a fixed canvas size so repeated runs produce comparable files.
package render

import (
	"context"

	"github.com/grailbio/base/file"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

const (
	scatterWidth  = 5.5 * vg.Inch
	scatterHeight = 4.5 * vg.Inch
	panelWidth    = 3 * vg.Inch
	panelHeight   = 4 * vg.Inch
	elbowWidth    = 5 * vg.Inch
	elbowHeight   = 4 * vg.Inch
	heatmapWidth  = 6 * vg.Inch
	heatmapHeight = 6 * vg.Inch
)

func writeCanvas(ctx context.Context, path string, img *vgimg.Canvas) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(out.Writer(ctx)); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

func writePlot(ctx context.Context, path string, p *plot.Plot, w, h vg.Length) error {
	img := vgimg.New(w, h)
	p.Draw(draw.New(img))
	return writeCanvas(ctx, path, img)
}
