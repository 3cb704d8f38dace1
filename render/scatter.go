package render

import (
	"context"
	"image/color"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/cluster"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/trajectory"
)

func glyph(c color.Color) draw.GlyphStyle {
	return draw.GlyphStyle{Color: c, Radius: vg.Points(1.5), Shape: draw.CircleGlyph{}}
}

func embeddingPlot(title string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "EMB_1"
	p.Y.Label.Text = "EMB_2"
	return p
}

func clusterScatterInto(p *plot.Plot, emb *cluster.Embedding, labels []int32) error {
	if len(labels) != len(emb.X) {
		return errors.Errorf("render: %d labels for %d embedded cells", len(labels), len(emb.X))
	}
	max := int32(-1)
	for _, l := range labels {
		if l > max {
			max = l
		}
	}
	for c := int32(0); c <= max; c++ {
		var xys plotter.XYs
		for j, l := range labels {
			if l == c {
				xys = append(xys, plotter.XY{X: emb.X[j], Y: emb.Y[j]})
			}
		}
		if len(xys) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(xys)
		if err != nil {
			return errors.Wrap(err, "cluster scatter")
		}
		sc.GlyphStyle = glyph(plotutil.Color(int(c)))
		p.Add(sc)
		p.Legend.Add(strconv.Itoa(int(c)), sc)
	}
	p.Legend.Top = true
	return nil
}

// ClusterScatter draws the 2-D embedding with one color and legend entry per
// cluster.
func ClusterScatter(ctx context.Context, path string, emb *cluster.Embedding, labels []int32) error {
	p := embeddingPlot("Clusters")
	if err := clusterScatterInto(p, emb, labels); err != nil {
		return err
	}
	return writePlot(ctx, path, p, scatterWidth, scatterHeight)
}

// TypeScatter draws the embedding with one color and legend entry per cell
// type. Cells with an empty type are grouped under "unassigned".
func TypeScatter(ctx context.Context, path string, emb *cluster.Embedding, types []string) error {
	if len(types) != len(emb.X) {
		return errors.Errorf("render: %d types for %d embedded cells", len(types), len(emb.X))
	}
	var names []string
	seen := map[string]bool{}
	for _, t := range types {
		if t == "" {
			t = "unassigned"
		}
		if !seen[t] {
			seen[t] = true
			names = append(names, t)
		}
	}
	sort.Strings(names)

	p := embeddingPlot("Cell types")
	for i, name := range names {
		var xys plotter.XYs
		for j, t := range types {
			if t == "" {
				t = "unassigned"
			}
			if t == name {
				xys = append(xys, plotter.XY{X: emb.X[j], Y: emb.Y[j]})
			}
		}
		sc, err := plotter.NewScatter(xys)
		if err != nil {
			return errors.Wrap(err, "type scatter")
		}
		sc.GlyphStyle = glyph(plotutil.Color(i))
		p.Add(sc)
		p.Legend.Add(name, sc)
	}
	p.Legend.Top = true
	return writePlot(ctx, path, p, scatterWidth, scatterHeight)
}

// FeatureScatter draws the embedding colored by a per-cell value, typically
// the log-normalized expression of one gene.
func FeatureScatter(ctx context.Context, path string, emb *cluster.Embedding, values []float64, name string) error {
	if len(values) != len(emb.X) {
		return errors.Errorf("render: %d values for %d embedded cells", len(values), len(emb.X))
	}
	if len(values) == 0 {
		return errors.New("render: no cells to draw")
	}
	cm := moreland.ExtendedKindlmann()
	lo, hi := floats.Min(values), floats.Max(values)
	if !(hi > lo) {
		hi = lo + 1
	}
	cm.SetMin(lo)
	cm.SetMax(hi)

	xys := make(plotter.XYs, len(values))
	for j := range values {
		xys[j] = plotter.XY{X: emb.X[j], Y: emb.Y[j]}
	}
	sc, err := plotter.NewScatter(xys)
	if err != nil {
		return errors.Wrap(err, "feature scatter")
	}
	sc.GlyphStyle = glyph(color.Gray{Y: 128})
	sc.GlyphStyleFunc = func(j int) draw.GlyphStyle {
		col, err := cm.At(values[j])
		if err != nil {
			col = color.Gray{Y: 128}
		}
		return glyph(col)
	}
	p := embeddingPlot(name)
	p.Add(sc)
	return writePlot(ctx, path, p, scatterWidth, scatterHeight)
}

// TrajectoryOverlay draws the cluster scatter with the centroid MST on top:
// cluster centroids in embedding space joined by the tree edges.
func TrajectoryOverlay(ctx context.Context, path string, emb *cluster.Embedding, labels []int32, tr *trajectory.Trajectory) error {
	p := embeddingPlot("Trajectory")
	if err := clusterScatterInto(p, emb, labels); err != nil {
		return err
	}

	max := int32(-1)
	for _, l := range labels {
		if l > max {
			max = l
		}
	}
	cx := make([]float64, max+1)
	cy := make([]float64, max+1)
	n := make([]int, max+1)
	for j, l := range labels {
		cx[l] += emb.X[j]
		cy[l] += emb.Y[j]
		n[l]++
	}
	for c := range cx {
		if n[c] > 0 {
			cx[c] /= float64(n[c])
			cy[c] /= float64(n[c])
		}
	}

	dark := color.RGBA{A: 255, R: 40, G: 40, B: 40}
	for _, e := range tr.Edges {
		if e.A > int(max) || e.B > int(max) {
			return errors.Errorf("render: tree edge %d-%d beyond %d clusters", e.A, e.B, max+1)
		}
		ln, err := plotter.NewLine(plotter.XYs{{X: cx[e.A], Y: cy[e.A]}, {X: cx[e.B], Y: cy[e.B]}})
		if err != nil {
			return errors.Wrap(err, "tree edge")
		}
		ln.LineStyle.Width = vg.Points(2)
		ln.LineStyle.Color = dark
		p.Add(ln)
	}
	dots := make(plotter.XYs, 0, max+1)
	for c := range cx {
		if n[c] > 0 {
			dots = append(dots, plotter.XY{X: cx[c], Y: cy[c]})
		}
	}
	sc, err := plotter.NewScatter(dots)
	if err != nil {
		return errors.Wrap(err, "centroids")
	}
	sc.GlyphStyle = draw.GlyphStyle{Color: dark, Radius: vg.Points(4), Shape: draw.CircleGlyph{}}
	p.Add(sc)
	return writePlot(ctx, path, p, scatterWidth, scatterHeight)
}
