package main

import (
	"context"
	"math"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/cluster"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/singlecell"
)

// cellRow is one line of the per-cell table.
type cellRow struct {
	Barcode    string  `tsv:"barcode"`
	Library    string  `tsv:"library"`
	Features   int     `tsv:"n_features"`
	Counts     float64 `tsv:"n_counts"`
	PctMito    float64 `tsv:"pct_mito"`
	Cluster    int     `tsv:"cluster"`
	CellType   string  `tsv:"cell_type"`
	Pseudotime float64 `tsv:"pseudotime"`
	EmbX       float64 `tsv:"emb_1"`
	EmbY       float64 `tsv:"emb_2"`
}

// writeCellTable dumps the cell annotations as TSV, one row per cell.
// Embedding coordinates are NaN when emb is nil.
func writeCellTable(ctx context.Context, path string, d *singlecell.Dataset, emb *cluster.Embedding) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := tsv.NewRowWriter(out.Writer(ctx))
	for i := range d.Cells {
		c := &d.Cells[i]
		row := cellRow{
			Barcode:    c.Barcode,
			Library:    c.Library,
			Features:   c.Features,
			Counts:     c.Counts,
			PctMito:    c.PctMito,
			Cluster:    c.Cluster,
			CellType:   c.CellType,
			Pseudotime: c.Pseudotime,
			EmbX:       math.NaN(),
			EmbY:       math.NaN(),
		}
		if emb != nil && i < len(emb.X) {
			row.EmbX = emb.X[i]
			row.EmbY = emb.Y[i]
		}
		if err := w.Write(&row); err != nil {
			return err
		}
	}
	return w.Flush()
}

// hvgRow is one line of the variable-gene table, most variable first.
type hvgRow struct {
	Gene         string  `tsv:"gene"`
	Symbol       string  `tsv:"symbol"`
	Mean         float64 `tsv:"mean"`
	Dispersion   float64 `tsv:"dispersion"`
	Standardized float64 `tsv:"dispersion_standardized"`
	Rank         int     `tsv:"rank"`
}

func writeHVGTable(ctx context.Context, path string, d *singlecell.Dataset, stats []singlecell.HVGStat) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := tsv.NewRowWriter(out.Writer(ctx))
	for _, s := range stats {
		g := &d.Genes[s.Gene]
		row := hvgRow{
			Gene:         g.ID,
			Symbol:       g.Name,
			Mean:         s.Mean,
			Dispersion:   s.Dispersion,
			Standardized: s.Standardized,
			Rank:         s.Rank,
		}
		if err := w.Write(&row); err != nil {
			return err
		}
	}
	return w.Flush()
}
