package diffexp

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// WriteCSV writes markers as a CSV table with a header row, in the given
// order. The column layout follows the conventional marker-table shape, so
// the files load directly into data-frame tooling.
func WriteCSV(w io.Writer, markers []Marker) error {
	cw := csv.NewWriter(w)
	header := []string{"cluster", "gene", "gene_id", "avg_log2FC", "pct.1", "pct.2", "p_val", "p_val_adj"}
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, "write marker header")
	}
	for _, m := range markers {
		rec := []string{
			strconv.Itoa(m.Cluster),
			m.Gene,
			m.GeneID,
			strconv.FormatFloat(m.AvgLog2FC, 'g', 6, 64),
			strconv.FormatFloat(m.Pct1, 'g', 4, 64),
			strconv.FormatFloat(m.Pct2, 'g', 4, 64),
			strconv.FormatFloat(m.PValue, 'g', 6, 64),
			strconv.FormatFloat(m.PAdj, 'g', 6, 64),
		}
		if err := cw.Write(rec); err != nil {
			return errors.Wrap(err, "write marker row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush marker table")
}
