package cellranger

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/encoding/mtx"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/singlecell"
	"github.com/klauspost/compress/gzip"
)

// WriteMatrixDir writes a dataset back out as a Cell Ranger style matrix
// directory, gzipped when compress is set. Only raw counts are written; the
// triplet layout has nowhere to put layers or annotations.
func WriteMatrixDir(ctx context.Context, dir string, d *singlecell.Dataset, compress bool) error {
	suffix := ""
	if compress {
		suffix = ".gz"
	}
	// The three files are independent, so their gzip streams can run
	// concurrently. The matrix dwarfs the other two.
	var (
		once errors.Once
		wg   sync.WaitGroup
	)
	for _, f := range []struct {
		name string
		body func(io.Writer) error
	}{
		{"matrix.mtx", func(w io.Writer) error { return writeMatrix(w, d) }},
		{"barcodes.tsv", func(w io.Writer) error { return writeBarcodes(w, d) }},
		{"features.tsv", func(w io.Writer) error { return writeFeatures(w, d) }},
	} {
		f := f
		wg.Add(1)
		go func() {
			once.Set(writeFile(ctx, dir+"/"+f.name+suffix, compress, f.body))
			wg.Done()
		}()
	}
	wg.Wait()
	if err := once.Err(); err != nil {
		return err
	}
	log.Printf("cellranger: wrote %s: %d genes × %d cells, %d entries", dir, d.NGenes(), d.NCells(), d.NNZ())
	return nil
}

func writeFile(ctx context.Context, path string, compress bool, body func(io.Writer) error) (err error) {
	var out file.File
	if out, err = file.Create(ctx, path); err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := io.Writer(out.Writer(ctx))
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(w)
		w = gz
	}
	bw := bufio.NewWriter(w)
	if err = body(bw); err != nil {
		return errors.E(err, path)
	}
	if err = bw.Flush(); err != nil {
		return errors.E(err, path)
	}
	if gz != nil {
		if err = gz.Close(); err != nil {
			return errors.E(err, path)
		}
	}
	return nil
}

func writeMatrix(w io.Writer, d *singlecell.Dataset) error {
	// Raw droplet counts are whole numbers unless a merge upstream injected
	// something exotic; declare the field accordingly.
	field := mtx.Integer
	for _, v := range d.Counts {
		if v != float32(int64(v)) {
			field = mtx.Real
			break
		}
	}
	mw := mtx.NewWriter(w, mtx.Header{
		Rows:    d.NGenes(),
		Cols:    d.NCells(),
		Entries: d.NNZ(),
		Field:   field,
	})
	for j := 0; j < d.NCells(); j++ {
		genes, counts := d.CellCounts(j)
		for i, g := range genes {
			if err := mw.Write(mtx.Entry{Row: int(g), Col: j, Value: float64(counts[i])}); err != nil {
				return err
			}
		}
	}
	return mw.Close()
}

func writeBarcodes(w io.Writer, d *singlecell.Dataset) error {
	for i := range d.Cells {
		if _, err := io.WriteString(w, d.Cells[i].Barcode+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func writeFeatures(w io.Writer, d *singlecell.Dataset) error {
	for i := range d.Genes {
		g := &d.Genes[i]
		typ := g.Type
		if typ == "" {
			typ = "Gene Expression"
		}
		if _, err := io.WriteString(w, g.ID+"\t"+g.Name+"\t"+typ+"\n"); err != nil {
			return err
		}
	}
	return nil
}
