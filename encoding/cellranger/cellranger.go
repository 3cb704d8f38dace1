// Package cellranger reads and writes the count matrix directory layout
// produced by the 10x Genomics Cell Ranger pipeline: a MatrixMarket triplet
// file plus barcode and feature tables, each optionally gzipped.
//
//	matrix.mtx[.gz]    gene × cell counts in MatrixMarket coordinate format
//	barcodes.tsv[.gz]  one cell barcode per line
//	features.tsv[.gz]  feature id, symbol and type, tab separated
//
// Older pipeline versions name the feature table genes.tsv and omit the type
// column; both layouts are accepted.
package cellranger

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/encoding/mtx"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/singlecell"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

var (
	matrixNames  = []string{"matrix.mtx.gz", "matrix.mtx"}
	barcodeNames = []string{"barcodes.tsv.gz", "barcodes.tsv"}
	featureNames = []string{"features.tsv.gz", "features.tsv", "genes.tsv.gz", "genes.tsv"}
)

// openFirst opens the first existing candidate under dir. Paths are joined
// with "/" so S3 directories work the same as local ones.
func openFirst(ctx context.Context, dir string, names []string) (file.File, error) {
	var firstErr error
	for _, name := range names {
		in, err := file.Open(ctx, dir+"/"+name)
		if err == nil {
			return in, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, errors.Wrapf(firstErr, "%s: none of %v found", dir, names)
}

// maybeGzip wraps the reader in a gzip decompressor when the path says so.
func maybeGzip(reader io.Reader, path string) (io.Reader, error) {
	if fileio.DetermineType(path) == fileio.Gzip {
		return gzip.NewReader(reader)
	}
	return reader, nil
}

func parseFeatures(in io.Reader) ([]singlecell.Gene, error) {
	var genes []singlecell.Gene
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var g singlecell.Gene
		switch cols := strings.Split(line, "\t"); len(cols) {
		case 2: // genes.tsv
			g = singlecell.Gene{ID: cols[0], Name: cols[1]}
		default:
			if len(cols) < 3 {
				return nil, errors.Errorf("feature line %d: want at least 2 tab-separated columns, got %q", len(genes)+1, line)
			}
			g = singlecell.Gene{ID: cols[0], Name: cols[1], Type: cols[2]}
		}
		if g.ID == "" {
			return nil, errors.Errorf("feature line %d: empty id", len(genes)+1)
		}
		if g.Name == "" {
			// Some references leave symbols blank; fall back to the id so
			// mito-prefix matching and marker tables stay usable.
			g.Name = g.ID
		}
		genes = append(genes, g)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading features")
	}
	return genes, nil
}

func parseBarcodes(in io.Reader) ([]string, error) {
	var barcodes []string
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		bc := strings.TrimSpace(scanner.Text())
		if bc == "" {
			continue
		}
		barcodes = append(barcodes, bc)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading barcodes")
	}
	return barcodes, nil
}

type coo struct {
	header mtx.Header
	rows   []int32
	cols   []int32
	vals   []float32
}

func parseMatrix(in io.Reader) (coo, error) {
	var m coo
	scanner := mtx.NewScanner(in)
	header, err := scanner.Header()
	if err != nil {
		return m, err
	}
	m.header = header
	m.rows = make([]int32, 0, header.Entries)
	m.cols = make([]int32, 0, header.Entries)
	m.vals = make([]float32, 0, header.Entries)
	var e mtx.Entry
	for scanner.Scan(&e) {
		if e.Value <= 0 {
			return m, errors.Errorf("matrix entry (%d,%d) has nonpositive count %v", e.Row+1, e.Col+1, e.Value)
		}
		m.rows = append(m.rows, int32(e.Row))
		m.cols = append(m.cols, int32(e.Col))
		m.vals = append(m.vals, float32(e.Value))
	}
	return m, scanner.Err()
}

type loader struct {
	names []string
	parse func(io.Reader) error
}

// ReadMatrixDir loads a Cell Ranger matrix directory into a dataset. The
// three files are read concurrently.
func ReadMatrixDir(ctx context.Context, dir string) (*singlecell.Dataset, error) {
	var (
		genes    []singlecell.Gene
		barcodes []string
		m        coo
	)
	loaders := []loader{
		{matrixNames, func(in io.Reader) (err error) { m, err = parseMatrix(in); return }},
		{barcodeNames, func(in io.Reader) (err error) { barcodes, err = parseBarcodes(in); return }},
		{featureNames, func(in io.Reader) (err error) { genes, err = parseFeatures(in); return }},
	}
	err := loadFiles(ctx, dir, loaders)
	if err != nil {
		return nil, err
	}
	if len(genes) != m.header.Rows {
		return nil, errors.Errorf("%s: matrix declares %d genes but feature table has %d", dir, m.header.Rows, len(genes))
	}
	if len(barcodes) != m.header.Cols {
		return nil, errors.Errorf("%s: matrix declares %d cells but barcode table has %d", dir, m.header.Cols, len(barcodes))
	}
	d, err := singlecell.NewDatasetFromCOO(genes, singlecell.NewCells(barcodes), m.rows, m.cols, m.vals)
	if err != nil {
		return nil, errors.Wrap(err, dir)
	}
	log.Printf("cellranger: read %s: %d genes × %d cells, %d entries (%s field)",
		dir, d.NGenes(), d.NCells(), d.NNZ(), m.header.Field)
	return d, nil
}

func loadFiles(ctx context.Context, dir string, loaders []loader) error {
	return traverse.Each(len(loaders), func(i int) (err error) {
		job := loaders[i]
		in, err := openFirst(ctx, dir, job.names)
		if err != nil {
			return err
		}
		defer file.CloseAndReport(ctx, in, &err)
		reader, err := maybeGzip(in.Reader(ctx), in.Name())
		if err != nil {
			return errors.Wrap(err, in.Name())
		}
		if err = job.parse(reader); err != nil {
			return errors.Wrap(err, in.Name())
		}
		return nil
	})
}
