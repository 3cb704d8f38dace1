// Package sds stores datasets and derived stage artifacts on disk.
//
// A .sds file holds one dataset. It is a recordio whose first record is the
// gob-encoded gene table and whose remaining records are gob-encoded blocks
// of cells together with their slice of the count matrix. Records are snappy
// compressed by hand, recordio has no snappy transformer. The trailer records
// the dimensions and the dataset fingerprint; the reader recomputes the
// fingerprint and refuses files that do not add back up.
//
// A .rio file holds one derived artifact (principal components, neighbor
// graph, cluster assignments): a zstd recordio with a single gob payload,
// tagged in the trailer with the artifact kind and the fingerprint of the
// dataset it was computed from. Stages validate the fingerprint before using
// an artifact, so results from one dataset cannot silently be applied to
// another.
package sds

import (
	"bytes"
	"context"
	"encoding/gob"

	"github.com/golang/snappy"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/singlecell"
	"github.com/pkg/errors"
)

const (
	versionHeader  = "sdsversion"
	datasetVersion = "SDS1"

	// cellsPerBlock bounds the memory needed to encode or decode one record.
	cellsPerBlock = 2048
)

// Info is the gob-encoded trailer of a .sds file: what can be known about a
// dataset without loading its body.
type Info struct {
	NGenes      int
	NCells      int
	NNZ         int64
	HasLogNorm  bool
	Fingerprint singlecell.Fingerprint
}

type geneBlock struct {
	Genes []singlecell.Gene
}

// cellBlock carries a run of cells and their matrix slice. ColPtr is local to
// the block, starting at zero.
type cellBlock struct {
	Cells   []singlecell.Cell
	ColPtr  []int64
	RowIdx  []int32
	Counts  []float32
	LogNorm []float32
}

func encodeSnappyGob(v interface{}) ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(v); err != nil {
		return nil, err
	}
	return snappy.Encode(nil, b.Bytes()), nil
}

func decodeSnappyGob(rec []byte, v interface{}) error {
	raw, err := snappy.Decode(nil, rec)
	if err != nil {
		return err
	}
	return gob.NewDecoder(bytes.NewReader(raw)).Decode(v)
}

// WriteDataset writes d to path in .sds format.
func WriteDataset(ctx context.Context, path string, d *singlecell.Dataset) (err error) {
	var out file.File
	if out, err = file.Create(ctx, path); err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)

	w := recordio.NewWriter(out.Writer(ctx), recordio.WriterOpts{})
	w.AddHeader(versionHeader, datasetVersion)
	w.AddHeader(recordio.KeyTrailer, true)

	rec, err := encodeSnappyGob(geneBlock{Genes: d.Genes})
	if err != nil {
		return errors.Wrap(err, path)
	}
	w.Append(rec)

	for start := 0; start < d.NCells(); start += cellsPerBlock {
		end := start + cellsPerBlock
		if end > d.NCells() {
			end = d.NCells()
		}
		lo, hi := d.ColPtr[start], d.ColPtr[end]
		blk := cellBlock{
			Cells:  d.Cells[start:end],
			ColPtr: make([]int64, end-start+1),
			RowIdx: d.RowIdx[lo:hi],
			Counts: d.Counts[lo:hi],
		}
		for i := start; i <= end; i++ {
			blk.ColPtr[i-start] = d.ColPtr[i] - lo
		}
		if d.LogNorm != nil {
			blk.LogNorm = d.LogNorm[lo:hi]
		}
		if rec, err = encodeSnappyGob(blk); err != nil {
			return errors.Wrap(err, path)
		}
		w.Append(rec)
	}

	index := Info{
		NGenes:      d.NGenes(),
		NCells:      d.NCells(),
		NNZ:         int64(d.NNZ()),
		HasLogNorm:  d.LogNorm != nil,
		Fingerprint: singlecell.ComputeFingerprint(d),
	}
	var b bytes.Buffer
	if err = gob.NewEncoder(&b).Encode(index); err != nil {
		return errors.Wrap(err, path)
	}
	w.SetTrailer(b.Bytes())
	if err = w.Finish(); err != nil {
		return errors.Wrap(err, path)
	}
	log.Debug.Printf("sds: wrote %s: %d genes × %d cells, fingerprint %s", path, index.NGenes, index.NCells, index.Fingerprint)
	return nil
}

func checkVersion(r recordio.Scanner, path string) error {
	hdr := r.Header()
	if !hdr.HasTrailer() {
		return errors.Errorf("%s: no index trailer", path)
	}
	for _, kv := range hdr {
		if kv.Key == versionHeader {
			if v, ok := kv.Value.(string); !ok || v != datasetVersion {
				return errors.Errorf("%s: version %v, want %s", path, kv.Value, datasetVersion)
			}
			return nil
		}
	}
	return errors.Errorf("%s: not a dataset file (%s header missing)", path, versionHeader)
}

// ReadDataset reads a .sds file and verifies its fingerprint.
func ReadDataset(ctx context.Context, path string) (d *singlecell.Dataset, err error) {
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)

	r := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{})
	if err = checkVersion(r, path); err != nil {
		return nil, err
	}
	var index Info
	if err = gob.NewDecoder(bytes.NewReader(r.Trailer())).Decode(&index); err != nil {
		return nil, errors.Wrap(err, path)
	}

	if !r.Scan() {
		if err = r.Err(); err != nil {
			return nil, errors.Wrap(err, path)
		}
		return nil, errors.Errorf("%s: missing gene table", path)
	}
	var gb geneBlock
	if err = decodeSnappyGob(r.Get().([]byte), &gb); err != nil {
		return nil, errors.Wrap(err, path)
	}

	cells := make([]singlecell.Cell, 0, index.NCells)
	colPtr := make([]int64, 1, index.NCells+1)
	rowIdx := make([]int32, 0, index.NNZ)
	counts := make([]float32, 0, index.NNZ)
	var logNorm []float32
	if index.HasLogNorm {
		logNorm = make([]float32, 0, index.NNZ)
	}
	for r.Scan() {
		var blk cellBlock
		if err = decodeSnappyGob(r.Get().([]byte), &blk); err != nil {
			return nil, errors.Wrap(err, path)
		}
		base := int64(len(counts))
		cells = append(cells, blk.Cells...)
		for _, p := range blk.ColPtr[1:] {
			colPtr = append(colPtr, base+p)
		}
		rowIdx = append(rowIdx, blk.RowIdx...)
		counts = append(counts, blk.Counts...)
		if index.HasLogNorm {
			if len(blk.LogNorm) != len(blk.Counts) {
				return nil, errors.Errorf("%s: normalized layer missing from a block", path)
			}
			logNorm = append(logNorm, blk.LogNorm...)
		}
	}
	if err = r.Err(); err != nil {
		return nil, errors.Wrap(err, path)
	}
	if len(cells) != index.NCells || len(gb.Genes) != index.NGenes || int64(len(counts)) != index.NNZ {
		return nil, errors.Errorf("%s: index declares %d×%d/%d entries, file has %d×%d/%d",
			path, index.NGenes, index.NCells, index.NNZ, len(gb.Genes), len(cells), len(counts))
	}
	if d, err = singlecell.NewDataset(gb.Genes, cells, colPtr, rowIdx, counts); err != nil {
		return nil, errors.Wrap(err, path)
	}
	d.LogNorm = logNorm
	if fp := singlecell.ComputeFingerprint(d); fp != index.Fingerprint {
		return nil, errors.Errorf("%s: fingerprint mismatch: file says %s, content says %s (corrupt file?)",
			path, index.Fingerprint, fp)
	}
	return d, nil
}

// ReadInfo reads only the trailer of a .sds file.
func ReadInfo(ctx context.Context, path string) (index Info, err error) {
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return index, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	r := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{})
	if err = checkVersion(r, path); err != nil {
		return index, err
	}
	err = gob.NewDecoder(bytes.NewReader(r.Trailer())).Decode(&index)
	return index, errors.Wrap(err, path)
}
