package sds

import (
	"bytes"
	"context"
	"encoding/gob"
	"time"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/singlecell"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const artifactVersion = "SDA1"

// ArtifactInfo is the gob-encoded trailer of a .rio artifact file.
type ArtifactInfo struct {
	// Kind names the payload type, e.g. "pca" or "cluster".
	Kind string
	// Fingerprint is the identity of the dataset the payload was computed
	// from.
	Fingerprint singlecell.Fingerprint
	// CreatedNs is the write time in Unix nanoseconds.
	CreatedNs int64
}

// WriteArtifact writes one gob-encoded payload tagged with the source
// dataset's fingerprint.
func WriteArtifact(ctx context.Context, path, kind string, fp singlecell.Fingerprint, payload interface{}) (err error) {
	recordiozstd.Init()
	var out file.File
	if out, err = file.Create(ctx, path); err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)

	w := recordio.NewWriter(out.Writer(ctx), recordio.WriterOpts{
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(versionHeader, artifactVersion)
	w.AddHeader(recordio.KeyTrailer, true)

	var b bytes.Buffer
	if err = gob.NewEncoder(&b).Encode(payload); err != nil {
		return errors.Wrapf(err, "%s: encoding %s payload", path, kind)
	}
	w.Append(b.Bytes())

	var tb bytes.Buffer
	info := ArtifactInfo{Kind: kind, Fingerprint: fp, CreatedNs: time.Now().UnixNano()}
	if err = gob.NewEncoder(&tb).Encode(info); err != nil {
		return errors.Wrap(err, path)
	}
	w.SetTrailer(tb.Bytes())
	return errors.Wrap(w.Finish(), path)
}

type artifactReader struct {
	path string
	in   file.File
	r    recordio.Scanner
	info ArtifactInfo
}

func openArtifact(ctx context.Context, path string) (*artifactReader, error) {
	recordiozstd.Init()
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	closeOnError := func(err error) (*artifactReader, error) {
		in.Close(ctx) // nolint: errcheck
		return nil, err
	}
	r := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{})
	hdr := r.Header()
	versionFound := false
	for _, kv := range hdr {
		if kv.Key == versionHeader {
			v, isStr := kv.Value.(string)
			if !isStr || v != artifactVersion {
				return closeOnError(errors.Errorf("%s: version %v, want %s", path, kv.Value, artifactVersion))
			}
			versionFound = true
			break
		}
	}
	if !versionFound || !hdr.HasTrailer() {
		return closeOnError(errors.Errorf("%s: not an artifact file", path))
	}
	ar := &artifactReader{path: path, in: in, r: r}
	if err = gob.NewDecoder(bytes.NewReader(r.Trailer())).Decode(&ar.info); err != nil {
		return closeOnError(errors.Wrap(err, path))
	}
	return ar, nil
}

// close reports any pending scan error, then the file close error.
func (ar *artifactReader) close(ctx context.Context) error {
	err := ar.r.Err()
	if cerr := ar.in.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	return errors.Wrap(err, ar.path)
}

// ReadArtifact reads a payload written by WriteArtifact. The artifact must
// carry the given kind, and, unless want is zero, the given fingerprint.
func ReadArtifact(ctx context.Context, path, kind string, want singlecell.Fingerprint, payload interface{}) (err error) {
	ar, err := openArtifact(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ar.close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if ar.info.Kind != kind {
		return errors.Errorf("%s: artifact kind %q, want %q", path, ar.info.Kind, kind)
	}
	if !want.IsZero() && ar.info.Fingerprint != want {
		return errors.Errorf("%s: artifact was computed from dataset %s, not %s; rerun the producing stage",
			path, ar.info.Fingerprint, want)
	}
	if !ar.r.Scan() {
		if err = ar.r.Err(); err != nil {
			return errors.Wrap(err, path)
		}
		return errors.Errorf("%s: empty artifact", path)
	}
	if err = gob.NewDecoder(bytes.NewReader(ar.r.Get().([]byte))).Decode(payload); err != nil {
		return errors.Wrapf(err, "%s: decoding %s payload", path, kind)
	}
	return nil
}

// ReadArtifactInfo reads only the trailer of an artifact file.
func ReadArtifactInfo(ctx context.Context, path string) (info ArtifactInfo, err error) {
	ar, err := openArtifact(ctx, path)
	if err != nil {
		return info, err
	}
	info = ar.info
	return info, ar.close(ctx)
}

// Matrix is a gob-friendly dense matrix in row-major order. gob cannot see
// inside gonum's matrix types, so artifacts store this form instead.
type Matrix struct {
	Rows, Cols int
	Data       []float64
}

// NewMatrix copies m into encodable form.
func NewMatrix(m mat.Matrix) Matrix {
	r, c := m.Dims()
	out := Matrix{Rows: r, Cols: c, Data: make([]float64, r*c)}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Data[i*c+j] = m.At(i, j)
		}
	}
	return out
}

// Dense converts back to a gonum matrix. Returns nil for an empty Matrix.
func (m Matrix) Dense() *mat.Dense {
	if m.Rows == 0 || m.Cols == 0 {
		return nil
	}
	return mat.NewDense(m.Rows, m.Cols, m.Data)
}
