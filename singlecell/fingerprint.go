package singlecell

import (
	"encoding/binary"
	"encoding/hex"
	"io"
	"math"

	"github.com/minio/highwayhash"
)

// Fingerprint identifies the raw content of a dataset: the gene table, the
// cell identities, and the count matrix. Layers and annotations added by
// later stages do not change it, so every derived artifact records the
// fingerprint of the counts it was computed from and loaders can reject
// mixed-up inputs instead of producing silently wrong results.
type Fingerprint [highwayhash.Size]uint8

var zeroFingerprintKey [highwayhash.Size]uint8

func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// IsZero reports whether f is the zero fingerprint, used by artifacts written
// before fingerprinting existed.
func (f Fingerprint) IsZero() bool { return f == Fingerprint{} }

// ComputeFingerprint hashes the identity of the dataset.
func ComputeFingerprint(d *Dataset) Fingerprint {
	h, err := highwayhash.New(zeroFingerprintKey[:])
	if err != nil {
		panic(err) // only on bad key length
	}
	var buf [8]uint8
	writeInt := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	writeStr := func(s string) {
		writeInt(int64(len(s)))
		io.WriteString(h, s) // nolint: errcheck
	}
	writeInt(int64(len(d.Genes)))
	for i := range d.Genes {
		writeStr(d.Genes[i].ID)
		writeStr(d.Genes[i].Name)
	}
	writeInt(int64(len(d.Cells)))
	for i := range d.Cells {
		writeStr(d.Cells[i].Barcode)
		writeStr(d.Cells[i].Library)
	}
	for _, p := range d.ColPtr {
		writeInt(p)
	}
	for i, g := range d.RowIdx {
		writeInt(int64(g))
		binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(d.Counts[i]))
		h.Write(buf[:4])
	}
	var f Fingerprint
	h.Sum(f[:0])
	return f
}
