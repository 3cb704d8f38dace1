package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/singlecell"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// manifestEntry describes one produced file.
type manifestEntry struct {
	Path    string `json:"path"` // relative to the manifest
	Bytes   int64  `json:"bytes"`
	Seahash string `json:"seahash"`
}

// manifest ties a directory of outputs back to its inputs: a fresh run id,
// the fingerprint of the dataset they came from, the options in force and a
// checksum per file.
type manifest struct {
	RunID       string          `json:"run_id"`
	Tool        string          `json:"tool"`
	CreatedAt   time.Time       `json:"created_at"`
	Fingerprint string          `json:"dataset_fingerprint,omitempty"`
	Options     interface{}     `json:"options,omitempty"`
	Files       []manifestEntry `json:"files"`
}

func writeManifest(ctx context.Context, dir string, fp singlecell.Fingerprint, options interface{}, names []string) (err error) {
	m := manifest{
		Tool:      "sc-xhaust",
		CreatedAt: time.Now().UTC(),
		Options:   options,
		Files:     make([]manifestEntry, 0, len(names)),
	}
	if !fp.IsZero() {
		m.Fingerprint = fp.String()
	}
	if m.RunID, err = gonanoid.New(); err != nil {
		return err
	}
	for _, name := range names {
		sum, size, err2 := checksumFile(ctx, dir+"/"+name)
		if err2 != nil {
			return err2
		}
		m.Files = append(m.Files, manifestEntry{Path: name, Bytes: size, Seahash: sum})
	}
	data, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return err
	}
	out, err := file.Create(ctx, dir+"/manifest.json")
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	if _, err := out.Writer(ctx).Write(append(data, '\n')); err != nil {
		return err
	}
	log.Printf("manifest: run %s, %d files under %s", m.RunID, len(m.Files), dir)
	return nil
}

// checksumFile streams the file through seahash.
func checksumFile(ctx context.Context, path string) (sum string, size int64, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return "", 0, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	h := seahash.New()
	n, err := io.Copy(h, in.Reader(ctx))
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("%016x", h.Sum64()), n, nil
}
