// Package barcode validates and error-corrects cell barcodes against a known
// whitelist, and provides the edit distances the correction is defined in
// terms of.
package barcode

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/grailbio/base/log"
)

var (
	alphabetMap = map[byte]bool{
		'A': true,
		'C': true,
		'G': true,
		'T': true,
	}

	alphabet         = []byte{'A', 'C', 'G', 'T'}
	alphabetWithNMap = map[byte]bool{
		'A': true,
		'C': true,
		'G': true,
		'T': true,
		'N': true,
	}
)

// CorrectStats counts the outcomes of a correction pass.
type CorrectStats struct {
	// Exact is the # of barcodes found on the whitelist as-is.
	Exact int
	// Snapped is the # of barcodes corrected to a whitelist entry.
	Snapped int
	// Ambiguous is the # of barcodes with more than one whitelist entry at
	// the minimum distance, left uncorrected.
	Ambiguous int
	// Unmatched is the # of barcodes with no whitelist entry within reach.
	Unmatched int
}

// Merge adds the field values of the two CorrectStats objects and creates new
// CorrectStats.
func (s CorrectStats) Merge(o CorrectStats) CorrectStats {
	s.Exact += o.Exact
	s.Snapped += o.Snapped
	s.Ambiguous += o.Ambiguous
	s.Unmatched += o.Unmatched
	return s
}

// Corrector implements snap correction of cell barcodes. A barcode B is
// snappable if there is exactly one whitelisted barcode W within Hamming
// distance one of B; droplet barcodes are fixed length, so single
// substitutions cover the overwhelming share of sequencing errors. Whitelists
// run to millions of entries, so no precomputed neighbor table is kept; the
// neighborhood of each query is enumerated on the fly.
type Corrector struct {
	known map[string]struct{}
	k     int
}

// NewCorrector builds a corrector from a whitelist: one barcode per line,
// all the same length, characters ACGT.
func NewCorrector(in io.Reader) (*Corrector, error) {
	c := &Corrector{known: map[string]struct{}{}, k: -1}
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		bc := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		if bc == "" {
			continue
		}
		if c.k < 0 {
			c.k = len(bc)
		}
		if len(bc) != c.k {
			return nil, fmt.Errorf("barcode: whitelist entry %s has length %d, others have length %d", bc, len(bc), c.k)
		}
		for i := 0; i < len(bc); i++ {
			if !alphabetMap[bc[i]] {
				return nil, fmt.Errorf("barcode: invalid base %c in whitelist entry %s", bc[i], bc)
			}
		}
		c.known[bc] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if c.k < 0 {
		return nil, fmt.Errorf("barcode: empty whitelist")
	}
	log.Debug.Printf("barcode: whitelist of %d barcodes, length %d", len(c.known), c.k)
	return c, nil
}

// Len returns the number of whitelisted barcodes.
func (c *Corrector) Len() int { return len(c.known) }

// lookup classifies bc against the whitelist. exact means bc itself is
// whitelisted; otherwise hit holds the unique neighbor at Hamming distance
// one when nHits == 1.
func (c *Corrector) lookup(bc string) (hit string, nHits int, exact bool) {
	if len(bc) != c.k {
		return "", 0, false
	}
	hasN := false
	for i := 0; i < len(bc); i++ {
		if !alphabetWithNMap[bc[i]] {
			return "", 0, false
		}
		if bc[i] == 'N' {
			hasN = true
		}
	}
	if !hasN {
		if _, ok := c.known[bc]; ok {
			return bc, 1, true
		}
	}
	buf := []byte(bc)
	for i := 0; i < len(buf) && nHits < 2; i++ {
		orig := buf[i]
		for _, b := range alphabet {
			if b == orig {
				continue
			}
			buf[i] = b
			// string(buf) in a map index does not allocate.
			if _, ok := c.known[string(buf)]; ok {
				nHits++
				if nHits == 1 {
					hit = string(buf)
				} else {
					break
				}
			}
		}
		buf[i] = orig
	}
	return hit, nHits, false
}

// Correct returns the corrected barcode, the number of edits, and whether a
// correction was applied. Whitelisted input comes back unchanged with zero
// edits. A barcode with exactly one whitelist entry at Hamming distance one
// snaps to it. Anything else, including barcodes of the wrong length or with
// characters outside ACGTN, comes back unchanged with -1 edits.
func (c *Corrector) Correct(bc string) (correctedBC string, edits int, corrected bool) {
	bc = strings.ToUpper(bc)
	hit, nHits, exact := c.lookup(bc)
	switch {
	case exact:
		return bc, 0, false
	case nHits == 1:
		return hit, 1, true
	default:
		return bc, -1, false
	}
}

// CorrectAll corrects barcodes in place and tallies the outcomes. Numeric
// library suffixes like "-1" pass through untouched. If two entries resolve
// to the same barcode the input is ambiguous at the dataset level and an
// error is returned.
func CorrectAll(barcodes []string, c *Corrector) (CorrectStats, error) {
	var stats CorrectStats
	seen := make(map[string]int, len(barcodes))
	for i, full := range barcodes {
		bc, suffix := SplitSuffix(full)
		bc = strings.ToUpper(bc)
		hit, nHits, exact := c.lookup(bc)
		switch {
		case exact:
			stats.Exact++
			barcodes[i] = bc + suffix
		case nHits == 1:
			stats.Snapped++
			barcodes[i] = hit + suffix
		case nHits > 1:
			stats.Ambiguous++
		default:
			stats.Unmatched++
		}
		if prev, dup := seen[barcodes[i]]; dup {
			return stats, fmt.Errorf("barcode: %s and %s both resolve to %s; input is corrupt or not from one library",
				full, barcodes[prev], barcodes[i])
		}
		seen[barcodes[i]] = i
	}
	log.Printf("barcode: %d exact, %d snapped, %d ambiguous, %d unmatched of %d",
		stats.Exact, stats.Snapped, stats.Ambiguous, stats.Unmatched, len(barcodes))
	return stats, nil
}

// SplitSuffix splits a barcode from its numeric library suffix:
// "AAAC-1" becomes ("AAAC", "-1").
func SplitSuffix(bc string) (string, string) {
	if i := strings.LastIndexByte(bc, '-'); i > 0 && i+1 < len(bc) {
		allDigit := true
		for j := i + 1; j < len(bc); j++ {
			if bc[j] < '0' || bc[j] > '9' {
				allDigit = false
				break
			}
		}
		if allDigit {
			return bc[:i], bc[i:]
		}
	}
	return bc, ""
}
