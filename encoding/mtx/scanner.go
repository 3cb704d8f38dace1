// Package mtx contains code for reading and writing MatrixMarket coordinate
// files, the sparse-matrix exchange format emitted by single-cell count
// pipelines.  A file consists of a banner line, optional % comments, a size
// line, and one entry per line.  For example:
//
// %%MatrixMarket matrix coordinate integer general
// %
// 32738 2700 2286884
// 32709 1 4
// 32707 1 1
//
// Rows and columns are 1-based on the wire.  The Scanner and Writer translate
// to and from 0-based indices, following the usual "0-based in memory,
// 1-based in text" convention.
package mtx

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
)

var (
	// ErrBanner is returned when the %%MatrixMarket banner is missing or
	// malformed.
	ErrBanner = errors.New("invalid MatrixMarket banner")
	// ErrLayout is returned for well-formed banners describing a layout this
	// package does not handle (anything but a general coordinate matrix of
	// integers or reals).
	ErrLayout = errors.New("unsupported MatrixMarket layout")
	// ErrEntry is returned when an entry line is malformed or out of range.
	ErrEntry = errors.New("invalid MatrixMarket entry")
	// ErrCount is returned when the number of entries does not match the size
	// line.
	ErrCount = errors.New("MatrixMarket entry count mismatch")
)

// Field identifies the numeric type of the matrix values.
type Field int

const (
	// Integer matrices store counts; this is what CellRanger emits.
	Integer Field = iota
	// Real matrices store floats, e.g. normalized expression.
	Real
)

// String returns the banner spelling of the field.
func (f Field) String() string {
	if f == Integer {
		return "integer"
	}
	return "real"
}

// Header describes the matrix declared by the banner and size lines.
type Header struct {
	// Rows and Cols are the matrix dimensions (genes × cells for count
	// matrices).
	Rows, Cols int
	// Entries is the number of explicitly stored values.
	Entries int
	// Field is the declared value type.
	Field Field
}

// Entry is a single stored matrix value at (Row, Col), both 0-based.
type Entry struct {
	Row, Col int
	Value    float64
}

// Scanner reads MatrixMarket coordinate data.  The Scan method returns the
// next entry, returning a boolean indicating whether the read succeeded.
// Scanners are not threadsafe.
type Scanner struct {
	b       *bufio.Scanner
	header  Header
	scanned int
	err     error
	started bool
}

var errEOF = errors.New("eof")

// NewScanner constructs a new Scanner that reads raw MatrixMarket data from
// the provided reader.  The banner and size lines are parsed on the first
// call to Header or Scan.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{b: bufio.NewScanner(r)}
}

// Header parses the banner and size lines, if not yet done, and returns the
// header.
func (s *Scanner) Header() (Header, error) {
	if !s.started {
		s.start()
	}
	if s.err != nil && s.err != errEOF {
		return Header{}, s.err
	}
	return s.header, nil
}

func (s *Scanner) start() {
	s.started = true
	if !s.b.Scan() {
		if s.err = s.b.Err(); s.err == nil {
			s.err = ErrBanner
		}
		return
	}
	banner := splitFields(s.b.Bytes())
	if len(banner) != 5 || !bytes.EqualFold(banner[0], []byte("%%MatrixMarket")) {
		s.err = ErrBanner
		return
	}
	if !bytes.EqualFold(banner[1], []byte("matrix")) ||
		!bytes.EqualFold(banner[2], []byte("coordinate")) ||
		!bytes.EqualFold(banner[4], []byte("general")) {
		s.err = ErrLayout
		return
	}
	switch {
	case bytes.EqualFold(banner[3], []byte("integer")):
		s.header.Field = Integer
	case bytes.EqualFold(banner[3], []byte("real")):
		s.header.Field = Real
	default:
		s.err = ErrLayout
		return
	}
	// Skip comments, then parse the size line.
	for {
		if !s.b.Scan() {
			if s.err = s.b.Err(); s.err == nil {
				s.err = ErrBanner
			}
			return
		}
		line := s.b.Bytes()
		if len(line) == 0 || line[0] == '%' {
			continue
		}
		dims := splitFields(line)
		if len(dims) != 3 {
			s.err = ErrBanner
			return
		}
		var ok bool
		if s.header.Rows, ok = parseNonNegInt(dims[0]); !ok {
			s.err = ErrBanner
			return
		}
		if s.header.Cols, ok = parseNonNegInt(dims[1]); !ok {
			s.err = ErrBanner
			return
		}
		if s.header.Entries, ok = parseNonNegInt(dims[2]); !ok {
			s.err = ErrBanner
			return
		}
		return
	}
}

// Scan reads the next entry into the provided entry.  Scan returns a boolean
// indicating whether the scan succeeded.  Once Scan returns false, it never
// returns true again.  Upon completion the user should check the Err method
// to determine whether scanning stopped because of an error or because the
// end of the stream was reached.
func (s *Scanner) Scan(e *Entry) bool {
	if !s.started {
		s.start()
	}
	if s.err != nil {
		return false
	}
	for {
		if !s.b.Scan() {
			if s.err = s.b.Err(); s.err == nil {
				if s.scanned != s.header.Entries {
					s.err = ErrCount
				} else {
					s.err = errEOF
				}
			}
			return false
		}
		line := s.b.Bytes()
		if len(line) == 0 {
			continue
		}
		if line[0] == '%' { // comments are legal only before the size line, but tolerated
			continue
		}
		fields := splitFields(line)
		if len(fields) != 3 {
			s.err = ErrEntry
			return false
		}
		row, ok1 := parseNonNegInt(fields[0])
		col, ok2 := parseNonNegInt(fields[1])
		val, err := strconv.ParseFloat(string(fields[2]), 64)
		if !ok1 || !ok2 || err != nil ||
			row < 1 || row > s.header.Rows || col < 1 || col > s.header.Cols {
			s.err = ErrEntry
			return false
		}
		s.scanned++
		if s.scanned > s.header.Entries {
			s.err = ErrCount
			return false
		}
		e.Row = row - 1
		e.Col = col - 1
		e.Value = val
		return true
	}
}

// Err returns the scanning error, if any.
func (s *Scanner) Err() error {
	if s.err == errEOF {
		return nil
	}
	return s.err
}

// splitFields tokenizes a line on runs of characters <= ' ', the same
// delimiter rule used for BED-like text formats.
func splitFields(line []byte) [][]byte {
	var fields [][]byte
	pos := 0
	for pos < len(line) {
		for pos < len(line) && line[pos] <= ' ' {
			pos++
		}
		if pos == len(line) {
			break
		}
		start := pos
		for pos < len(line) && line[pos] > ' ' {
			pos++
		}
		fields = append(fields, line[start:pos])
	}
	return fields
}

func parseNonNegInt(b []byte) (int, bool) {
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return int(v), true
}
