package mtx

import (
	"io"
	"strconv"
)

var newline = []byte{'\n'}

// Writer is a MatrixMarket coordinate file writer.
type Writer struct {
	w       io.Writer
	header  Header
	written int
	err     error
}

// NewWriter constructs a new Writer that writes the banner and size line for
// h, followed by entries written with Write, to the underlying writer w.
func NewWriter(w io.Writer, h Header) *Writer {
	mw := &Writer{w: w, header: h}
	mw.writeln("%%MatrixMarket matrix coordinate " + h.Field.String() + " general")
	mw.writeln("%")
	mw.writeln(strconv.Itoa(h.Rows) + " " + strconv.Itoa(h.Cols) + " " + strconv.Itoa(h.Entries))
	return mw
}

// Write writes one entry, converting its 0-based coordinates to the 1-based
// wire form.  An error is returned if the write failed or if more entries are
// written than the header declared.
func (w *Writer) Write(e Entry) error {
	if w.err != nil {
		return w.err
	}
	if w.written == w.header.Entries {
		w.err = ErrCount
		return w.err
	}
	w.written++
	var value string
	if w.header.Field == Integer {
		value = strconv.FormatInt(int64(e.Value), 10)
	} else {
		value = strconv.FormatFloat(e.Value, 'g', -1, 64)
	}
	w.writeln(strconv.Itoa(e.Row+1) + " " + strconv.Itoa(e.Col+1) + " " + value)
	return w.err
}

// Close verifies that the declared number of entries was written.  It does
// not close the underlying writer.
func (w *Writer) Close() error {
	if w.err != nil {
		return w.err
	}
	if w.written != w.header.Entries {
		w.err = ErrCount
	}
	return w.err
}

func (w *Writer) writeln(line string) {
	if w.err != nil {
		return
	}
	_, w.err = io.WriteString(w.w, line)
	if w.err == nil {
		_, w.err = w.w.Write(newline)
	}
}
