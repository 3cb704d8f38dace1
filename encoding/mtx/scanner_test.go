package mtx

import (
	"bytes"
	"strings"
	"testing"
)

const counts = `%%MatrixMarket matrix coordinate integer general
% pilot library, chr-filtered
4 3 5
1 1 2
3 1 1
2 2 7
4 2 1
1 3 9
`

func stringScanner(s string) *Scanner {
	return NewScanner(bytes.NewReader([]byte(s)))
}

func TestScanner(t *testing.T) {
	s := stringScanner(counts)
	h, err := s.Header()
	if err != nil {
		t.Fatal(err)
	}
	if h.Rows != 4 || h.Cols != 3 || h.Entries != 5 || h.Field != Integer {
		t.Fatalf("bad header: %+v", h)
	}
	var got []Entry
	var e Entry
	for s.Scan(&e) {
		got = append(got, e)
	}
	if err := s.Err(); err != nil {
		t.Fatal(err)
	}
	want := []Entry{
		{0, 0, 2},
		{2, 0, 1},
		{1, 1, 7},
		{3, 1, 1},
		{0, 2, 9},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestScannerReal(t *testing.T) {
	s := stringScanner("%%MatrixMarket matrix coordinate real general\n2 2 1\n2 1 0.5\n")
	var e Entry
	if !s.Scan(&e) {
		t.Fatal(s.Err())
	}
	if e.Row != 1 || e.Col != 0 || e.Value != 0.5 {
		t.Fatalf("bad entry: %+v", e)
	}
}

func scanErr(s string) error {
	scan := stringScanner(s)
	var e Entry
	for scan.Scan(&e) {
	}
	return scan.Err()
}

func TestScannerErrors(t *testing.T) {
	cases := []struct {
		in   string
		want error
	}{
		{"", ErrBanner},
		{"%%MatrixMarket matrix coordinate integer general\n", ErrBanner},
		{"not a banner\n1 1 1\n1 1 1\n", ErrBanner},
		{"%%MatrixMarket matrix array integer general\n", ErrLayout},
		{"%%MatrixMarket matrix coordinate integer symmetric\n", ErrLayout},
		{"%%MatrixMarket matrix coordinate complex general\n", ErrLayout},
		{"%%MatrixMarket matrix coordinate integer general\n2 2 1\n", ErrCount},
		{"%%MatrixMarket matrix coordinate integer general\n2 2 1\n1 1 5\n2 2 5\n", ErrCount},
		{"%%MatrixMarket matrix coordinate integer general\n2 2 2\n1 1\n", ErrEntry},
		{"%%MatrixMarket matrix coordinate integer general\n2 2 2\n3 1 5\n", ErrEntry},
		{"%%MatrixMarket matrix coordinate integer general\n2 2 2\n0 1 5\n", ErrEntry},
	}
	for _, c := range cases {
		if got := scanErr(c.in); got != c.want {
			t.Errorf("%q: got %v, want %v", c.in, got, c.want)
		}
	}
}

func TestWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, Header{Rows: 4, Cols: 3, Entries: 2, Field: Integer})
	if err := w.Write(Entry{0, 0, 2}); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(Entry{3, 2, 11}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "4 2 11") {
		t.Fatalf("missing 1-based entry in output:\n%s", buf.String())
	}
	s := NewScanner(bytes.NewReader(buf.Bytes()))
	var e Entry
	if !s.Scan(&e) || e != (Entry{0, 0, 2}) {
		t.Fatalf("round trip failed: %+v, %v", e, s.Err())
	}
}

func TestWriterCount(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, Header{Rows: 1, Cols: 1, Entries: 0, Field: Integer})
	if err := w.Write(Entry{0, 0, 1}); err != ErrCount {
		t.Fatalf("got %v, want ErrCount", err)
	}
}
