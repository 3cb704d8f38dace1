package barcode

import "fmt"

// editTable is the DP table for Levenshtein, row-major.
type editTable struct {
	nRow, nCol int
	cell       []int
}

func newEditTable(n, m int) editTable {
	return editTable{nRow: n, nCol: m, cell: make([]int, n*m)}
}

// move describes one of the three traversals that can reach a cell in the
// edit distance table.
//
//	___|___
//	 1 | 3
//	 2 | 4
//
// (1) diag (1 -> 4)
// (2) right (2 -> 4)
// (3) down (3 -> 4)
type move uint8

const (
	diag move = iota
	right
	down
)

type moves []move

func (ms moves) has(m move) bool {
	for _, x := range ms {
		if x == m {
			return true
		}
	}
	return false
}

func (t editTable) fillRow(i, toCol int, r1, r2 []byte) {
	for j := 0; j <= toCol; j++ {
		t.fill(i, j, r1, r2)
	}
}

func (t editTable) fillCol(j, toRow int, r1, r2 []byte) {
	for i := 0; i <= toRow; i++ {
		t.fill(i, j, r1, r2)
	}
}

// fill computes cell (i, j) and reports which moves achieve its value.
func (t editTable) fill(i, j int, r1, r2 []byte) moves {
	if i == 0 {
		t.cell[i*t.nCol+j] = j
		return moves{}
	}
	if j == 0 {
		t.cell[i*t.nCol+j] = i
		return moves{}
	}
	if r1[i-1] == r2[j-1] {
		t.cell[i*t.nCol+j] = t.cell[(i-1)*t.nCol+(j-1)]
		return moves{diag}
	}

	downValue := t.cell[(i-1)*t.nCol+j] + 1
	diagValue := t.cell[(i-1)*t.nCol+(j-1)] + 1
	rightValue := t.cell[i*t.nCol+(j-1)] + 1

	min := downValue
	if diagValue < min {
		min = diagValue
	}
	if rightValue < min {
		min = rightValue
	}
	t.cell[i*t.nCol+j] = min

	var ms moves
	if downValue == min {
		ms = append(ms, down)
	}
	if diagValue == min {
		ms = append(ms, diag)
	}
	if rightValue == min {
		ms = append(ms, right)
	}
	return ms
}

// Hamming returns the number of positions at which a and b differ. It panics
// if the strings have different lengths.
func Hamming(a, b string) int {
	if len(a) != len(b) {
		panic(fmt.Sprintf("hamming: length mismatch: %q vs %q", a, b))
	}
	n := 0
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			n++
		}
	}
	return n
}

// Levenshtein returns the edit distance between two equal-length barcodes s1
// and s2: the number of substitutions, insertions, and deletions needed to
// turn one into the other. A sequencer reads a fixed window, so a deletion
// inside a barcode pulls downstream template bases into the window; d1 and d2
// hold the sequence downstream of s1 and s2 so that such paths are scored
// against what would actually be read. Pass empty strings when the downstream
// sequence is unknown. Panics if s1 and s2 differ in length.
func Levenshtein(s1, s2, d1, d2 string) int {
	if len(s1) != len(s2) {
		panic(fmt.Sprintf("levenshtein: barcodes must have equal length: %q, %q", s1, s2))
	}

	r1 := []byte(s1)
	r2 := []byte(s2)
	rows := len(r1)
	cols := len(r2)

	t := newEditTable(rows+len(d1)+1, cols+len(d2)+1)

	i, iEnd := 1, rows
	j, jEnd := 1, cols

	var ms moves
	for {
		if i <= iEnd {
			t.fillRow(i, j-1, r1, r2)
		}
		if j <= jEnd {
			t.fillCol(j, i-1, r1, r2)
		}
		ms = t.fill(i, j, r1, r2)

		if i < rows {
			i++
			j++
			continue
		}

		// At the corner. If the best path ends in an indel and downstream
		// sequence remains, grow the table along that edge and rescore.
		done := true
		if ms.has(down) && len(d2) > 0 {
			r2 = append(r2, d2[0])
			d2 = d2[1:]
			done = false
			j++
			jEnd++
		}
		if ms.has(right) && len(d1) > 0 {
			r1 = append(r1, d1[0])
			d1 = d1[1:]
			done = false
			i++
			iEnd++
		}
		if done {
			if t.cell[rows*t.nCol+cols] <= t.cell[i*t.nCol+j] {
				return t.cell[rows*t.nCol+cols]
			}
			return t.cell[i*t.nCol+j]
		}
	}
}
