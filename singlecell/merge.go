package singlecell

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dgryski/go-farm"
	"github.com/grailbio/base/log"
)

// Merge concatenates libraries produced against the same reference into one
// dataset. The inputs must share an identical gene table. Barcodes are
// re-suffixed with the 1-based library ordinal ("AAAC...-1", "AAAC...-2") so
// cells stay unique across libraries, and each cell records its library
// name. Derived layers and annotations do not survive a merge; downstream
// stages must rerun on the merged counts.
func Merge(names []string, datasets []*Dataset) (*Dataset, error) {
	if len(datasets) < 2 {
		return nil, fmt.Errorf("merge: need at least two datasets, have %d", len(datasets))
	}
	if len(names) != len(datasets) {
		return nil, fmt.Errorf("merge: %d names for %d datasets", len(names), len(datasets))
	}
	ref := datasets[0]
	for i, d := range datasets[1:] {
		if err := sameGenes(ref, d); err != nil {
			return nil, fmt.Errorf("merge: %s vs %s: %v", names[0], names[i+1], err)
		}
	}

	genes := make([]Gene, len(ref.Genes))
	for g := range ref.Genes {
		genes[g] = Gene{ID: ref.Genes[g].ID, Name: ref.Genes[g].Name, Type: ref.Genes[g].Type}
	}
	var nCells int
	var nnz int64
	for _, d := range datasets {
		nCells += d.NCells()
		nnz += int64(d.NNZ())
	}
	cells := make([]Cell, 0, nCells)
	colPtr := make([]int64, 1, nCells+1)
	rowIdx := make([]int32, 0, nnz)
	counts := make([]float32, 0, nnz)

	// Barcode uniqueness is checked through a hash map keyed by farm hash;
	// the full strings are only compared within a hash bucket, which keeps
	// the table at a few machine words per cell.
	buckets := map[uint64][]int32{}
	for i, d := range datasets {
		for j := range d.Cells {
			bc := suffixBarcode(d.Cells[j].Barcode, i+1)
			h := farm.Hash64([]byte(bc))
			for _, prev := range buckets[h] {
				if cells[prev].Barcode == bc {
					return nil, fmt.Errorf("merge: duplicate barcode %s in library %s", bc, names[i])
				}
			}
			buckets[h] = append(buckets[h], int32(len(cells)))
			cells = append(cells, Cell{
				Barcode:    bc,
				Library:    names[i],
				Cluster:    -1,
				Pseudotime: math.NaN(),
			})
			start, end := d.ColPtr[j], d.ColPtr[j+1]
			rowIdx = append(rowIdx, d.RowIdx[start:end]...)
			counts = append(counts, d.Counts[start:end]...)
			colPtr = append(colPtr, int64(len(counts)))
		}
	}
	out, err := NewDataset(genes, cells, colPtr, rowIdx, counts)
	if err != nil {
		return nil, err
	}
	log.Printf("merge: %d libraries, %d cells, %d entries", len(datasets), out.NCells(), out.NNZ())
	return out, nil
}

func sameGenes(a, b *Dataset) error {
	if a.NGenes() != b.NGenes() {
		return fmt.Errorf("gene tables differ in size: %d vs %d", a.NGenes(), b.NGenes())
	}
	for g := range a.Genes {
		if a.Genes[g].ID != b.Genes[g].ID {
			return fmt.Errorf("gene %d differs: %s vs %s; libraries must share a reference", g, a.Genes[g].ID, b.Genes[g].ID)
		}
	}
	return nil
}

// suffixBarcode replaces any existing "-<n>" suffix with the library ordinal.
func suffixBarcode(bc string, ordinal int) string {
	if i := strings.LastIndexByte(bc, '-'); i > 0 {
		if _, err := strconv.Atoi(bc[i+1:]); err == nil {
			bc = bc[:i]
		}
	}
	return bc + "-" + strconv.Itoa(ordinal)
}
