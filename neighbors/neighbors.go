// Package neighbors builds the k-nearest-neighbor and shared-nearest-neighbor
// graphs over cells embedded in principal component space. The kNN search is
// exact: cell totals after filtering are small enough that a parallel scan
// beats an index, and exact results keep downstream clustering reproducible.
package neighbors

import (
	"container/heap"
	"math"
	"runtime"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Opts configures graph construction.
type Opts struct {
	K     int     // neighbors per cell, not counting the cell itself
	Prune float64 // drop SNN edges with Jaccard weight below this
}

// DefaultOpts is the default value of Opts.
var DefaultOpts = Opts{
	K:     20,
	Prune: 1.0 / 15.0,
}

// KNN holds the k nearest neighbors of each cell. Neighbor lists are sorted
// by distance, nearest first, with index order breaking ties.
type KNN struct {
	K    int
	Idx  [][]int32
	Dist [][]float32
}

// cand is a candidate neighbor during the scan. d2 is squared Euclidean
// distance.
type cand struct {
	idx int32
	d2  float64
}

// candHeap keeps the k best candidates seen so far. The worst candidate sits
// on top so it can be evicted cheaply.
type candHeap []cand

func (h candHeap) Len() int { return len(h) }
func (h candHeap) Less(i, j int) bool {
	if h[i].d2 != h[j].d2 {
		return h[i].d2 > h[j].d2
	}
	return h[i].idx > h[j].idx
}
func (h candHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candHeap) Push(x interface{}) { *h = append(*h, x.(cand)) }
func (h *candHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// better reports whether candidate c beats the current worst entry w.
func better(c, w cand) bool {
	if c.d2 != w.d2 {
		return c.d2 < w.d2
	}
	return c.idx < w.idx
}

// Compute finds the k nearest neighbors of every row of scores under
// Euclidean distance. When k is not smaller than the number of cells it is
// clamped to nCells-1.
func Compute(scores *mat.Dense, k int) (*KNN, error) {
	nCells, nDims := scores.Dims()
	if nCells < 2 {
		return nil, errors.Errorf("need at least 2 cells to build a neighbor graph, have %d", nCells)
	}
	if k < 1 {
		return nil, errors.Errorf("invalid neighbor count %d", k)
	}
	if k > nCells-1 {
		log.Printf("neighbors: clamping k from %d to %d (only %d cells)", k, nCells-1, nCells)
		k = nCells - 1
	}

	knn := &KNN{
		K:    k,
		Idx:  make([][]int32, nCells),
		Dist: make([][]float32, nCells),
	}

	parallelism := runtime.NumCPU()
	err := traverse.Each(parallelism, func(jobIdx int) error {
		startIdx := (jobIdx * nCells) / parallelism
		endIdx := ((jobIdx + 1) * nCells) / parallelism
		h := make(candHeap, 0, k)
		for i := startIdx; i < endIdx; i++ {
			h = h[:0]
			qi := scores.RawRowView(i)
			for j := 0; j < nCells; j++ {
				if j == i {
					continue
				}
				qj := scores.RawRowView(j)
				var d2 float64
				for d := 0; d < nDims; d++ {
					diff := qi[d] - qj[d]
					d2 += diff * diff
				}
				c := cand{idx: int32(j), d2: d2}
				if len(h) < k {
					heap.Push(&h, c)
				} else if better(c, h[0]) {
					h[0] = c
					heap.Fix(&h, 0)
				}
			}
			idx := make([]int32, len(h))
			dist := make([]float32, len(h))
			for pos := len(h) - 1; pos >= 0; pos-- {
				c := heap.Pop(&h).(cand)
				idx[pos] = c.idx
				dist[pos] = float32(math.Sqrt(c.d2))
			}
			knn.Idx[i] = idx
			knn.Dist[i] = dist
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Debug.Printf("neighbors: %d cells, k=%d, %d dims", nCells, k, nDims)
	return knn, nil
}

// NCells returns the number of cells in the graph.
func (k *KNN) NCells() int { return len(k.Idx) }

// sets returns each cell's neighborhood as a sorted index list that includes
// the cell itself.
func (k *KNN) sets() [][]int32 {
	out := make([][]int32, len(k.Idx))
	for i, nbr := range k.Idx {
		s := make([]int32, 0, len(nbr)+1)
		s = append(s, int32(i))
		s = append(s, nbr...)
		sort.Slice(s, func(a, b int) bool { return s[a] < s[b] })
		out[i] = s
	}
	return out
}
