package neighbors

import (
	"sort"

	"github.com/grailbio/base/log"
)

// Edge is an undirected SNN edge. Src < Dst always holds.
type Edge struct {
	Src    int32
	Dst    int32
	Weight float32
}

// SNNGraph is the shared-nearest-neighbor graph: two cells are connected by
// the Jaccard overlap of their kNN neighborhoods (self included). Edges whose
// weight falls below the prune cutoff are dropped.
type SNNGraph struct {
	NCells int
	Edges  []Edge
}

// SNN computes the shared-nearest-neighbor graph from the kNN lists. Any
// pair of cells with enough common neighbors is connected, whether or not
// one is in the other's kNN list.
func (k *KNN) SNN(prune float64) *SNNGraph {
	n := len(k.Idx)
	sets := k.sets()

	// Invert: inv[c] lists the cells whose neighborhood contains c.
	inv := make([][]int32, n)
	for i, s := range sets {
		for _, c := range s {
			inv[c] = append(inv[c], int32(i))
		}
	}

	// Cells sharing neighbor c contribute one shared count per pair.
	counts := make(map[int64]int32)
	for _, members := range inv {
		for x := 0; x < len(members); x++ {
			for y := x + 1; y < len(members); y++ {
				a, b := members[x], members[y]
				counts[int64(a)<<32|int64(b)]++
			}
		}
	}

	keys := make([]int64, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	g := &SNNGraph{NCells: n}
	for _, key := range keys {
		a := int32(key >> 32)
		b := int32(key & 0xffffffff)
		shared := counts[key]
		union := int32(len(sets[a])+len(sets[b])) - shared
		w := float64(shared) / float64(union)
		if w < prune {
			continue
		}
		g.Edges = append(g.Edges, Edge{Src: a, Dst: b, Weight: float32(w)})
	}
	log.Debug.Printf("neighbors: SNN graph with %d cells, %d edges (prune %.4f)", n, len(g.Edges), prune)
	return g
}

// Degrees returns the number of retained edges touching each cell.
func (g *SNNGraph) Degrees() []int {
	deg := make([]int, g.NCells)
	for _, e := range g.Edges {
		deg[e.Src]++
		deg[e.Dst]++
	}
	return deg
}
