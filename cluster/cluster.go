// Package cluster partitions the shared-nearest-neighbor graph into
// communities and lays cells out in two dimensions for plotting.
package cluster

import (
	"sort"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/neighbors"
)

// Opts configures community detection and the 2-D embedding.
type Opts struct {
	Resolution    float64 // Louvain resolution; higher values yield more, smaller clusters
	MaxEmbedCells int     // cells beyond this count are placed from neighbors instead of eigendecomposed
	Seed          int64   // seed for embedding downsampling
}

// DefaultOpts is the default value of Opts.
var DefaultOpts = Opts{
	Resolution:    0.5,
	MaxEmbedCells: 5000,
	Seed:          0,
}

// Partition runs Louvain community detection on the SNN graph and returns a
// dense cluster id per cell. Ids are ordered by decreasing cluster size;
// among equal sizes the community found first keeps the lower id. Cells with
// no surviving SNN edge come back as singleton clusters.
func Partition(g *neighbors.SNNGraph, opts Opts) ([]int32, error) {
	if g.NCells == 0 {
		return nil, errors.New("cannot cluster an empty graph")
	}
	wg := simple.NewWeightedUndirectedGraph(0, 0)
	for i := 0; i < g.NCells; i++ {
		wg.AddNode(simple.Node(i))
	}
	for _, e := range g.Edges {
		if e.Src == e.Dst {
			continue
		}
		wg.SetWeightedEdge(simple.WeightedEdge{
			F: simple.Node(e.Src),
			T: simple.Node(e.Dst),
			W: float64(e.Weight),
		})
	}

	reduced := community.Modularize(wg, opts.Resolution, nil)
	comms := reduced.Communities()

	order := make([]int, len(comms))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return len(comms[order[a]]) > len(comms[order[b]])
	})

	labels := make([]int32, g.NCells)
	for i := range labels {
		labels[i] = -1
	}
	for newID, ci := range order {
		for _, node := range comms[ci] {
			labels[node.ID()] = int32(newID)
		}
	}
	for i, l := range labels {
		if l < 0 {
			return nil, errors.Errorf("cell %d received no cluster", i)
		}
	}
	log.Printf("cluster: %d cells in %d clusters (resolution %.2f)", g.NCells, len(comms), opts.Resolution)
	return labels, nil
}

// Sizes returns the number of cells per cluster id. Labels must be dense,
// as produced by Partition.
func Sizes(labels []int32) []int {
	max := int32(-1)
	for _, l := range labels {
		if l > max {
			max = l
		}
	}
	sizes := make([]int, max+1)
	for _, l := range labels {
		sizes[l]++
	}
	return sizes
}
