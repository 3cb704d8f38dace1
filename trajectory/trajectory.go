// Package trajectory orders cells along a minimum-spanning-tree of cluster
// centroids in PC space. The whole stage runs on the PC score rows, a few
// floats per cell, so memory stays flat no matter how many genes the dataset
// carries.
package trajectory

import (
	"math"
	"runtime"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/mat"
)

// Opts configures trajectory inference.
type Opts struct {
	Root int // cluster id anchoring pseudotime zero
}

// DefaultOpts is the default value of Opts.
var DefaultOpts = Opts{
	Root: 0,
}

// Edge is one MST edge between cluster centroids, A < B.
type Edge struct {
	A, B   int
	Weight float64 // centroid distance in PC space
}

// Trajectory is the centroid tree plus the per-cell ordering derived from it.
type Trajectory struct {
	// Centroids is clusters × components: mean PC scores per cluster.
	Centroids *mat.Dense
	// Edges is the centroid MST.
	Edges []Edge
	// Parent[c] is the cluster preceding c on the path from the root, -1 at
	// the root itself.
	Parent []int
	// CentroidTime[c] is the tree distance from the root centroid, the
	// pseudotime of centroid c.
	CentroidTime []float64
	// Limb[c] names the arm of the tree holding c: the ancestor of c that
	// is a direct child of the root. The root is its own limb.
	Limb []int

	// Pseudotime and Branch are per cell: the position along the tree and
	// the limb of the cell's cluster.
	Pseudotime []float64
	Branch     []int32
}

// Infer builds the centroid MST and assigns every cell a pseudotime: the
// tree distance of its cluster's parent centroid plus the cell's projection
// onto the incoming tree edge, clamped to the edge. Cells of the root
// cluster project onto the best-aligned outgoing edge instead, so the root
// centroid sits at pseudotime zero.
func Infer(scores mat.Matrix, labels []int32, opts Opts) (*Trajectory, error) {
	nCells, nPCs := scores.Dims()
	if nCells != len(labels) {
		return nil, errors.Errorf("trajectory: %d score rows for %d labels", nCells, len(labels))
	}
	if nCells == 0 {
		return nil, errors.New("trajectory: no cells")
	}

	nClusters := 0
	for j, l := range labels {
		if l < 0 {
			return nil, errors.Errorf("trajectory: cell %d is unclustered", j)
		}
		if int(l)+1 > nClusters {
			nClusters = int(l) + 1
		}
	}
	if opts.Root < 0 || opts.Root >= nClusters {
		return nil, errors.Errorf("trajectory: root cluster %d out of range [0,%d)", opts.Root, nClusters)
	}

	centroids, err := centroidRows(scores, labels, nClusters)
	if err != nil {
		return nil, err
	}

	tr := &Trajectory{
		Centroids:    centroids,
		Parent:       make([]int, nClusters),
		CentroidTime: make([]float64, nClusters),
		Limb:         make([]int, nClusters),
		Pseudotime:   make([]float64, nCells),
		Branch:       make([]int32, nCells),
	}
	tr.Parent[opts.Root] = -1
	tr.Limb[opts.Root] = opts.Root

	if nClusters > 1 {
		if err := tr.spanCentroids(opts.Root, nClusters); err != nil {
			return nil, err
		}
	}
	if err := tr.projectCells(scores, labels, opts.Root, nPCs); err != nil {
		return nil, err
	}
	log.Printf("trajectory: %d clusters rooted at %d, max pseudotime %.3f",
		nClusters, opts.Root, floats.Max(tr.CentroidTime))
	return tr, nil
}

// centroidRows averages the PC rows of each cluster's cells. Every id in
// [0, nClusters) must be populated.
func centroidRows(scores mat.Matrix, labels []int32, nClusters int) (*mat.Dense, error) {
	nCells, nPCs := scores.Dims()
	centroids := mat.NewDense(nClusters, nPCs, nil)
	counts := make([]int, nClusters)
	row := make([]float64, nPCs)
	for j := 0; j < nCells; j++ {
		c := int(labels[j])
		counts[c]++
		mat.Row(row, j, scores)
		dst := centroids.RawRowView(c)
		floats.Add(dst, row)
	}
	for c := 0; c < nClusters; c++ {
		if counts[c] == 0 {
			return nil, errors.Errorf("trajectory: cluster %d has no cells; labels must be dense", c)
		}
		floats.Scale(1/float64(counts[c]), centroids.RawRowView(c))
	}
	return centroids, nil
}

// spanCentroids builds the MST over the complete centroid distance graph and
// fills Edges, Parent, CentroidTime, and Limb.
func (tr *Trajectory) spanCentroids(root, nClusters int) error {
	full := simple.NewWeightedUndirectedGraph(0, 0)
	for c := 0; c < nClusters; c++ {
		full.AddNode(simple.Node(c))
	}
	for a := 0; a < nClusters; a++ {
		for b := a + 1; b < nClusters; b++ {
			d := floats.Distance(tr.Centroids.RawRowView(a), tr.Centroids.RawRowView(b), 2)
			full.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(a), T: simple.Node(b), W: d})
		}
	}
	tree := simple.NewWeightedUndirectedGraph(0, 0)
	path.Kruskal(tree, full)

	it := tree.WeightedEdges()
	for it.Next() {
		e := it.WeightedEdge()
		a, b := int(e.From().ID()), int(e.To().ID())
		if a > b {
			a, b = b, a
		}
		tr.Edges = append(tr.Edges, Edge{A: a, B: b, Weight: e.Weight()})
	}
	sort.Slice(tr.Edges, func(i, j int) bool {
		if tr.Edges[i].A != tr.Edges[j].A {
			return tr.Edges[i].A < tr.Edges[j].A
		}
		return tr.Edges[i].B < tr.Edges[j].B
	})

	shortest := path.DijkstraFrom(simple.Node(root), tree)
	for c := 0; c < nClusters; c++ {
		if c == root {
			continue
		}
		nodes, w := shortest.To(int64(c))
		if len(nodes) < 2 || math.IsInf(w, 1) {
			return errors.Errorf("trajectory: cluster %d unreachable from root %d", c, root)
		}
		tr.CentroidTime[c] = w
		tr.Parent[c] = int(nodes[len(nodes)-2].ID())
	}

	limb := tr.Limb
	for c := range limb {
		limb[c] = -1
	}
	limb[root] = root
	var limbOf func(c int) int
	limbOf = func(c int) int {
		if limb[c] >= 0 {
			return limb[c]
		}
		if tr.Parent[c] == root {
			limb[c] = c
		} else {
			limb[c] = limbOf(tr.Parent[c])
		}
		return limb[c]
	}
	for c := 0; c < nClusters; c++ {
		limbOf(c)
	}
	return nil
}

// projectCells assigns per-cell pseudotime and branch.
func (tr *Trajectory) projectCells(scores mat.Matrix, labels []int32, root, nPCs int) error {
	nCells := len(labels)
	rootKids := make([]int, 0, 4)
	for c, p := range tr.Parent {
		if p == root {
			rootKids = append(rootKids, c)
		}
	}

	parallelism := runtime.NumCPU()
	return traverse.Each(parallelism, func(jobIdx int) error {
		startIdx := (jobIdx * nCells) / parallelism
		endIdx := ((jobIdx + 1) * nCells) / parallelism
		row := make([]float64, nPCs)
		delta := make([]float64, nPCs)
		dir := make([]float64, nPCs)
		for j := startIdx; j < endIdx; j++ {
			c := int(labels[j])
			tr.Branch[j] = int32(tr.Limb[c])
			mat.Row(row, j, scores)

			if c == root {
				// Pick the outgoing edge this cell leans toward.
				best := 0.0
				floats.SubTo(delta, row, tr.Centroids.RawRowView(root))
				for _, kid := range rootKids {
					floats.SubTo(dir, tr.Centroids.RawRowView(kid), tr.Centroids.RawRowView(root))
					l := floats.Norm(dir, 2)
					if l == 0 {
						continue
					}
					t := floats.Dot(delta, dir) / l
					if t > l {
						t = l
					}
					if t > best {
						best = t
					}
				}
				tr.Pseudotime[j] = best
				continue
			}

			p := tr.Parent[c]
			floats.SubTo(dir, tr.Centroids.RawRowView(c), tr.Centroids.RawRowView(p))
			l := floats.Norm(dir, 2)
			if l == 0 {
				tr.Pseudotime[j] = tr.CentroidTime[c]
				continue
			}
			floats.SubTo(delta, row, tr.Centroids.RawRowView(p))
			t := floats.Dot(delta, dir) / l
			if t < 0 {
				t = 0
			} else if t > l {
				t = l
			}
			tr.Pseudotime[j] = tr.CentroidTime[p] + t
		}
		return nil
	})
}
