package cluster

import (
	"math"
	"math/rand"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/neighbors"
)

// Embedding holds 2-D per-cell coordinates for plotting.
type Embedding struct {
	X, Y []float64
	// Sampled marks the cells that took part in the eigendecomposition.
	// The rest were placed at the weighted mean of their sampled neighbors.
	Sampled []bool
}

// Embed computes spectral coordinates for every cell: the two leading
// nontrivial eigenvectors of the symmetric normalized Laplacian of the SNN
// graph. When the graph exceeds opts.MaxEmbedCells, the decomposition runs
// on a random sample of that size and the remaining cells are placed at the
// weighted mean of their sampled neighbors, so peak memory is bounded by the
// cap rather than by the dataset.
func Embed(g *neighbors.SNNGraph, opts Opts) (*Embedding, error) {
	n := g.NCells
	if n < 3 {
		return nil, errors.Errorf("need at least 3 cells to embed, have %d", n)
	}
	max := opts.MaxEmbedCells
	if max <= 0 {
		max = DefaultOpts.MaxEmbedCells
	}

	if n <= max {
		keep := make([]int, n)
		for i := range keep {
			keep[i] = i
		}
		x, y, err := spectral(g.Edges, keep)
		if err != nil {
			return nil, err
		}
		sampled := make([]bool, n)
		for i := range sampled {
			sampled[i] = true
		}
		return &Embedding{X: x, Y: y, Sampled: sampled}, nil
	}

	random := rand.New(rand.NewSource(opts.Seed))
	keep := random.Perm(n)[:max]
	sort.Ints(keep)
	log.Printf("embed: %d cells exceed cap %d, eigendecomposing a sample", n, max)

	sx, sy, err := spectral(g.Edges, keep)
	if err != nil {
		return nil, err
	}

	pos := make(map[int32]int, len(keep))
	for p, cell := range keep {
		pos[int32(cell)] = p
	}

	type arc struct {
		to int32
		w  float64
	}
	adj := make([][]arc, n)
	for _, e := range g.Edges {
		w := float64(e.Weight)
		adj[e.Src] = append(adj[e.Src], arc{e.Dst, w})
		adj[e.Dst] = append(adj[e.Dst], arc{e.Src, w})
	}

	emb := &Embedding{
		X:       make([]float64, n),
		Y:       make([]float64, n),
		Sampled: make([]bool, n),
	}
	for p, cell := range keep {
		emb.X[cell] = sx[p]
		emb.Y[cell] = sy[p]
		emb.Sampled[cell] = true
	}
	orphans := 0
	for cell := 0; cell < n; cell++ {
		if emb.Sampled[cell] {
			continue
		}
		var wsum, xsum, ysum float64
		for _, a := range adj[cell] {
			p, ok := pos[a.to]
			if !ok {
				continue
			}
			wsum += a.w
			xsum += a.w * sx[p]
			ysum += a.w * sy[p]
		}
		if wsum == 0 {
			// No sampled neighbor; leave the cell at the origin.
			orphans++
			continue
		}
		emb.X[cell] = xsum / wsum
		emb.Y[cell] = ysum / wsum
	}
	if orphans > 0 {
		log.Printf("embed: %d unsampled cells had no sampled neighbor", orphans)
	}
	return emb, nil
}

// spectral eigendecomposes the symmetric normalized Laplacian restricted to
// the cells in keep (which must be sorted and unique) and returns the
// eigenvectors for the second- and third-smallest eigenvalues, indexed by
// position in keep. The smallest eigenvalue's vector is the trivial one and
// carries no geometry.
func spectral(edges []neighbors.Edge, keep []int) (x, y []float64, err error) {
	m := len(keep)
	if m < 3 {
		return nil, nil, errors.Errorf("need at least 3 cells for a spectral embedding, have %d", m)
	}
	pos := make(map[int32]int, m)
	for p, cell := range keep {
		pos[int32(cell)] = p
	}

	deg := make([]float64, m)
	for _, e := range edges {
		a, aok := pos[e.Src]
		b, bok := pos[e.Dst]
		if !aok || !bok || a == b {
			continue
		}
		w := float64(e.Weight)
		deg[a] += w
		deg[b] += w
	}

	l := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		l.SetSym(i, i, 1)
	}
	for _, e := range edges {
		a, aok := pos[e.Src]
		b, bok := pos[e.Dst]
		if !aok || !bok || a == b {
			continue
		}
		w := float64(e.Weight)
		l.SetSym(a, b, -w/math.Sqrt(deg[a]*deg[b]))
	}

	var eig mat.EigenSym
	if !eig.Factorize(l, true) {
		return nil, nil, errors.New("laplacian eigendecomposition failed")
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Eigenvalues come back ascending, so columns 1 and 2 are the first
	// nontrivial directions.
	x = make([]float64, m)
	y = make([]float64, m)
	for i := 0; i < m; i++ {
		x[i] = vecs.At(i, 1)
		y[i] = vecs.At(i, 2)
	}
	return x, y, nil
}
