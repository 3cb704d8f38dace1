package diffexp

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// obs is one nonzero expression value and its group membership. Cells where
// the gene is undetected are carried as counts, not materialized: the
// log-normalized layer is strictly positive on stored entries, so the zeros
// always form the lowest tie block.
type obs struct {
	v  float64
	in bool
}

// rankSumP computes the two-sided Wilcoxon rank-sum p-value for the in-group
// against the rest, using midranks for ties, the normal approximation with
// tie-corrected variance, and a continuity correction. nz is scratch and
// comes back reordered.
func rankSumP(nz []obs, zeroIn, zeroOut int) float64 {
	n1, n2 := zeroIn, zeroOut
	for _, o := range nz {
		if o.in {
			n1++
		} else {
			n2++
		}
	}
	n := n1 + n2
	if n1 == 0 || n2 == 0 {
		return 1
	}
	sort.Slice(nz, func(i, j int) bool { return nz[i].v < nz[j].v })

	var r1, tieTerm float64
	z0 := zeroIn + zeroOut
	if z0 > 0 {
		r1 += float64(zeroIn) * float64(z0+1) / 2
		t := float64(z0)
		tieTerm += t*t*t - t
	}
	rank := z0
	for i := 0; i < len(nz); {
		j, tiedIn := i, 0
		for j < len(nz) && nz[j].v == nz[i].v {
			if nz[j].in {
				tiedIn++
			}
			j++
		}
		t := j - i
		r1 += float64(tiedIn) * (float64(rank) + float64(t+1)/2)
		if t > 1 {
			tf := float64(t)
			tieTerm += tf*tf*tf - tf
		}
		rank += t
		i = j
	}

	u := r1 - float64(n1)*float64(n1+1)/2
	mu := float64(n1) * float64(n2) / 2
	nf := float64(n)
	sigma2 := float64(n1) * float64(n2) / 12 * ((nf + 1) - tieTerm/(nf*(nf-1)))
	if sigma2 <= 0 {
		// Every value tied; the groups are indistinguishable.
		return 1
	}
	dev := u - mu
	switch {
	case dev > 0.5:
		dev -= 0.5
	case dev < -0.5:
		dev += 0.5
	default:
		dev = 0
	}
	z := dev / math.Sqrt(sigma2)
	p := 2 * distuv.Normal{Mu: 0, Sigma: 1}.CDF(-math.Abs(z))
	if p > 1 {
		p = 1
	}
	return p
}

// BenjaminiHochberg returns FDR-adjusted p-values in input order. The input
// slice is not modified.
func BenjaminiHochberg(p []float64) []float64 {
	n := len(p)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return p[idx[a]] < p[idx[b]] })
	adj := make([]float64, n)
	min := 1.0
	for k := n - 1; k >= 0; k-- {
		v := p[idx[k]] * float64(n) / float64(k+1)
		if v < min {
			min = v
		}
		adj[idx[k]] = min
	}
	return adj
}
