// Package diffexp finds cluster marker genes by one-vs-rest differential
// expression on the log-normalized layer.
package diffexp

import (
	"math"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/pkg/errors"

	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/singlecell"
)

// Opts configures marker discovery.
type Opts struct {
	MinPct       float64 // test only genes detected in at least this fraction of either group
	MinLogFC     float64 // minimum log2 fold change between the cluster and the rest
	OnlyPositive bool    // keep only genes enriched in the cluster, not depleted
	TopMarkers   int     // rows kept per cluster after ranking, 0 keeps all
}

// DefaultOpts is the default value of Opts.
var DefaultOpts = Opts{
	MinPct:       0.25,
	MinLogFC:     0.25,
	OnlyPositive: true,
	TopMarkers:   25,
}

// Marker is one row of a marker table: a gene enriched in one cluster
// relative to all other cells.
type Marker struct {
	Cluster   int
	Gene      string // gene symbol
	GeneID    string
	AvgLog2FC float64
	Pct1      float64 // fraction of in-cluster cells expressing the gene
	Pct2      float64 // fraction of all other cells expressing the gene
	PValue    float64
	PAdj      float64 // Benjamini-Hochberg adjusted within the cluster
}

// FindAll computes markers for every cluster present on the dataset. Each
// cluster is tested one-vs-rest with the Wilcoxon rank-sum test; within each
// cluster the rows come back ranked by adjusted p-value, ties broken by fold
// change, truncated to opts.TopMarkers.
func FindAll(d *singlecell.Dataset, opts Opts) ([]Marker, error) {
	if d.LogNorm == nil {
		return nil, errors.New("markers need the log-normalized layer; run normalize first")
	}
	ids := d.ClusterIDs()
	if len(ids) == 0 {
		return nil, errors.New("no cluster assignments; run cluster first")
	}
	d.EnsureCSR()

	perCluster := make([][]Marker, len(ids))
	err := traverse.Each(len(ids), func(jobIdx int) error {
		perCluster[jobIdx] = findCluster(d, ids[jobIdx], opts)
		return nil
	})
	if err != nil {
		return nil, err
	}
	var markers []Marker
	for i, ms := range perCluster {
		log.Debug.Printf("markers: cluster %d has %d markers", ids[i], len(ms))
		markers = append(markers, ms...)
	}
	log.Printf("markers: %d rows across %d clusters", len(markers), len(ids))
	return markers, nil
}

func findCluster(d *singlecell.Dataset, cluster int, opts Opts) []Marker {
	in := make([]bool, d.NCells())
	nIn := 0
	for j := range d.Cells {
		if d.Cells[j].Cluster == cluster {
			in[j] = true
			nIn++
		}
	}
	nOut := d.NCells() - nIn
	if nIn == 0 || nOut == 0 {
		return nil
	}

	var cands []Marker
	var pvals []float64
	nz := make([]obs, 0, 1024)
	for g := 0; g < d.NGenes(); g++ {
		cells, pos := d.GeneEntries(g)
		nz = nz[:0]
		var sumIn, sumOut float64
		nzIn, nzOut := 0, 0
		for i, c := range cells {
			v := float64(d.LogNorm[pos[i]])
			if in[c] {
				nzIn++
				sumIn += math.Expm1(v)
				nz = append(nz, obs{v: v, in: true})
			} else {
				nzOut++
				sumOut += math.Expm1(v)
				nz = append(nz, obs{v: v})
			}
		}
		pct1 := float64(nzIn) / float64(nIn)
		pct2 := float64(nzOut) / float64(nOut)
		if pct1 < opts.MinPct && pct2 < opts.MinPct {
			continue
		}
		// Fold change on the depth-corrected scale, with a pseudocount so
		// absent genes stay finite.
		logFC := math.Log2(sumIn/float64(nIn)+1) - math.Log2(sumOut/float64(nOut)+1)
		if opts.OnlyPositive {
			if logFC < opts.MinLogFC {
				continue
			}
		} else if math.Abs(logFC) < opts.MinLogFC {
			continue
		}
		p := rankSumP(nz, nIn-nzIn, nOut-nzOut)
		cands = append(cands, Marker{
			Cluster:   cluster,
			Gene:      d.Genes[g].Name,
			GeneID:    d.Genes[g].ID,
			AvgLog2FC: logFC,
			Pct1:      pct1,
			Pct2:      pct2,
			PValue:    p,
		})
		pvals = append(pvals, p)
	}

	adj := BenjaminiHochberg(pvals)
	for i := range cands {
		cands[i].PAdj = adj[i]
	}
	sort.SliceStable(cands, func(a, b int) bool {
		if cands[a].PAdj != cands[b].PAdj {
			return cands[a].PAdj < cands[b].PAdj
		}
		if cands[a].PValue != cands[b].PValue {
			return cands[a].PValue < cands[b].PValue
		}
		return cands[a].AvgLog2FC > cands[b].AvgLog2FC
	})
	if opts.TopMarkers > 0 && len(cands) > opts.TopMarkers {
		cands = cands[:opts.TopMarkers]
	}
	return cands
}
