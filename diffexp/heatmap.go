package diffexp

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/singlecell"
)

// MarkerMatrix builds the genes × clusters matrix behind the marker heatmap:
// mean log-normalized expression of up to perCluster top markers from each
// cluster, standardized per gene across clusters. Genes marking several
// clusters appear once, on the first cluster that claims them.
func MarkerMatrix(d *singlecell.Dataset, markers []Marker, perCluster int) (genes []string, clusters []int, z *mat.Dense, err error) {
	if d.LogNorm == nil {
		return nil, nil, nil, errors.New("marker matrix needs the log-normalized layer")
	}
	clusters = d.ClusterIDs()
	if len(clusters) == 0 {
		return nil, nil, nil, errors.New("no cluster assignments")
	}

	index := make(map[string]int, d.NGenes())
	for gi := range d.Genes {
		index[d.Genes[gi].ID] = gi
	}
	taken := make(map[string]bool)
	quota := make(map[int]int)
	var geneIdx []int
	for _, m := range markers {
		if perCluster > 0 && quota[m.Cluster] >= perCluster {
			continue
		}
		gi, ok := index[m.GeneID]
		if !ok {
			return nil, nil, nil, errors.Errorf("marker gene %s not in the dataset", m.GeneID)
		}
		if taken[m.GeneID] {
			continue
		}
		taken[m.GeneID] = true
		quota[m.Cluster]++
		geneIdx = append(geneIdx, gi)
		genes = append(genes, m.Gene)
	}
	if len(geneIdx) == 0 {
		return nil, nil, nil, errors.New("no marker rows to draw")
	}

	colOf := make(map[int]int, len(clusters))
	for c, id := range clusters {
		colOf[id] = c
	}
	nPer := make([]float64, len(clusters))
	for j := range d.Cells {
		if c := d.Cells[j].Cluster; c >= 0 {
			nPer[colOf[c]]++
		}
	}

	d.EnsureCSR()
	z = mat.NewDense(len(geneIdx), len(clusters), nil)
	row := make([]float64, len(clusters))
	for r, gi := range geneIdx {
		for c := range row {
			row[c] = 0
		}
		cells, pos := d.GeneEntries(gi)
		for i, cj := range cells {
			if c := d.Cells[cj].Cluster; c >= 0 {
				row[colOf[c]] += float64(d.LogNorm[pos[i]])
			}
		}
		for c := range row {
			row[c] /= nPer[c]
		}
		mean, sd := stat.MeanStdDev(row, nil)
		for c := range row {
			if sd > 0 {
				row[c] = (row[c] - mean) / sd
			} else {
				row[c] = 0
			}
		}
		z.SetRow(r, row)
	}
	return genes, clusters, z, nil
}
