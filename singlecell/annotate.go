package singlecell

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/log"
)

// UnassignedLabel is the cell type given to clusters missing from the
// annotation map when unassigned clusters are allowed.
const UnassignedLabel = "Unassigned"

// CellTypeMap maps a cluster id to a human-assigned cell type label.
type CellTypeMap map[int]string

// ParseCellTypes reads a cluster annotation table: one "cluster<TAB>label"
// pair per line, '#' comments and blank lines ignored. Labels may contain
// spaces.
func ParseCellTypes(in io.Reader) (CellTypeMap, error) {
	m := CellTypeMap{}
	scanner := bufio.NewScanner(in)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tab := strings.IndexByte(line, '\t')
		if tab < 0 {
			return nil, fmt.Errorf("annotate: line %d: want cluster<TAB>label, got %q", lineNo, line)
		}
		cluster, err := strconv.Atoi(strings.TrimSpace(line[:tab]))
		if err != nil || cluster < 0 {
			return nil, fmt.Errorf("annotate: line %d: bad cluster id %q", lineNo, line[:tab])
		}
		label := strings.TrimSpace(line[tab+1:])
		if label == "" {
			return nil, fmt.Errorf("annotate: line %d: empty label for cluster %d", lineNo, cluster)
		}
		if prev, ok := m[cluster]; ok && prev != label {
			return nil, fmt.Errorf("annotate: line %d: cluster %d mapped to both %q and %q", lineNo, cluster, prev, label)
		}
		m[cluster] = label
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("annotate: no cluster labels found")
	}
	return m, nil
}

// Annotate sets CellType on every cell from its cluster id. Every observed
// cluster must have a label; with allowUnassigned, unlabeled clusters get
// UnassignedLabel instead of failing the run.
//
// REQUIRES: clustering has run.
func Annotate(d *Dataset, m CellTypeMap, allowUnassigned bool) error {
	observed := d.ClusterIDs()
	if len(observed) == 0 {
		return fmt.Errorf("annotate: dataset has no cluster assignments")
	}
	var missing []int
	for _, c := range observed {
		if _, ok := m[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 && !allowUnassigned {
		return fmt.Errorf("annotate: clusters %v have no label (%d labeled); rerun with -allow-unassigned to label them %q",
			missing, len(m), UnassignedLabel)
	}
	for _, c := range missing {
		log.Printf("annotate: cluster %d has no label, assigning %q", c, UnassignedLabel)
	}
	observedSet := map[int]bool{}
	for _, c := range observed {
		observedSet[c] = true
	}
	var stale []int
	for c := range m {
		if !observedSet[c] {
			stale = append(stale, c)
		}
	}
	if len(stale) > 0 {
		sort.Ints(stale)
		log.Printf("annotate: labels for absent clusters %v ignored", stale)
	}
	for i := range d.Cells {
		cell := &d.Cells[i]
		if cell.Cluster < 0 {
			return fmt.Errorf("annotate: cell %d (%s) has no cluster", i, cell.Barcode)
		}
		label, ok := m[cell.Cluster]
		if !ok {
			label = UnassignedLabel
		}
		cell.CellType = label
	}
	return nil
}

// CellTypeCounts tallies annotated cells per label, sorted by descending
// count then label for stable reporting.
func CellTypeCounts(d *Dataset) ([]string, []int) {
	counts := map[string]int{}
	for i := range d.Cells {
		if t := d.Cells[i].CellType; t != "" {
			counts[t]++
		}
	}
	labels := make([]string, 0, len(counts))
	for t := range counts {
		labels = append(labels, t)
	}
	sort.Slice(labels, func(i, j int) bool {
		if counts[labels[i]] != counts[labels[j]] {
			return counts[labels[i]] > counts[labels[j]]
		}
		return labels[i] < labels[j]
	})
	n := make([]int, len(labels))
	for i, t := range labels {
		n[i] = counts[t]
	}
	return labels, n
}
