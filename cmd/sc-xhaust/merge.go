package main

import (
	"fmt"
	"path"
	"strings"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/cluster"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/encoding/sds"
	"github.com/imd9/scRNAseq-myeloid-driven-CD8-T-cell-exhaustion-post-chemotherapy/singlecell"
	"github.com/pkg/errors"
	"v.io/x/lib/cmdline"
)

func newCmdMerge() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "merge",
		Short: "Concatenate datasets from multiple libraries",
		Long: `
Merge concatenates the cells of several datasets over an identical gene
table, tagging each cell with its library name and suffixing barcodes so
they stay unique. Derived layers and annotations are dropped; run the
pipeline on the merged output from normalize onward.
`,
		ArgsName: "a.sds b.sds ...",
	}
	outFlag := cmd.Flags.String("o", "merged.sds", "Output dataset filename")
	namesFlag := cmd.Flags.String("names", "", "Comma-separated library names; default derives from filenames")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) < 2 {
			return errors.Errorf("merge takes two or more datasets, got %v", argv)
		}
		return runMerge(argv, *outFlag, *namesFlag)
	})
	return cmd
}

func runMerge(paths []string, out, namesCSV string) error {
	ctx := vcontext.Background()
	names := make([]string, len(paths))
	if namesCSV != "" {
		split := strings.Split(namesCSV, ",")
		if len(split) != len(paths) {
			return errors.Errorf("-names lists %d names for %d inputs", len(split), len(paths))
		}
		names = split
	} else {
		for i, p := range paths {
			names[i] = strings.TrimSuffix(path.Base(p), ".sds")
		}
	}
	datasets := make([]*singlecell.Dataset, len(paths))
	for i, p := range paths {
		d, err := sds.ReadDataset(ctx, p)
		if err != nil {
			return err
		}
		datasets[i] = d
	}
	merged, err := singlecell.Merge(names, datasets)
	if err != nil {
		return err
	}
	return sds.WriteDataset(ctx, out, merged)
}

func newCmdStat() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "stat",
		Short:    "Summarize datasets",
		ArgsName: "in.sds ...",
	}
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) == 0 {
			return errors.New("stat takes at least one dataset")
		}
		for _, p := range argv {
			if err := runStat(p); err != nil {
				return err
			}
		}
		return nil
	})
	return cmd
}

func runStat(in string) error {
	ctx := vcontext.Background()
	d, err := sds.ReadDataset(ctx, in)
	if err != nil {
		return err
	}
	layers := "counts"
	if d.LogNorm != nil {
		layers += "+lognorm"
	}
	fmt.Printf("%s:\n", in)
	fmt.Printf("  %d genes x %d cells, %d entries (%s)\n", len(d.Genes), len(d.Cells), len(d.Counts), layers)
	fmt.Printf("  fingerprint %s\n", singlecell.ComputeFingerprint(d))

	if ids := d.ClusterIDs(); len(ids) > 0 {
		labels := make([]int32, 0, len(d.Cells))
		for i := range d.Cells {
			if c := d.Cells[i].Cluster; c >= 0 {
				labels = append(labels, int32(c))
			}
		}
		fmt.Printf("  %d clusters, sizes", len(ids))
		for _, n := range cluster.Sizes(labels) {
			fmt.Printf(" %d", n)
		}
		fmt.Printf("\n")
	}
	names, counts := singlecell.CellTypeCounts(d)
	for i, name := range names {
		fmt.Printf("  %8d  %s\n", counts[i], name)
	}
	return nil
}
