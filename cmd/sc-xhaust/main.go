// sc-xhaust is a verb-style driver for the exploratory scRNA-seq pipeline:
// ingest a count matrix, filter cells, normalize, reduce, cluster, rank
// markers, annotate cell types and order cells along a pseudotime trajectory.
// Each verb reads and writes durable files, so stages can be rerun or
// inspected independently; "run" chains them all.
package main

import (
	"log"

	"v.io/x/lib/cmdline"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(
		&cmdline.Command{
			Name:     "sc-xhaust",
			Short:    "Exploratory scRNA-seq analysis: QC, clustering, markers, pseudotime",
			LookPath: false,
			Children: []*cmdline.Command{
				newCmdIngest(),
				newCmdQC(),
				newCmdNormalize(),
				newCmdReduce(),
				newCmdCluster(),
				newCmdMarkers(),
				newCmdAnnotate(),
				newCmdTrajectory(),
				newCmdMerge(),
				newCmdStat(),
				newCmdRun(),
			},
		})
}
