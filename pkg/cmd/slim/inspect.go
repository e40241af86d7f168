package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/slim-clustering/pkg/analysis"
	"github.com/gilchrisn/slim-clustering/pkg/kernel"
	"github.com/gilchrisn/slim-clustering/pkg/models"
	"github.com/gilchrisn/slim-clustering/pkg/parser"
	"github.com/gilchrisn/slim-clustering/pkg/train"
	"github.com/gilchrisn/slim-clustering/pkg/validation"
)

var (
	inspectGraph   int
	inspectSummary string
	inspectMode    string
	inspectCenters string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [dataset]",
	Short: "Show dataset statistics, a graph kernel, saved centers or a run summary",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInspect,
}

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

func init() {
	inspectCmd.Flags().IntVar(&inspectGraph, "graph", -1, "print the adjacency kernel of this graph")
	inspectCmd.Flags().StringVar(&inspectSummary, "summary", "", "print the epochs of a summary.yaml")
	inspectCmd.Flags().StringVar(&inspectMode, "kernel-mode", "symmetric", "kernel scaling for --graph")
	inspectCmd.Flags().StringVar(&inspectCenters, "centers", "", "print the 2D layout of a saved centers.bin")
}

func runInspect(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if inspectSummary != "" {
		result, err := train.ReadSummary(inspectSummary)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, headerStyle.Render("run "+result.RunID))
		for _, e := range result.Epochs {
			fmt.Fprintf(out, "epoch %3d  train loss %.5f acc %.5f  test loss %.5f acc %.5f auc %.5f\n",
				e.Epoch, e.Train.Loss, e.Train.Accuracy, e.Test.Loss, e.Test.Accuracy, e.Test.AUC)
		}
	}
	if inspectCenters != "" {
		if err := printCenters(out, inspectCenters); err != nil {
			return err
		}
	}
	if len(args) == 0 {
		if inspectSummary != "" || inspectCenters != "" {
			return nil
		}
		return fmt.Errorf("inspect needs a dataset, --summary or --centers")
	}

	ds, err := parser.LoadGraphs(args[0])
	if err != nil {
		return err
	}
	if err := validation.ValidateDataset(ds); err != nil {
		fmt.Fprintf(out, "validation: %v\n", err)
	}

	edges, edgeless, maxNodes := 0, 0, 0
	perLabel := make(map[int]int)
	for _, g := range ds.Graphs {
		e := g.NumEdges()
		edges += e
		if e == 0 {
			edgeless++
		}
		if g.NumNodes > maxNodes {
			maxNodes = g.NumNodes
		}
		perLabel[g.Label]++
	}
	nodes := models.TotalNodes(ds.Graphs)

	fmt.Fprintln(out, headerStyle.Render(args[0]))
	fmt.Fprintf(out, "graphs      %s\n", humanize.Comma(int64(len(ds.Graphs))))
	fmt.Fprintf(out, "nodes       %s (max %d per graph)\n", humanize.Comma(int64(nodes)), maxNodes)
	fmt.Fprintf(out, "edges       %s\n", humanize.Comma(int64(edges)))
	fmt.Fprintf(out, "edgeless    %d\n", edgeless)
	fmt.Fprintf(out, "tags        %d\n", ds.NumTags())
	fmt.Fprintf(out, "attributes  %d\n", ds.AttrDim)
	conn := analysis.Profile(ds.Graphs)
	fmt.Fprintf(out, "disconnected %d (max %d components, %d isolated nodes)\n",
		conn.Disconnected, conn.MaxComponents, conn.IsolatedNodes)

	raw := make(map[int]string, len(ds.LabelDict))
	for r, idx := range ds.LabelDict {
		raw[idx] = r
	}
	labels := make([]int, 0, len(perLabel))
	for l := range perLabel {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	for _, l := range labels {
		fmt.Fprintf(out, "label %-5s %d\n", raw[l], perLabel[l])
	}

	if inspectGraph >= 0 {
		if inspectGraph >= len(ds.Graphs) {
			return fmt.Errorf("graph %d outside %d graphs", inspectGraph, len(ds.Graphs))
		}
		mode, err := kernel.ParseMode(inspectMode)
		if err != nil {
			return err
		}
		opts := kernel.DefaultOptions()
		opts.Mode = mode
		k, err := kernel.GraphKernel(ds.Graphs[inspectGraph], opts)
		if err != nil {
			return err
		}
		c := analysis.GraphConnectivity(ds.Graphs[inspectGraph])
		fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("kernel of graph %d (degenerate=%v, components=%d)", inspectGraph, k.Degenerate, c.Components)))
		fmt.Fprintf(out, "%.4f\n", mat.Formatted(k.Matrix, mat.Squeeze()))
	}
	return nil
}

func printCenters(out io.Writer, path string) error {
	if err := validation.ValidateFileFormat(path, ".bin", ".txt"); err != nil {
		return err
	}
	u, err := parser.LoadMatrix(path)
	if err != nil {
		return err
	}
	layout, err := analysis.CenterLayout(u)
	if err != nil {
		return err
	}
	k, d := u.Dims()
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%d centers of dimension %d", k, d)))
	for i, p := range layout.Positions {
		fmt.Fprintf(out, "center %-4d %9.4f %9.4f\n", i, p.X, p.Y)
	}
	return nil
}
