package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bjornslib/attractor/pkg/pipeline/dot"
)

var parseCmd = &cobra.Command{
	Use:   "parse <pipeline.dot>",
	Short: "Parse a pipeline graph and print its nodes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := dot.ParseFile(args[0])
		if err != nil {
			return err
		}
		roundTrip, _ := cmd.Flags().GetBool("dot")
		if roundTrip {
			fmt.Print(dot.Serialize(g))
			return nil
		}
		fmt.Printf("pipeline %s: %d nodes, %d edges\n", g.Name, len(g.NodeIDs()), len(g.Edges))
		for _, n := range g.NodesInOrder() {
			fmt.Printf("  %-20s handler=%-12s status=%s", n.ID, n.Handler, n.Status)
			if n.BeadID != "" {
				fmt.Printf(" bead_id=%s", n.BeadID)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	parseCmd.Flags().Bool("dot", false, "Print the normalized DOT text instead of a summary")
	rootCmd.AddCommand(parseCmd)
}
