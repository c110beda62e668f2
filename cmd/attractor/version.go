package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bjornslib/attractor"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the attractor version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("attractor version %s\n", attractor.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
