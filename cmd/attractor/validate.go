package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bjornslib/attractor/internal/validator"
	"github.com/bjornslib/attractor/pkg/pipeline/dot"
)

var validateCmd = &cobra.Command{
	Use:   "validate <pipeline.dot>",
	Short: "Check a pipeline graph for structural problems",
	Long:  `Validates endpoint uniqueness, acceptance criteria, test pairing, reachability, bead ID uniqueness and acyclicity. Exits non-zero when any rule is broken.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := dot.ParseFile(args[0])
		if err != nil {
			return err
		}
		violations := validator.Validate(g)
		if len(violations) == 0 {
			fmt.Println("pipeline is valid")
			return nil
		}
		for _, v := range violations {
			fmt.Println(v)
		}
		return fmt.Errorf("%d violation(s)", len(violations))
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
