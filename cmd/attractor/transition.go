package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bjornslib/attractor/pkg/checkpoint"
	"github.com/bjornslib/attractor/pkg/lifecycle"
	"github.com/bjornslib/attractor/pkg/pipeline"
)

var transitionCmd = &cobra.Command{
	Use:   "transition <node-id> <status>",
	Short: "Apply one lifecycle transition to the latest checkpoint",
	Long:  `Loads the newest checkpoint of a session, applies the transition with full legality checks, and writes a new checkpoint. Promoting to validated requires --evidence VALIDATION_PASSED or AUTO_VALIDATED.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		sessionID, _ := cmd.Flags().GetString("session")
		if sessionID == "" {
			return fmt.Errorf("--session is required")
		}

		mgr := checkpoint.NewManager(cfg.CheckpointsDir)
		g, _, err := mgr.Latest(sessionID)
		if err != nil {
			return err
		}

		var ev *lifecycle.Evidence
		if kind, _ := cmd.Flags().GetString("evidence"); kind != "" {
			ev = &lifecycle.Evidence{Kind: kind, Source: "cli"}
		}
		if err := lifecycle.Apply(g, args[0], pipeline.Status(args[1]), ev); err != nil {
			return err
		}

		cp, err := mgr.Save(g, sessionID)
		if err != nil {
			return err
		}
		fmt.Printf("%s -> %s (checkpoint %s)\n", args[0], args[1], cp.ID)
		return nil
	},
}

func init() {
	transitionCmd.Flags().String("session", "", "Session whose latest checkpoint is updated")
	transitionCmd.Flags().String("evidence", "", "Evidence kind supporting the transition")
	rootCmd.AddCommand(transitionCmd)
}
