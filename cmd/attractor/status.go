package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bjornslib/attractor/pkg/checkpoint"
	"github.com/bjornslib/attractor/pkg/pipeline"
)

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show pipeline state from the checkpoint store",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		mgr := checkpoint.NewManager(cfg.CheckpointsDir)

		if len(args) == 1 {
			return printSession(mgr, args[0])
		}

		cps, err := mgr.List()
		if err != nil {
			return err
		}
		if len(cps) == 0 {
			fmt.Println("no checkpoints")
			return nil
		}
		sessions := make(map[string]bool)
		for _, cp := range cps {
			sessions[cp.SessionID] = true
		}
		ids := make([]string, 0, len(sessions))
		for id := range sessions {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if err := printSession(mgr, id); err != nil {
				return err
			}
		}
		return nil
	},
}

func printSession(mgr *checkpoint.Manager, sessionID string) error {
	g, cp, err := mgr.Latest(sessionID)
	if err != nil {
		return err
	}
	counts := make(map[pipeline.Status]int)
	for _, n := range g.NodesInOrder() {
		counts[n.Status]++
	}
	fmt.Printf("%s (checkpoint %s, %s)\n", sessionID, cp.ID, cp.Timestamp.Format("2006-01-02 15:04:05"))
	for _, status := range []pipeline.Status{
		pipeline.StatusPending, pipeline.StatusActive, pipeline.StatusImplComplete,
		pipeline.StatusValidated, pipeline.StatusFailed,
	} {
		if counts[status] > 0 {
			fmt.Printf("  %-14s %d\n", status, counts[status])
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
