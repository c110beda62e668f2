package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/bjornslib/attractor/pkg/runner"
	"github.com/bjornslib/attractor/pkg/signal"
)

// monitorCmd hosts one Runner. Guardians spawn it per node; it is hidden
// because operators never invoke it directly.
var monitorCmd = &cobra.Command{
	Use:    "monitor",
	Hidden: true,
	Short:  "Supervise one agent session and report over the signal bus",
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		nodeID, _ := cmd.Flags().GetString("node")
		session, _ := cmd.Flags().GetString("session")
		signalsDir, _ := cmd.Flags().GetString("signals-dir")
		workdir, _ := cmd.Flags().GetString("workdir")
		command, _ := cmd.Flags().GetString("command")
		attempt, _ := cmd.Flags().GetInt("attempt")
		stuck, _ := cmd.Flags().GetDuration("stuck-threshold")
		maxTurns, _ := cmd.Flags().GetInt("max-turns")
		if nodeID == "" || session == "" {
			return fmt.Errorf("--node and --session are required")
		}

		logger := newLogger(cmd)
		bus := signal.NewBus(signalsDir, signal.WithLogger(logger))
		m := runner.NewMonitor(runner.Config{
			NodeID:         nodeID,
			SessionName:    session,
			Workdir:        workdir,
			Command:        command,
			StuckThreshold: stuck,
			MaxTurns:       maxTurns,
			RetryCount:     attempt,
			StatePath:      filepath.Join(signalsDir, "..", "runners", session+".json"),
		}, runner.NewTmuxDriver(), bus, runner.WithLogger(logger))

		outcome, err := m.Run(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(outcome)
		return nil
	},
}

func init() {
	monitorCmd.Flags().String("node", "", "Node being implemented")
	monitorCmd.Flags().String("session", "", "tmux session name")
	monitorCmd.Flags().String("signals-dir", filepath.Join(".attractor", "signals"), "Signal bus directory")
	monitorCmd.Flags().String("workdir", "", "Working directory for the agent session")
	monitorCmd.Flags().String("command", "", "Command that starts the agent")
	monitorCmd.Flags().Int("attempt", 0, "Retry attempt this session represents")
	monitorCmd.Flags().Duration("stuck-threshold", 2*time.Minute, "Idle time before the session counts as stuck")
	monitorCmd.Flags().Int("max-turns", 80, "Output-change budget before the session counts as stuck")
	rootCmd.AddCommand(monitorCmd)
}
