package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bjornslib/attractor/pkg/signal"
)

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Block until a matching signal arrives and claim it",
	Long:  `Waits for the next signal addressed to --target, optionally filtered by type and node. The claimed signal is printed as JSON. A timed-out wait exits with code 2.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		target, _ := cmd.Flags().GetString("target")
		nodeID, _ := cmd.Flags().GetString("node")
		types, _ := cmd.Flags().GetStringSlice("type")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		poll, _ := cmd.Flags().GetDuration("poll")
		if poll <= 0 {
			poll = cfg.SignalPoll.Std()
		}

		bus := signal.NewBus(cfg.SignalsDir, signal.WithLogger(newLogger(cmd)))
		sig, err := bus.Wait(cmd.Context(), signal.Filter{
			Target: target,
			NodeID: nodeID,
			Types:  types,
		}, timeout, poll)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sig)
	},
}

func init() {
	waitCmd.Flags().String("target", signal.LayerGuardian, "Layer the signal is addressed to")
	waitCmd.Flags().String("node", "", "Only match signals for this node")
	waitCmd.Flags().StringSlice("type", nil, "Only match these signal types")
	waitCmd.Flags().Duration("timeout", 10*time.Minute, "Give up after this long")
	waitCmd.Flags().Duration("poll", 0, "Rescan interval (defaults to signal_poll from config)")
	rootCmd.AddCommand(waitCmd)
}

func parsePayload(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	return payload, nil
}
