package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bjornslib/attractor/pkg/signal"
)

var respondCmd = &cobra.Command{
	Use:   "respond <type>",
	Short: "Send a response signal down to a runner",
	Long:  `Writes a guardian-to-runner signal: VALIDATION_PASSED, VALIDATION_FAILED, INPUT_RESPONSE, GUIDANCE or KILL_ORCHESTRATOR.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		nodeID, _ := cmd.Flags().GetString("node")
		raw, _ := cmd.Flags().GetString("payload")
		payload, err := parsePayload(raw)
		if err != nil {
			return err
		}

		bus := signal.NewBus(cfg.SignalsDir)
		sig, err := bus.Write(&signal.Signal{
			Source:  signal.LayerGuardian,
			Target:  signal.LayerRunner,
			Type:    args[0],
			NodeID:  nodeID,
			Payload: payload,
		})
		if err != nil {
			return err
		}
		fmt.Println(sig.Filename())
		return nil
	},
}

func init() {
	respondCmd.Flags().String("node", "", "Node the response is for")
	respondCmd.Flags().String("payload", "", "JSON object attached to the signal")
	rootCmd.AddCommand(respondCmd)
}
