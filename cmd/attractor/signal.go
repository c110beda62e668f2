package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bjornslib/attractor/pkg/signal"
)

var signalCmd = &cobra.Command{
	Use:   "signal <type>",
	Short: "Send a signal from the runner layer to the guardian",
	Long:  `Writes a signal file onto the bus, addressed to the guardian. Runner hosts use this to report NODE_COMPLETE, NEEDS_INPUT, NEEDS_REVIEW and VIOLATION.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		nodeID, _ := cmd.Flags().GetString("node")
		source, _ := cmd.Flags().GetString("source")
		raw, _ := cmd.Flags().GetString("payload")
		payload, err := parsePayload(raw)
		if err != nil {
			return err
		}

		bus := signal.NewBus(cfg.SignalsDir)
		sig, err := bus.Write(&signal.Signal{
			Source:  source,
			Target:  signal.LayerGuardian,
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
	signalCmd.Flags().String("node", "", "Node the signal is about")
	signalCmd.Flags().String("source", signal.LayerRunner, "Layer sending the signal")
	signalCmd.Flags().String("payload", "", "JSON object attached to the signal")
	rootCmd.AddCommand(signalCmd)
}
