package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bjornslib/attractor/pkg/signal"
)

var escalateCmd = &cobra.Command{
	Use:   "escalate",
	Short: "Raise an issue to the terminal layer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		pipelineID, _ := cmd.Flags().GetString("pipeline")
		issue, _ := cmd.Flags().GetString("issue")
		nodeID, _ := cmd.Flags().GetString("node")
		options, _ := cmd.Flags().GetStringSlice("option")
		if issue == "" {
			return fmt.Errorf("--issue is required")
		}

		bus := signal.NewBus(cfg.SignalsDir)
		sig, err := bus.Write(&signal.Signal{
			Source: signal.LayerGuardian,
			Target: signal.LayerTerminal,
			Type:   signal.TypeEscalation,
			NodeID: nodeID,
			Payload: map[string]any{
				"pipeline": pipelineID,
				"issue":    issue,
				"options":  options,
			},
		})
		if err != nil {
			return err
		}
		fmt.Println(sig.Filename())
		return nil
	},
}

var decideCmd = &cobra.Command{
	Use:   "decide <decision>",
	Short: "Answer an escalation with an operator decision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		nodeID, _ := cmd.Flags().GetString("node")
		guidance, _ := cmd.Flags().GetString("guidance")

		payload := map[string]any{"decision": args[0]}
		if guidance != "" {
			payload["guidance"] = guidance
		}
		bus := signal.NewBus(cfg.SignalsDir)
		sig, err := bus.Write(&signal.Signal{
			Source:  signal.LayerTerminal,
			Target:  signal.LayerGuardian,
			Type:    signal.TypeOperatorDecision,
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
	escalateCmd.Flags().String("pipeline", "", "Pipeline raising the issue")
	escalateCmd.Flags().String("issue", "", "Issue description")
	escalateCmd.Flags().String("node", "", "Node the issue is about")
	escalateCmd.Flags().StringSlice("option", []string{"retry", "abandon"}, "Decision options offered to the operator")

	decideCmd.Flags().String("node", "", "Node the decision is about")
	decideCmd.Flags().String("guidance", "", "Free-form guidance for the runner")

	rootCmd.AddCommand(escalateCmd, decideCmd)
}
