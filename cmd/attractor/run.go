package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bjornslib/attractor"
	"github.com/bjornslib/attractor/pkg/checkpoint"
	signalbus "github.com/bjornslib/attractor/pkg/signal"
	"github.com/bjornslib/attractor/pkg/terminal"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every pipeline in the config to completion",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
			bridge := terminal.NewBridge(terminal.Config{
				Pipelines: cfg.Pipelines,
				DryRun:    true,
			}, signalbus.NewBus(cfg.SignalsDir), checkpoint.NewManager(cfg.CheckpointsDir),
				terminal.WithLogger(newLogger(cmd)))
			return bridge.Run(cmd.Context())
		}

		engine, err := attractor.New(cfg, attractor.WithLogger(newLogger(cmd)))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return engine.Run(ctx)
	},
}

func init() {
	runCmd.Flags().Bool("dry-run", false, "Parse and validate the pipelines without executing them")
	rootCmd.AddCommand(runCmd)
}
