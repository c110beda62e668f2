package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bjornslib/attractor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipelines with the HTTP status server enabled",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.ListenAddr = addr
		}
		if cfg.ListenAddr == "" {
			cfg.ListenAddr = ":8090"
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
	serveCmd.Flags().String("addr", "", "Listen address for the status server")
	rootCmd.AddCommand(serveCmd)
}
