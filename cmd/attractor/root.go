package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bjornslib/attractor/internal/config"
	"github.com/bjornslib/attractor/internal/logging"
	"github.com/bjornslib/attractor/pkg/signal"
)

var rootCmd = &cobra.Command{
	Use:           "attractor",
	Short:         "Attractor runs DOT-defined delivery pipelines",
	Long:          `Attractor executes pipelines described as Graphviz DOT graphs, driving coding agents through a validated node lifecycle and coordinating the layers over a file-based signal protocol.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Timed-out waits exit with code 2 so shell callers
// can tell them from hard failures.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var te *signal.TimeoutError
		if errors.As(err, &te) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", config.DefaultPath, "Path to the engine config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	return logging.New(logging.ParseLevel(level))
}
