package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bjornslib/attractor/pkg/checkpoint"
	"github.com/bjornslib/attractor/pkg/pipeline/dot"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Save and restore pipeline checkpoints",
}

var checkpointSaveCmd = &cobra.Command{
	Use:   "save <pipeline.dot>",
	Short: "Snapshot a pipeline graph into the checkpoint store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		sessionID, _ := cmd.Flags().GetString("session")
		if sessionID == "" {
			return fmt.Errorf("--session is required")
		}
		g, err := dot.ParseFile(args[0])
		if err != nil {
			return err
		}
		cp, err := checkpoint.NewManager(cfg.CheckpointsDir).Save(g, sessionID)
		if err != nil {
			return err
		}
		fmt.Println(cp.ID)
		return nil
	},
}

var checkpointRestoreCmd = &cobra.Command{
	Use:   "restore <checkpoint-id>",
	Short: "Write a checkpointed graph back out as DOT",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		g, cp, err := checkpoint.NewManager(cfg.CheckpointsDir).Restore(args[0])
		if err != nil {
			return err
		}
		text := dot.Serialize(g)
		if out, _ := cmd.Flags().GetString("out"); out != "" {
			if err := os.WriteFile(out, []byte(text), 0o644); err != nil {
				return err
			}
			fmt.Printf("restored checkpoint %s of session %s to %s\n", cp.ID, cp.SessionID, out)
			return nil
		}
		fmt.Print(text)
		return nil
	},
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored checkpoints",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cps, err := checkpoint.NewManager(cfg.CheckpointsDir).List()
		if err != nil {
			return err
		}
		for _, cp := range cps {
			fmt.Printf("%s  %s  %s\n", cp.Timestamp.Format("2006-01-02 15:04:05"), cp.SessionID, cp.ID)
		}
		return nil
	},
}

func init() {
	checkpointSaveCmd.Flags().String("session", "", "Session the checkpoint belongs to")
	checkpointRestoreCmd.Flags().String("out", "", "Write the DOT text to a file instead of stdout")
	checkpointCmd.AddCommand(checkpointSaveCmd, checkpointRestoreCmd, checkpointListCmd)
	rootCmd.AddCommand(checkpointCmd)
}
