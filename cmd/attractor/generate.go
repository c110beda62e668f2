package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bjornslib/attractor/pkg/pipeline"
	"github.com/bjornslib/attractor/pkg/pipeline/dot"
)

// taskList is the scaffold input format.
type taskList struct {
	Name  string `yaml:"name"`
	Tasks []task `yaml:"tasks"`
}

type task struct {
	ID         string `yaml:"id"`
	BeadID     string `yaml:"bead_id"`
	Acceptance string `yaml:"acceptance"`
	WorkerType string `yaml:"worker_type"`
	Test       bool   `yaml:"test"`
}

var generateCmd = &cobra.Command{
	Use:   "generate <tasks.yaml>",
	Short: "Scaffold a pipeline graph from a task list",
	Long:  `Reads a YAML task list and emits a linear DOT pipeline: a start node, one codergen node per task (with a paired acceptance test node when requested), and an exit node. Use --scaffold to also create the engine's working directories.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var tasks taskList
		if err := yaml.Unmarshal(data, &tasks); err != nil {
			return fmt.Errorf("parse task list: %w", err)
		}
		if len(tasks.Tasks) == 0 {
			return fmt.Errorf("task list has no tasks")
		}

		g, err := scaffold(tasks)
		if err != nil {
			return err
		}

		if doScaffold, _ := cmd.Flags().GetBool("scaffold"); doScaffold {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			for _, dir := range []string{cfg.SignalsDir, cfg.CheckpointsDir, cfg.LeasesDir} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
		}

		text := dot.Serialize(g)
		if out, _ := cmd.Flags().GetString("out"); out != "" {
			return os.WriteFile(out, []byte(text), 0o644)
		}
		fmt.Print(text)
		return nil
	},
}

func scaffold(tasks taskList) (*pipeline.Graph, error) {
	name := tasks.Name
	if name == "" {
		name = "pipeline"
	}
	g := pipeline.NewGraph(name)

	add := func(n *pipeline.Node) error { return g.AddNode(n) }
	if err := add(&pipeline.Node{ID: "start", Handler: pipeline.HandlerStart, Status: pipeline.StatusPending}); err != nil {
		return nil, err
	}

	prev := "start"
	for _, t := range tasks.Tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("every task needs an id")
		}
		node := &pipeline.Node{
			ID:         t.ID,
			Handler:    pipeline.HandlerCodergen,
			Status:     pipeline.StatusPending,
			BeadID:     t.BeadID,
			Acceptance: t.Acceptance,
			WorkerType: t.WorkerType,
		}
		if err := add(node); err != nil {
			return nil, err
		}
		g.AddEdge(&pipeline.Edge{From: prev, To: t.ID})
		prev = t.ID

		if t.Test {
			atID := t.ID + "_at"
			at := &pipeline.Node{
				ID:         atID,
				Handler:    pipeline.HandlerCodergen,
				Status:     pipeline.StatusPending,
				PromiseAC:  t.ID,
				Acceptance: fmt.Sprintf("acceptance tests for %s pass", t.ID),
			}
			if err := add(at); err != nil {
				return nil, err
			}
			g.AddEdge(&pipeline.Edge{From: prev, To: atID})
			prev = atID
		}
	}

	if err := add(&pipeline.Node{ID: "done", Handler: pipeline.HandlerExit, Status: pipeline.StatusPending}); err != nil {
		return nil, err
	}
	g.AddEdge(&pipeline.Edge{From: prev, To: "done"})
	return g, nil
}

func init() {
	generateCmd.Flags().String("out", "", "Write the DOT text to a file instead of stdout")
	generateCmd.Flags().Bool("scaffold", false, "Also create the signals, checkpoints and leases directories")
	rootCmd.AddCommand(generateCmd)
}
