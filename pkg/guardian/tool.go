package guardian

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/bjornslib/attractor/pkg/pipeline"
)

// ToolRunner executes a tool node's deterministic command.
type ToolRunner interface {
	Run(ctx context.Context, node *pipeline.Node, workdir string) error
}

// ExecToolRunner runs the node's "command" attribute through the shell.
// A tool node without a command is a no-op marker and succeeds immediately.
type ExecToolRunner struct{}

func (ExecToolRunner) Run(ctx context.Context, node *pipeline.Node, workdir string) error {
	command, ok := node.Attr("command")
	if !ok {
		return nil
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workdir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("tool %q: %w: %s", node.ID, err, out)
	}
	return nil
}
