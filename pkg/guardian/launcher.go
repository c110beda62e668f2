package guardian

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/bjornslib/attractor/pkg/pipeline"
	"github.com/bjornslib/attractor/pkg/runner"
	"github.com/bjornslib/attractor/pkg/signal"
)

// RunnerLauncher starts a Runner for a node. In production each Runner is
// its own OS process; tests use the in-process variant.
type RunnerLauncher interface {
	Launch(ctx context.Context, node *pipeline.Node, attempt int) error
}

// ExecLauncher spawns `attractor monitor` as a detached child process.
type ExecLauncher struct {
	// Binary is the attractor executable, usually os.Executable().
	Binary     string
	SignalsDir string
	Workdir    string
}

func (l *ExecLauncher) Launch(ctx context.Context, node *pipeline.Node, attempt int) error {
	args := []string{
		"monitor",
		"--node", node.ID,
		"--session", sessionNameFor(node, attempt),
		"--signals-dir", l.SignalsDir,
		"--attempt", strconv.Itoa(attempt),
	}
	if l.Workdir != "" {
		args = append(args, "--workdir", l.Workdir)
	}
	cmd := exec.Command(l.Binary, args...)
	cmd.Dir = l.Workdir
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch runner for node %q: %w", node.ID, err)
	}
	// The Runner reports back over signals, not the process tree; reap the
	// child in the background so it never zombifies.
	go func() { _ = cmd.Wait() }()
	return nil
}

func sessionNameFor(node *pipeline.Node, attempt int) string {
	return fmt.Sprintf("attractor-%s-%d", node.ID, attempt)
}

// MonitorLauncher runs Runner monitors as goroutines inside the Guardian
// process, against a caller-supplied session driver.
type MonitorLauncher struct {
	Driver  runner.SessionDriver
	Bus     *signal.Bus
	Workdir string
	// Configure tweaks each monitor config before launch, optional.
	Configure func(*runner.Config)
}

func (l *MonitorLauncher) Launch(ctx context.Context, node *pipeline.Node, attempt int) error {
	cfg := runner.Config{
		NodeID:      node.ID,
		SessionName: sessionNameFor(node, attempt),
		Workdir:     l.Workdir,
		RetryCount:  attempt,
	}
	if l.Configure != nil {
		l.Configure(&cfg)
	}
	m := runner.NewMonitor(cfg, l.Driver, l.Bus)
	go func() {
		// Outcomes surface through the signal bus; the goroutine result is
		// intentionally dropped.
		_, _ = m.Run(ctx)
	}()
	return nil
}
