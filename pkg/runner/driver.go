package runner

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// SessionDriver hosts and observes one agent session. Implementations wrap
// whatever actually runs the agent (a tmux pane in production); the Monitor
// only ever sees captured text.
type SessionDriver interface {
	// Spawn starts the session running the given command in workdir.
	Spawn(ctx context.Context, sessionName, workdir, command string) error
	// Capture returns the session's current terminal contents.
	Capture(ctx context.Context, sessionName string) (string, error)
	// Alive reports whether the session still exists.
	Alive(ctx context.Context, sessionName string) (bool, error)
	// Send types a line of text into the session.
	Send(ctx context.Context, sessionName, text string) error
	// Kill terminates the session.
	Kill(ctx context.Context, sessionName string) error
}

// TmuxDriver drives agent sessions hosted in detached tmux sessions.
type TmuxDriver struct {
	// Binary overrides the tmux executable, for tests.
	Binary string
}

// NewTmuxDriver creates a driver using the tmux found on PATH.
func NewTmuxDriver() *TmuxDriver {
	return &TmuxDriver{Binary: "tmux"}
}

func (d *TmuxDriver) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, d.Binary, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func (d *TmuxDriver) Spawn(ctx context.Context, sessionName, workdir, command string) error {
	args := []string{"new-session", "-d", "-s", sessionName}
	if workdir != "" {
		args = append(args, "-c", workdir)
	}
	if command != "" {
		args = append(args, command)
	}
	_, err := d.run(ctx, args...)
	return err
}

func (d *TmuxDriver) Capture(ctx context.Context, sessionName string) (string, error) {
	// -p prints to stdout, -S - captures the full scrollback.
	return d.run(ctx, "capture-pane", "-p", "-S", "-", "-t", sessionName)
}

func (d *TmuxDriver) Alive(ctx context.Context, sessionName string) (bool, error) {
	cmd := exec.CommandContext(ctx, d.Binary, "has-session", "-t", sessionName)
	if err := cmd.Run(); err != nil {
		if _, isExit := err.(*exec.ExitError); isExit {
			return false, nil
		}
		return false, fmt.Errorf("tmux has-session: %w", err)
	}
	return true, nil
}

func (d *TmuxDriver) Send(ctx context.Context, sessionName, text string) error {
	_, err := d.run(ctx, "send-keys", "-t", sessionName, text, "Enter")
	return err
}

func (d *TmuxDriver) Kill(ctx context.Context, sessionName string) error {
	_, err := d.run(ctx, "kill-session", "-t", sessionName)
	return err
}
