package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjornslib/attractor/pkg/signal"
)

func TestWaitPollFlag(t *testing.T) {
	f := waitCmd.Flags().Lookup("poll")
	require.NotNil(t, f)
	assert.Equal(t, "0s", f.DefValue, "unset poll falls back to signal_poll from config")
}

func TestWaitClaimsSignalWithPollOverride(t *testing.T) {
	dir := t.TempDir()
	signalsDir := filepath.Join(dir, "signals")
	cfgPath := filepath.Join(dir, "attractor.yaml")
	// A deliberately slow signal_poll so the claim only lands fast through
	// the --poll override.
	cfg := fmt.Sprintf("signals_dir: %s\nsignal_poll: 1m\n", signalsDir)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	bus := signal.NewBus(signalsDir)
	_, err := bus.Write(&signal.Signal{
		Source: signal.LayerRunner,
		Target: signal.LayerGuardian,
		Type:   signal.TypeNodeComplete,
		NodeID: "cart",
	})
	require.NoError(t, err)

	rootCmd.SetArgs([]string{
		"wait",
		"--config", cfgPath,
		"--target", signal.LayerGuardian,
		"--node", "cart",
		"--timeout", "2s",
		"--poll", "10ms",
	})
	require.NoError(t, rootCmd.Execute())

	// The wait claimed the signal, so nothing is left pending.
	left, err := bus.Peek(signal.Filter{Target: signal.LayerGuardian})
	require.NoError(t, err)
	assert.Nil(t, left)
}
