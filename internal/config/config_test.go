package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "attractor.yaml", `
signals_dir: /var/run/attractor/signals
signal_timeout: 5m
lease_ttl: 1h
redis_addr: localhost:6379
listen_addr: :8090
pipelines:
  - id: checkout
    dot_path: pipelines/checkout.dot
    project_root: /srv/checkout
  - id: billing
    dot_path: pipelines/billing.dot
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/run/attractor/signals", cfg.SignalsDir)
	assert.Equal(t, 5*time.Minute, cfg.SignalTimeout.Std())
	assert.Equal(t, time.Hour, cfg.LeaseTTL.Std())
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, ":8090", cfg.ListenAddr)

	// Unset knobs fall back to defaults.
	assert.Equal(t, time.Second, cfg.SignalPoll.Std())
	assert.Equal(t, filepath.Join(".attractor", "checkpoints"), cfg.CheckpointsDir)

	require.Len(t, cfg.Pipelines, 2)
	assert.Equal(t, "checkout", cfg.Pipelines[0].ID)
	assert.Equal(t, "/srv/checkout", cfg.Pipelines[0].ProjectRoot)
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "attractor.json", `{
		"signal_timeout": "30s",
		"pipelines": [{"id": "p1", "dot_path": "p1.dot"}]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.SignalTimeout.Std())
	require.Len(t, cfg.Pipelines, 1)
}

func TestLoadMissingDefaultPathUsesDefaults(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := Load(DefaultPath)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingExplicitPathFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "attractor.yaml", "signal_timeout: soon\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestValidateRejectsDuplicatePipelineID(t *testing.T) {
	path := writeConfig(t, "attractor.yaml", `
pipelines:
  - id: dup
    dot_path: a.dot
  - id: dup
    dot_path: b.dot
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")
}

func TestValidateRequiresDOTPath(t *testing.T) {
	path := writeConfig(t, "attractor.yaml", `
pipelines:
  - id: nope
`)
	_, err := Load(path)
	require.Error(t, err)
}
