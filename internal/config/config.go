// Package config loads the engine configuration file. YAML is the primary
// format, with JSON accepted for generated configs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bjornslib/attractor/pkg/terminal"
)

// DefaultPath is probed when no config flag is given.
const DefaultPath = "attractor.yaml"

// Duration parses "10m" style values from YAML and JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the on-disk shape of attractor.yaml.
type Config struct {
	SignalsDir     string `yaml:"signals_dir" json:"signals_dir"`
	CheckpointsDir string `yaml:"checkpoints_dir" json:"checkpoints_dir"`
	LeasesDir      string `yaml:"leases_dir" json:"leases_dir"`

	// RedisAddr switches node leases from file locks to Redis when set.
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`

	SignalTimeout Duration `yaml:"signal_timeout" json:"signal_timeout"`
	SignalPoll    Duration `yaml:"signal_poll" json:"signal_poll"`
	LeaseTTL      Duration `yaml:"lease_ttl" json:"lease_ttl"`

	// ListenAddr enables the HTTP status endpoint when set.
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	Pipelines []terminal.PipelineConfig `yaml:"pipelines" json:"pipelines"`
}

// Default returns a Config with every knob at its default.
func Default() Config {
	return Config{
		SignalsDir:     filepath.Join(".attractor", "signals"),
		CheckpointsDir: filepath.Join(".attractor", "checkpoints"),
		LeasesDir:      filepath.Join(".attractor", "leases"),
		SignalTimeout:  Duration(10 * time.Minute),
		SignalPoll:     Duration(time.Second),
		LeaseTTL:       Duration(30 * time.Minute),
	}
}

// Load reads a config file and fills unset fields with defaults. A missing
// file at the default path is not an error; an explicitly named missing file
// is.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && path == DefaultPath {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if strings.ToLower(filepath.Ext(path)) == ".json" {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, cfg.validate()
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.SignalsDir == "" {
		c.SignalsDir = d.SignalsDir
	}
	if c.CheckpointsDir == "" {
		c.CheckpointsDir = d.CheckpointsDir
	}
	if c.LeasesDir == "" {
		c.LeasesDir = d.LeasesDir
	}
	if c.SignalTimeout <= 0 {
		c.SignalTimeout = d.SignalTimeout
	}
	if c.SignalPoll <= 0 {
		c.SignalPoll = d.SignalPoll
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = d.LeaseTTL
	}
}

func (c *Config) validate() error {
	seen := make(map[string]bool)
	for i, p := range c.Pipelines {
		if p.ID == "" {
			return fmt.Errorf("pipeline %d: id is required", i)
		}
		if p.DOTPath == "" {
			return fmt.Errorf("pipeline %q: dot_path is required", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("pipeline %q: duplicate id", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}
