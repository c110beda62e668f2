package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State is the per-node supervision record. It is updated each poll cycle
// and, when a state path is configured, persisted so an operator can
// inspect what the Monitor last saw.
type State struct {
	NodeID         string        `json:"node_id"`
	SessionName    string        `json:"session_name"`
	PollInterval   time.Duration `json:"poll_interval"`
	StuckThreshold time.Duration `json:"stuck_threshold"`
	LastActivityTS time.Time     `json:"last_activity_ts"`
	RetryCount     int           `json:"retry_count"`
	Turns          int           `json:"turns"`
}

func (s *State) save(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure runner state directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal runner state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write runner state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish runner state: %w", err)
	}
	return nil
}

// LoadState reads a persisted supervision record.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read runner state: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal runner state: %w", err)
	}
	return &s, nil
}
