// Package signal implements the file-based message protocol between the
// Terminal, Guardian, and Runner layers.
//
// A signal is a JSON file named {timestamp}-{source}-{target}-{type}.json
// inside a shared signals directory. Discovery lists the directory filtered
// by target, in filename-timestamp order. Consumption moves the file into a
// processed/ subdirectory; the rename is atomic, so exactly one consumer
// wins a contended signal.
package signal

import (
	"fmt"
	"strings"
	"time"
)

// Layer names used as signal sources and targets.
const (
	LayerTerminal = "terminal"
	LayerGuardian = "guardian"
	LayerRunner   = "runner"
)

// Signals sent by a Runner to its Guardian.
const (
	TypeNeedsReview         = "NEEDS_REVIEW"
	TypeNeedsInput          = "NEEDS_INPUT"
	TypeViolation           = "VIOLATION"
	TypeOrchestratorStuck   = "ORCHESTRATOR_STUCK"
	TypeOrchestratorCrashed = "ORCHESTRATOR_CRASHED"
	TypeNodeComplete        = "NODE_COMPLETE"
)

// Signals sent by a Guardian to a Runner.
const (
	TypeValidationPassed = "VALIDATION_PASSED"
	TypeValidationFailed = "VALIDATION_FAILED"
	TypeInputResponse    = "INPUT_RESPONSE"
	TypeKillOrchestrator = "KILL_ORCHESTRATOR"
	TypeGuidance         = "GUIDANCE"
)

// Signals exchanged with the Terminal layer.
const (
	TypeEscalation       = "ESCALATION"
	TypePipelineComplete = "PIPELINE_COMPLETE"
	TypeOperatorDecision = "OPERATOR_DECISION"
)

// Signal is one asynchronous message between layers. It is never mutated
// after creation.
type Signal struct {
	Source    string         `json:"source"`
	Target    string         `json:"target"`
	Type      string         `json:"signal_type"`
	Timestamp time.Time      `json:"timestamp"`
	NodeID    string         `json:"node_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`

	// path is the file backing this signal once persisted.
	path string
}

// Path returns the file currently backing the signal, empty before Write.
func (s *Signal) Path() string { return s.path }

// Filename renders the canonical file name for the signal.
func (s *Signal) Filename() string {
	return fmt.Sprintf("%d-%s-%s-%s.json", s.Timestamp.UnixNano(), s.Source, s.Target, s.Type)
}

// validate rejects field values that would break filename parsing.
func (s *Signal) validate() error {
	for _, f := range []struct{ name, value string }{
		{"source", s.Source},
		{"target", s.Target},
		{"signal_type", s.Type},
	} {
		if f.value == "" {
			return fmt.Errorf("signal %s cannot be empty", f.name)
		}
		if strings.ContainsAny(f.value, "-/\\ ") {
			return fmt.Errorf("signal %s %q may not contain '-', path separators, or spaces", f.name, f.value)
		}
	}
	return nil
}

// TimeoutError is returned when a wait elapses with no matching signal.
type TimeoutError struct {
	Target  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no signal for target %q within %s", e.Target, e.Timeout)
}
