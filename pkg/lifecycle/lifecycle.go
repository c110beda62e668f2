// Package lifecycle governs node status transitions.
//
// The legal edges are:
//
//	pending -> active
//	active -> impl_complete
//	impl_complete -> validated   (requires validation evidence)
//	active -> failed
//	impl_complete -> failed
//	failed -> active             (guarded by the retry budget)
//
// Every other (from, to) pair is illegal. Apply rejects illegal transitions
// with a typed error and never mutates the graph on failure.
package lifecycle

import (
	"fmt"

	"github.com/bjornslib/attractor/pkg/pipeline"
)

// Evidence kinds accepted for the impl_complete -> validated edge.
const (
	EvidenceValidationPassed = "VALIDATION_PASSED"
	// EvidenceAutoValidated is produced by the Guardian for nodes with no
	// paired acceptance test.
	EvidenceAutoValidated = "AUTO_VALIDATED"
)

// Evidence supports a transition: where it came from and what it claims.
type Evidence struct {
	Kind   string         `json:"kind"`
	Source string         `json:"source,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
}

// TransitionError reports an illegal transition attempt.
type TransitionError struct {
	NodeID string
	From   pipeline.Status
	To     pipeline.Status
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition for node %q: %s -> %s: %s",
		e.NodeID, e.From, e.To, e.Reason)
}

// MaxRetriesExceededError reports a node whose retry budget ran out.
// It is terminal for the node and escalates to the Terminal layer.
type MaxRetriesExceededError struct {
	NodeID  string
	Retries int
	Budget  int
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("node %q exhausted its retry budget (%d of %d)",
		e.NodeID, e.Retries, e.Budget)
}

// UnknownNodeError reports a transition aimed at a node the graph does not have.
type UnknownNodeError struct {
	NodeID string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("unknown node %q", e.NodeID)
}

var legalEdges = map[pipeline.Status][]pipeline.Status{
	pipeline.StatusPending:      {pipeline.StatusActive},
	pipeline.StatusActive:       {pipeline.StatusImplComplete, pipeline.StatusFailed},
	pipeline.StatusImplComplete: {pipeline.StatusValidated, pipeline.StatusFailed},
	pipeline.StatusFailed:       {pipeline.StatusActive},
}

// CanTransition reports whether from -> to is a state-machine edge,
// ignoring guards and evidence.
func CanTransition(from, to pipeline.Status) bool {
	for _, t := range legalEdges[from] {
		if t == to {
			return true
		}
	}
	return false
}

// LegalTargets returns the statuses reachable from the given status.
func LegalTargets(from pipeline.Status) []pipeline.Status {
	targets := legalEdges[from]
	out := make([]pipeline.Status, len(targets))
	copy(out, targets)
	return out
}

// Apply transitions a node to a new status, enforcing edge legality, the
// retry guard, and evidence requirements. On success the node is mutated in
// place (including the retry counter on failed -> active). On failure the
// graph is untouched.
func Apply(g *pipeline.Graph, nodeID string, to pipeline.Status, ev *Evidence) error {
	n := g.Node(nodeID)
	if n == nil {
		return &UnknownNodeError{NodeID: nodeID}
	}
	from := n.Status

	if !CanTransition(from, to) {
		return &TransitionError{
			NodeID: nodeID,
			From:   from,
			To:     to,
			Reason: "no such state-machine edge",
		}
	}

	if from == pipeline.StatusFailed && to == pipeline.StatusActive {
		if n.RetryCount >= n.RetryBudget() {
			return &MaxRetriesExceededError{
				NodeID:  nodeID,
				Retries: n.RetryCount,
				Budget:  n.RetryBudget(),
			}
		}
		n.RetryCount++
		n.Status = to
		return nil
	}

	if to == pipeline.StatusValidated {
		if ev == nil || (ev.Kind != EvidenceValidationPassed && ev.Kind != EvidenceAutoValidated) {
			return &TransitionError{
				NodeID: nodeID,
				From:   from,
				To:     to,
				Reason: "validation requires VALIDATION_PASSED evidence",
			}
		}
	}

	n.Status = to
	return nil
}
