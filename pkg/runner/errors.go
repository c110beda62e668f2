package runner

import (
	"fmt"
	"time"
)

// StuckError reports a session that stopped making progress.
type StuckError struct {
	NodeID string
	Idle   time.Duration
	Turns  int
}

func (e *StuckError) Error() string {
	if e.Idle > 0 {
		return fmt.Sprintf("session for node %q made no progress for %s", e.NodeID, e.Idle)
	}
	return fmt.Sprintf("session for node %q exceeded its turn budget (%d turns)", e.NodeID, e.Turns)
}

// CrashedError reports a session that no longer exists.
type CrashedError struct {
	NodeID  string
	Session string
}

func (e *CrashedError) Error() string {
	return fmt.Sprintf("session %q for node %q no longer exists", e.Session, e.NodeID)
}
