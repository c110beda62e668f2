// Package lease provides per-node dispatch locks.
//
// A Guardian acquires a lease keyed by (node_id, session_id) before
// dispatching a Runner, preventing two Guardians working overlapping graphs
// from double-dispatching the same node. Leases carry a TTL so a crashed
// holder's lock expires instead of wedging the pipeline.
package lease

import (
	"context"
	"errors"
	"time"
)

// ErrHeld is returned when the lease is currently held by another process.
var ErrHeld = errors.New("lease already held")

// ReleaseFunc releases an acquired lease.
type ReleaseFunc func(ctx context.Context) error

// Locker acquires leases. Acquire does not block: a held lease returns
// ErrHeld immediately and the caller decides whether to skip or retry.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error)
}

// Key builds the canonical lease key for a node within a session.
func Key(nodeID, sessionID string) string {
	return nodeID + "/" + sessionID
}
