package lease

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileLocker implements Locker with O_EXCL lock files in a directory.
// It is the default when no coordination service is configured: correct for
// processes sharing one filesystem, which is the normal deployment shape.
type FileLocker struct {
	dir string
	now func() time.Time
}

type lockRecord struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// NewFileLocker creates a FileLocker rooted at dir. If dir is empty it
// defaults to ".attractor/leases".
func NewFileLocker(dir string) *FileLocker {
	if dir == "" {
		dir = filepath.Join(".attractor", "leases")
	}
	return &FileLocker{dir: dir, now: time.Now}
}

// Acquire takes the lease, stealing it first when the previous holder's TTL
// has lapsed. Returns ErrHeld when the lease is live elsewhere.
func (l *FileLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure lease directory: %w", err)
	}
	path := l.path(key)

	release, err := l.tryCreate(path, ttl)
	if err == nil {
		return release, nil
	}
	if !os.IsExist(err) {
		return nil, fmt.Errorf("acquire lease %q: %w", key, err)
	}

	// Lock file exists; steal it only if expired.
	if !l.expired(path) {
		return nil, fmt.Errorf("lease %q: %w", key, ErrHeld)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("steal stale lease %q: %w", key, err)
	}
	release, err = l.tryCreate(path, ttl)
	if err != nil {
		if os.IsExist(err) {
			// Another process won the steal race.
			return nil, fmt.Errorf("lease %q: %w", key, ErrHeld)
		}
		return nil, fmt.Errorf("acquire lease %q: %w", key, err)
	}
	return release, nil
}

func (l *FileLocker) tryCreate(path string, ttl time.Duration) (ReleaseFunc, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	rec := lockRecord{
		PID:        os.Getpid(),
		AcquiredAt: l.now(),
		ExpiresAt:  l.now().Add(ttl),
	}
	if err := json.NewEncoder(f).Encode(rec); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return func(ctx context.Context) error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("release lease: %w", err)
		}
		return nil
	}, nil
}

func (l *FileLocker) expired(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		// Holder may have released between our create attempt and now;
		// treat as expired so the retry path can create it.
		return os.IsNotExist(err)
	}
	var rec lockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		// Unreadable lock files come from crashed half-writes.
		return true
	}
	return l.now().After(rec.ExpiresAt)
}

func (l *FileLocker) path(key string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_").Replace(key)
	return filepath.Join(l.dir, safe+".lock")
}
