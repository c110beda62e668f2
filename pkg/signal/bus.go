package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bjornslib/attractor/internal/logging"
)

// ProcessedDir is the subdirectory consumed signals are moved into.
const ProcessedDir = "processed"

// DefaultPoll is the fallback poll interval for waits.
const DefaultPoll = 1 * time.Second

// Bus reads and writes signals in one signals directory.
type Bus struct {
	dir    string
	logger *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the Bus logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// NewBus creates a Bus rooted at dir. If dir is empty it defaults to
// ".attractor/signals".
func NewBus(dir string, opts ...Option) *Bus {
	if dir == "" {
		dir = filepath.Join(".attractor", "signals")
	}
	b := &Bus{dir: dir, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Dir returns the signals directory.
func (b *Bus) Dir() string { return b.dir }

// Write persists a signal. The file appears atomically (temp + rename), so
// a concurrent Find never observes partial JSON. If the timestamp is zero
// it is stamped now.
func (b *Bus) Write(sig *Signal) (*Signal, error) {
	if err := sig.validate(); err != nil {
		return nil, err
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now()
	}
	if err := os.MkdirAll(filepath.Join(b.dir, ProcessedDir), 0o755); err != nil {
		return nil, fmt.Errorf("ensure signals directory: %w", err)
	}

	data, err := json.MarshalIndent(sig, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal signal: %w", err)
	}

	tmpFile, err := os.CreateTemp(b.dir, ".tmp-signal-*")
	if err != nil {
		return nil, fmt.Errorf("create temp signal: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return nil, fmt.Errorf("write temp signal: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("close temp signal: %w", err)
	}

	destPath := filepath.Join(b.dir, sig.Filename())
	if err := os.Rename(tmpPath, destPath); err != nil {
		return nil, fmt.Errorf("publish signal: %w", err)
	}
	sig.path = destPath

	b.logger.Debug("signal written",
		"type", sig.Type, "source", sig.Source, "target", sig.Target, "node_id", sig.NodeID)
	return sig, nil
}

// Filter narrows signal discovery. Target is required; NodeID and Types
// are optional refinements.
type Filter struct {
	Target string
	NodeID string
	Types  []string
}

func (f Filter) matchesName(source, target, sigType string) bool {
	if target != f.Target {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == sigType {
			return true
		}
	}
	return false
}

// Find returns unprocessed signals matching the filter, in filename
// (timestamp) order. Unreadable or foreign files are skipped.
func (b *Bus) Find(f Filter) ([]*Signal, error) {
	if f.Target == "" {
		return nil, fmt.Errorf("filter target cannot be empty")
	}

	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list signals: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		names = append(names, e.Name())
	}
	// Nanosecond filename prefixes give approximate cross-process ordering.
	sort.Strings(names)

	var out []*Signal
	for _, name := range names {
		source, target, sigType, ok := parseFilename(name)
		if !ok || !f.matchesName(source, target, sigType) {
			continue
		}
		sig, err := b.read(filepath.Join(b.dir, name))
		if err != nil {
			// A concurrent consumer may have claimed the file between the
			// listing and the read.
			if os.IsNotExist(err) {
				continue
			}
			b.logger.Warn("skipping unreadable signal", "file", name, "err", err)
			continue
		}
		if f.NodeID != "" && sig.NodeID != f.NodeID {
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}

// parseFilename splits {timestamp}-{source}-{target}-{type}.json.
func parseFilename(name string) (source, target, sigType string, ok bool) {
	base := strings.TrimSuffix(name, ".json")
	parts := strings.SplitN(base, "-", 4)
	if len(parts) != 4 {
		return "", "", "", false
	}
	return parts[1], parts[2], parts[3], true
}

func (b *Bus) read(path string) (*Signal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sig Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil, fmt.Errorf("unmarshal signal: %w", err)
	}
	sig.path = path
	return &sig, nil
}

// Claim moves a signal into processed/ before the caller acts on it. The
// rename is atomic: when two consumers race, exactly one succeeds and the
// loser gets an error. Acting only after a successful Claim keeps delivery
// at-most-once even across crashes.
func (b *Bus) Claim(sig *Signal) error {
	if sig.path == "" {
		return fmt.Errorf("signal has no backing file")
	}
	dest := filepath.Join(b.dir, ProcessedDir, filepath.Base(sig.path))
	if err := os.MkdirAll(filepath.Join(b.dir, ProcessedDir), 0o755); err != nil {
		return fmt.Errorf("ensure processed directory: %w", err)
	}
	if err := os.Rename(sig.path, dest); err != nil {
		return fmt.Errorf("claim signal: %w", err)
	}
	sig.path = dest
	return nil
}

// Wait blocks until a signal matching the filter appears, claiming and
// returning the oldest match. It polls at the given interval, with an
// fsnotify watcher for prompt wakeup when the filesystem supports it, and
// returns a TimeoutError once timeout elapses.
func (b *Bus) Wait(ctx context.Context, f Filter, timeout, poll time.Duration) (*Signal, error) {
	if poll <= 0 {
		poll = DefaultPoll
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var events chan fsnotify.Event
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		// Watching can fail when the directory does not exist yet; the
		// ticker remains the correctness backstop either way.
		if err := watcher.Add(b.dir); err == nil {
			events = make(chan fsnotify.Event) // drained below
			go func() {
				for ev := range watcher.Events {
					select {
					case events <- ev:
					default:
					}
				}
			}()
		}
		defer watcher.Close()
	}

	for {
		sig, err := b.claimFirst(f)
		if err != nil {
			return nil, err
		}
		if sig != nil {
			return sig, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, &TimeoutError{Target: f.Target, Timeout: timeout}
		case <-ticker.C:
		case <-events:
		}
	}
}

// claimFirst claims the oldest matching signal, tolerating races with other
// consumers by moving on to the next candidate.
func (b *Bus) claimFirst(f Filter) (*Signal, error) {
	found, err := b.Find(f)
	if err != nil {
		return nil, err
	}
	for _, sig := range found {
		if err := b.Claim(sig); err != nil {
			b.logger.Debug("signal claimed elsewhere", "file", filepath.Base(sig.Path()))
			continue
		}
		return sig, nil
	}
	return nil, nil
}

// Peek returns the oldest matching signal without claiming it, or nil.
func (b *Bus) Peek(f Filter) (*Signal, error) {
	found, err := b.Find(f)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}
