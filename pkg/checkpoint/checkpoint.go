// Package checkpoint persists pipeline graph snapshots for crash recovery.
//
// Every Guardian transition produces a new checkpoint. Writes go to a temp
// file in the same directory, are fsynced, and are renamed into place, so a
// crash mid-write never corrupts the previous checkpoint. Old checkpoints
// are retained for rollback and never rewritten.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bjornslib/attractor/pkg/pipeline"
	"github.com/bjornslib/attractor/pkg/pipeline/dot"
)

// Checkpoint is an immutable serialized snapshot of a pipeline graph.
type Checkpoint struct {
	ID        string    `json:"checkpoint_id"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Graph     string    `json:"graph"` // DOT text
}

// CorruptionError reports an unreadable checkpoint. Given the atomic write
// path this must never occur; any occurrence indicates a write-path bug.
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt checkpoint %s: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// NotFoundError reports a missing checkpoint ID.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("checkpoint %q not found", e.ID)
}

// Manager stores checkpoints as JSON files in a directory.
type Manager struct {
	dir string
}

// NewManager creates a Manager rooted at dir. If dir is empty it defaults
// to ".attractor/checkpoints".
func NewManager(dir string) *Manager {
	if dir == "" {
		dir = filepath.Join(".attractor", "checkpoints")
	}
	return &Manager{dir: dir}
}

// Dir returns the checkpoint directory.
func (m *Manager) Dir() string { return m.dir }

// Save snapshots the graph. The file is written to a temp path, fsynced,
// and renamed atomically so readers never observe a partial checkpoint.
func (m *Manager) Save(g *pipeline.Graph, sessionID string) (*Checkpoint, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("sessionID cannot be empty")
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure checkpoint directory: %w", err)
	}

	cp := &Checkpoint{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Graph:     dot.Serialize(g),
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}

	destPath := filepath.Join(m.dir, m.filename(cp))

	// Temp file lives in the same directory so the rename stays on one
	// filesystem and therefore atomic.
	tmpFile, err := os.CreateTemp(m.dir, "tmp-checkpoint-*.json")
	if err != nil {
		return nil, fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath) // no-op after a successful rename
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return nil, fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return nil, fmt.Errorf("fsync temp checkpoint: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return nil, fmt.Errorf("rename checkpoint into place: %w", err)
	}
	return cp, nil
}

func (m *Manager) filename(cp *Checkpoint) string {
	return fmt.Sprintf("%d-%s-%s.json", cp.Timestamp.UnixNano(), cp.SessionID, cp.ID)
}

// Restore loads the graph stored under the given checkpoint ID.
func (m *Manager) Restore(checkpointID string) (*pipeline.Graph, *Checkpoint, error) {
	matches, err := filepath.Glob(filepath.Join(m.dir, "*-"+checkpointID+".json"))
	if err != nil {
		return nil, nil, fmt.Errorf("scan checkpoint directory: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil, &NotFoundError{ID: checkpointID}
	}
	return m.load(matches[0])
}

// Latest returns the most recent checkpoint for a session, or a
// NotFoundError when the session has none.
func (m *Manager) Latest(sessionID string) (*pipeline.Graph, *Checkpoint, error) {
	entries, err := m.entriesFor(sessionID)
	if err != nil {
		return nil, nil, err
	}
	if len(entries) == 0 {
		return nil, nil, &NotFoundError{ID: "latest:" + sessionID}
	}
	// Filenames start with nanosecond timestamps, so lexicographic order on
	// equal-width prefixes is chronological; take the newest.
	sort.Strings(entries)
	return m.load(entries[len(entries)-1])
}

// List returns metadata for every checkpoint, oldest first.
func (m *Manager) List() ([]*Checkpoint, error) {
	entries, err := m.entriesFor("")
	if err != nil {
		return nil, err
	}
	sort.Strings(entries)

	out := make([]*Checkpoint, 0, len(entries))
	for _, path := range entries {
		_, cp, err := m.load(path)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (m *Manager) entriesFor(sessionID string) ([]string, error) {
	dirEntries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint directory: %w", err)
	}
	var out []string
	for _, e := range dirEntries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, "tmp-") {
			continue
		}
		if sessionID != "" && !strings.Contains(name, "-"+sessionID+"-") {
			continue
		}
		out = append(out, filepath.Join(m.dir, name))
	}
	return out, nil
}

func (m *Manager) load(path string) (*pipeline.Graph, *Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, nil, &CorruptionError{Path: path, Err: err}
	}
	g, err := dot.Parse(cp.Graph)
	if err != nil {
		return nil, nil, &CorruptionError{Path: path, Err: err}
	}
	return g, &cp, nil
}
