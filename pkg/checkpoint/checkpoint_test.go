package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjornslib/attractor/pkg/pipeline"
	"github.com/bjornslib/attractor/pkg/pipeline/dot"
)

func sampleGraph(t *testing.T) *pipeline.Graph {
	t.Helper()
	g, err := dot.Parse(`digraph demo {
        start [handler=start];
        impl [handler=codergen, acceptance="works", status=active, retry_count=1];
        exit [handler=exit];
        start -> impl -> exit;
    }`)
	require.NoError(t, err)
	return g
}

func TestSaveRestore_RoundTrip(t *testing.T) {
	m := NewManager(t.TempDir())
	g := sampleGraph(t)

	cp, err := m.Save(g, "session-1")
	require.NoError(t, err)
	require.NotEmpty(t, cp.ID)
	assert.Equal(t, "session-1", cp.SessionID)

	restored, meta, err := m.Restore(cp.ID)
	require.NoError(t, err)
	assert.Equal(t, cp.ID, meta.ID)
	assert.Equal(t, g, restored)
}

func TestSave_EmptySessionID(t *testing.T) {
	m := NewManager(t.TempDir())
	_, err := m.Save(sampleGraph(t), "")
	require.Error(t, err)
}

func TestRestore_NotFound(t *testing.T) {
	m := NewManager(t.TempDir())
	_, _, err := m.Restore("no-such-id")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestLatest_PicksNewest(t *testing.T) {
	m := NewManager(t.TempDir())
	g := sampleGraph(t)

	_, err := m.Save(g, "session-1")
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond) // distinct timestamp prefixes
	g.Node("impl").Status = pipeline.StatusValidated
	second, err := m.Save(g, "session-1")
	require.NoError(t, err)

	restored, meta, err := m.Latest("session-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, meta.ID)
	assert.Equal(t, pipeline.StatusValidated, restored.Node("impl").Status)
}

func TestLatest_FiltersBySession(t *testing.T) {
	m := NewManager(t.TempDir())
	g := sampleGraph(t)

	_, err := m.Save(g, "session-a")
	require.NoError(t, err)

	_, _, err = m.Latest("session-b")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestList_OldestFirst(t *testing.T) {
	m := NewManager(t.TempDir())
	g := sampleGraph(t)

	first, err := m.Save(g, "session-1")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := m.Save(g, "session-1")
	require.NoError(t, err)

	all, err := m.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)
}

// A crash mid-write leaves only a tmp- file behind; the previous checkpoint
// must stay fully loadable and tmp files must never be read as checkpoints.
func TestCrashMidWrite_PreviousCheckpointSurvives(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	g := sampleGraph(t)

	cp, err := m.Save(g, "session-1")
	require.NoError(t, err)

	// Simulate a process killed between temp-write and rename.
	partial := filepath.Join(dir, "tmp-checkpoint-crash.json")
	require.NoError(t, os.WriteFile(partial, []byte(`{"checkpoint_id": "trunc`), 0o644))

	restored, meta, err := m.Latest("session-1")
	require.NoError(t, err)
	assert.Equal(t, cp.ID, meta.ID)
	assert.Equal(t, g, restored)

	all, err := m.List()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestLoad_CorruptCheckpoint(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	bad := filepath.Join(dir, "1-session-1-deadbeef.json")
	require.NoError(t, os.WriteFile(bad, []byte("not json"), 0o644))

	_, _, err := m.Restore("deadbeef")
	var ce *CorruptionError
	require.ErrorAs(t, err, &ce)
}
