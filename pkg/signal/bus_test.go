package signal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	return NewBus(t.TempDir())
}

func write(t *testing.T, b *Bus, sig *Signal) *Signal {
	t.Helper()
	out, err := b.Write(sig)
	require.NoError(t, err)
	return out
}

func TestWriteFind_RoundTrip(t *testing.T) {
	b := newTestBus(t)
	write(t, b, &Signal{
		Source: LayerRunner,
		Target: LayerGuardian,
		Type:   TypeNodeComplete,
		NodeID: "impl_a",
		Payload: map[string]any{
			"summary": "implemented",
			"turns":   float64(12),
		},
	})

	found, err := b.Find(Filter{Target: LayerGuardian})
	require.NoError(t, err)
	require.Len(t, found, 1)

	sig := found[0]
	assert.Equal(t, TypeNodeComplete, sig.Type)
	assert.Equal(t, "impl_a", sig.NodeID)
	assert.Equal(t, "implemented", sig.Payload["summary"])
	assert.FileExists(t, sig.Path())
}

func TestWrite_RejectsUnsafeFields(t *testing.T) {
	b := newTestBus(t)
	cases := []*Signal{
		{Source: "", Target: LayerGuardian, Type: TypeNodeComplete},
		{Source: "run-ner", Target: LayerGuardian, Type: TypeNodeComplete},
		{Source: LayerRunner, Target: "../guardian", Type: TypeNodeComplete},
		{Source: LayerRunner, Target: LayerGuardian, Type: "NODE COMPLETE"},
	}
	for _, sig := range cases {
		_, err := b.Write(sig)
		require.Error(t, err, "signal %+v should be rejected", sig)
	}
}

func TestFind_FiltersByTarget(t *testing.T) {
	b := newTestBus(t)
	write(t, b, &Signal{Source: LayerRunner, Target: LayerGuardian, Type: TypeNodeComplete, NodeID: "a"})
	write(t, b, &Signal{Source: LayerGuardian, Target: LayerRunner, Type: TypeValidationPassed, NodeID: "a"})

	guardian, err := b.Find(Filter{Target: LayerGuardian})
	require.NoError(t, err)
	require.Len(t, guardian, 1)
	assert.Equal(t, TypeNodeComplete, guardian[0].Type)

	// A signal written for the runner must never surface for the guardian.
	for _, sig := range guardian {
		assert.Equal(t, LayerGuardian, sig.Target)
	}
}

func TestFind_FiltersByNodeAndType(t *testing.T) {
	b := newTestBus(t)
	write(t, b, &Signal{Source: LayerGuardian, Target: LayerRunner, Type: TypeValidationFailed, NodeID: "impl_a"})
	write(t, b, &Signal{Source: LayerGuardian, Target: LayerRunner, Type: TypeValidationPassed, NodeID: "impl_b"})

	found, err := b.Find(Filter{Target: LayerRunner, NodeID: "impl_b", Types: []string{TypeValidationPassed, TypeValidationFailed}})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "impl_b", found[0].NodeID)
}

func TestFind_TimestampOrder(t *testing.T) {
	b := newTestBus(t)
	base := time.Now()
	// Written out of order; discovery must sort by filename timestamp.
	write(t, b, &Signal{Source: LayerRunner, Target: LayerGuardian, Type: TypeNeedsReview, NodeID: "n2", Timestamp: base.Add(2 * time.Second)})
	write(t, b, &Signal{Source: LayerRunner, Target: LayerGuardian, Type: TypeNodeComplete, NodeID: "n1", Timestamp: base.Add(1 * time.Second)})

	found, err := b.Find(Filter{Target: LayerGuardian})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "n1", found[0].NodeID)
	assert.Equal(t, "n2", found[1].NodeID)
}

func TestClaim_MovesToProcessed(t *testing.T) {
	b := newTestBus(t)
	sig := write(t, b, &Signal{Source: LayerRunner, Target: LayerGuardian, Type: TypeNodeComplete, NodeID: "a"})
	original := sig.Path()

	require.NoError(t, b.Claim(sig))
	assert.NoFileExists(t, original)
	assert.FileExists(t, sig.Path())
	assert.Equal(t, ProcessedDir, filepath.Base(filepath.Dir(sig.Path())))

	// Claimed signals disappear from discovery.
	found, err := b.Find(Filter{Target: LayerGuardian})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestClaim_SecondConsumerLoses(t *testing.T) {
	b := newTestBus(t)
	sig := write(t, b, &Signal{Source: LayerRunner, Target: LayerGuardian, Type: TypeNodeComplete, NodeID: "a"})

	first, err := b.Find(Filter{Target: LayerGuardian})
	require.NoError(t, err)
	second, err := b.Find(Filter{Target: LayerGuardian})
	require.NoError(t, err)

	require.NoError(t, b.Claim(first[0]))
	require.Error(t, b.Claim(second[0]))
	_ = sig
}

func TestWait_ReturnsExistingSignal(t *testing.T) {
	b := newTestBus(t)
	write(t, b, &Signal{Source: LayerRunner, Target: LayerGuardian, Type: TypeNodeComplete, NodeID: "a"})

	sig, err := b.Wait(context.Background(), Filter{Target: LayerGuardian}, 2*time.Second, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, TypeNodeComplete, sig.Type)
}

func TestWait_PicksUpLateSignal(t *testing.T) {
	b := newTestBus(t)

	go func() {
		time.Sleep(150 * time.Millisecond)
		_, _ = b.Write(&Signal{Source: LayerRunner, Target: LayerGuardian, Type: TypeNeedsInput, NodeID: "a"})
	}()

	sig, err := b.Wait(context.Background(), Filter{Target: LayerGuardian}, 5*time.Second, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, TypeNeedsInput, sig.Type)
}

func TestWait_TimesOut(t *testing.T) {
	b := newTestBus(t)

	start := time.Now()
	_, err := b.Wait(context.Background(), Filter{Target: LayerGuardian}, 300*time.Millisecond, 50*time.Millisecond)
	elapsed := time.Since(start)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, LayerGuardian, te.Target)
	// Bounded: well past the timeout but nowhere near unbounded blocking.
	assert.Less(t, elapsed, 2*time.Second)
}

func TestWait_ContextCancel(t *testing.T) {
	b := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := b.Wait(ctx, Filter{Target: LayerGuardian}, 10*time.Second, 50*time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFind_IgnoresTempAndForeignFiles(t *testing.T) {
	b := newTestBus(t)
	write(t, b, &Signal{Source: LayerRunner, Target: LayerGuardian, Type: TypeNodeComplete, NodeID: "a"})

	require.NoError(t, os.WriteFile(filepath.Join(b.Dir(), ".tmp-signal-123"), []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(b.Dir(), "notes.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(b.Dir(), "malformed.json"), []byte("{"), 0o644))

	found, err := b.Find(Filter{Target: LayerGuardian})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestDecodePayload(t *testing.T) {
	sig := &Signal{
		Type: TypeValidationFailed,
		Payload: map[string]any{
			"score":    float64(45),
			"feedback": "missing error handling",
			"attempt":  float64(2),
		},
	}

	var p ValidationPayload
	require.NoError(t, DecodePayload(sig, &p))
	assert.Equal(t, 45, p.Score)
	assert.Equal(t, "missing error handling", p.Feedback)
	assert.Equal(t, 2, p.Attempt)
}
