package lease

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "impl_a/sess-1", Key("impl_a", "sess-1"))
}

func TestFileLocker_AcquireRelease(t *testing.T) {
	l := NewFileLocker(t.TempDir())
	ctx := context.Background()

	release, err := l.Acquire(ctx, Key("impl_a", "s1"), time.Minute)
	require.NoError(t, err)

	// Second acquire fails while held.
	_, err = l.Acquire(ctx, Key("impl_a", "s1"), time.Minute)
	require.ErrorIs(t, err, ErrHeld)

	// Different node is independent.
	release2, err := l.Acquire(ctx, Key("impl_b", "s1"), time.Minute)
	require.NoError(t, err)
	require.NoError(t, release2(ctx))

	require.NoError(t, release(ctx))

	// Released lease is acquirable again.
	release3, err := l.Acquire(ctx, Key("impl_a", "s1"), time.Minute)
	require.NoError(t, err)
	require.NoError(t, release3(ctx))
}

func TestFileLocker_StealsExpiredLease(t *testing.T) {
	l := NewFileLocker(t.TempDir())
	ctx := context.Background()

	_, err := l.Acquire(ctx, "k", 10*time.Millisecond)
	require.NoError(t, err)

	// Holder "crashed" without releasing; after the TTL the lease is free.
	now := time.Now()
	l.now = func() time.Time { return now.Add(time.Second) }

	release, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestFileLocker_ReleaseIdempotent(t *testing.T) {
	l := NewFileLocker(t.TempDir())
	ctx := context.Background()

	release, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx))
}

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	return NewRedisLocker(client, "attractor:"), mr
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	l, _ := newRedisLocker(t)
	ctx := context.Background()

	release, err := l.Acquire(ctx, Key("impl_a", "s1"), time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, Key("impl_a", "s1"), time.Minute)
	require.ErrorIs(t, err, ErrHeld)

	require.NoError(t, release(ctx))

	release2, err := l.Acquire(ctx, Key("impl_a", "s1"), time.Minute)
	require.NoError(t, err)
	require.NoError(t, release2(ctx))
}

func TestRedisLocker_TTLExpiry(t *testing.T) {
	l, mr := newRedisLocker(t)
	ctx := context.Background()

	_, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	release, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestRedisLocker_ReleaseDoesNotClobberNewHolder(t *testing.T) {
	l, mr := newRedisLocker(t)
	ctx := context.Background()

	staleRelease, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	// New holder acquires after expiry; the stale release must not free it.
	_, err = l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	require.NoError(t, staleRelease(ctx))
	_, err = l.Acquire(ctx, "k", time.Minute)
	require.ErrorIs(t, err, ErrHeld)
}
