package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// RedisLocker implements Locker on Redis SET NX PX, for deployments where
// Guardians run on separate hosts and a lock file is not shared.
type RedisLocker struct {
	client *backend.Client
	prefix string
}

// NewRedisLocker creates a Redis-backed locker.
func NewRedisLocker(client *backend.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// Acquire takes the lease with a single SET NX PX attempt. The stored value
// is random so release cannot delete a lease re-acquired by someone else
// after our TTL expired.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	lockKey := l.prefix + "lease:" + key
	val := uuid.NewString()

	success, err := l.client.SetNX(ctx, lockKey, val, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis acquire lease %q: %w", key, err)
	}
	if !success {
		return nil, fmt.Errorf("lease %q: %w", key, ErrHeld)
	}

	return func(ctx context.Context) error {
		// Delete only if the value still matches, via Lua for atomicity.
		script := `
			if redis.call("get", KEYS[1]) == ARGV[1] then
				return redis.call("del", KEYS[1])
			else
				return 0
			end
		`
		if err := l.client.Eval(ctx, script, []string{lockKey}, val).Err(); err != nil {
			return fmt.Errorf("redis release lease %q: %w", key, err)
		}
		return nil
	}, nil
}
