package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-redis/redis/v8"
)

// ErrLocked is returned when another holder owns the lock.
var ErrLocked = errors.New("resource is locked")

// Locker hands out short-lived Redis locks.
type Locker struct {
	client *redislock.Client
	prefix string
}

func NewLocker(client redis.UniversalClient, prefix string) *Locker {
	return &Locker{client: redislock.New(client), prefix: prefix}
}

// Obtain takes the lock on key for ttl without retrying. The returned func
// releases it; releasing an expired lock is not an error.
func (l *Locker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.client.Obtain(ctx, lockKey(l.prefix, key), ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}, nil
}

func lockKey(prefix, key string) string {
	return prefix + ":lock:" + key
}
