package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// JSONStore keeps JSON-encoded values under prefix with a fixed TTL that
// never exceeds maxTTL.
type JSONStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewJSONStore(client redis.Cmdable, prefix string, ttl, maxTTL time.Duration) *JSONStore {
	return &JSONStore{client: client, prefix: prefix, ttl: clampTTL(ttl, maxTTL)}
}

func clampTTL(ttl, max time.Duration) time.Duration {
	if max > 0 && (ttl <= 0 || ttl > max) {
		return max
	}
	return ttl
}

func (s *JSONStore) TTL() time.Duration { return s.ttl }

func (s *JSONStore) key(k string) string {
	return s.prefix + ":" + k
}

func (s *JSONStore) Get(ctx context.Context, k string, dst interface{}) error {
	raw, err := s.client.Get(ctx, s.key(k)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", s.key(k), err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode cached %s: %w", s.key(k), err)
	}
	return nil
}

func (s *JSONStore) Set(ctx context.Context, k string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.key(k), err)
	}
	if err := s.client.Set(ctx, s.key(k), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key(k), err)
	}
	return nil
}
