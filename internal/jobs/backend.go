package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryBackend keeps run results in a process-local map. Suitable for
// a single-instance deployment and for tests.
type MemoryBackend struct {
	mu      sync.Mutex
	results map[string]Result
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{results: map[string]Result{}}
}

// Get implements Backend.
func (b *MemoryBackend) Get(_ context.Context, id string) (*Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.results[id]; ok {
		return &r, nil
	}
	return nil, nil
}

// Set implements Backend.
func (b *MemoryBackend) Set(_ context.Context, r Result) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[r.ID] = r
	return nil
}

// Forget implements Backend.
func (b *MemoryBackend) Forget(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.results, id)
	return nil
}

// Close implements Backend.
func (b *MemoryBackend) Close() error { return nil }

const (
	// redisKeyPrefix namespaces run results in a shared Redis.
	redisKeyPrefix = "anyvar_"

	// DefaultResultTTL bounds how long a finished run stays pollable.
	DefaultResultTTL = 7200 * time.Second
)

// RedisBackend persists run results in Redis so that results survive
// process restarts and are visible across instances.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend connects to the Redis at url (redis:// form). A
// non-positive ttl falls back to DefaultResultTTL.
func NewRedisBackend(url string, ttl time.Duration) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &RedisBackend{client: redis.NewClient(opts), ttl: ttl}, nil
}

// Get implements Backend.
func (b *RedisBackend) Get(ctx context.Context, id string) (*Result, error) {
	raw, err := b.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &r, nil
}

// Set implements Backend.
func (b *RedisBackend) Set(ctx context.Context, r Result) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", r.ID, err)
	}
	if err := b.client.Set(ctx, redisKeyPrefix+r.ID, raw, b.ttl).Err(); err != nil {
		return fmt.Errorf("store run %s: %w", r.ID, err)
	}
	return nil
}

// Forget implements Backend.
func (b *RedisBackend) Forget(ctx context.Context, id string) error {
	if err := b.client.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("forget run %s: %w", id, err)
	}
	return nil
}

// Close implements Backend.
func (b *RedisBackend) Close() error { return b.client.Close() }
