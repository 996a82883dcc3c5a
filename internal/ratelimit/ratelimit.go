// Package ratelimit provides fixed-window request counting for per-client
// delivery quotas. The Redis implementation shares the window across gateway
// instances; the memory implementation backs tests and single-node deploys.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter answers whether a key may consume one more unit in the current
// window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Redis counts per-key usage with INCR and lets the key expire at the window
// boundary.
type Redis struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
}

func NewRedis(rdb *redis.Client, limit int, window time.Duration) *Redis {
	return &Redis{rdb: rdb, limit: int64(limit), window: window}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	k := "quota:" + key
	n, err := r.rdb.Incr(ctx, k).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		if err := r.rdb.Expire(ctx, k, r.window).Err(); err != nil {
			return false, err
		}
	}
	return n <= r.limit, nil
}

// Memory is an in-process fixed-window counter.
type Memory struct {
	mu     sync.Mutex
	counts map[string]*windowCount
	limit  int
	window time.Duration
	now    func() time.Time
}

type windowCount struct {
	start time.Time
	n     int
}

func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{
		counts: make(map[string]*windowCount),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	wc, ok := m.counts[key]
	if !ok || now.Sub(wc.start) >= m.window {
		wc = &windowCount{start: now}
		m.counts[key] = wc
	}
	wc.n++
	return wc.n <= m.limit, nil
}
