package ratelimit

import (
	"context"
	"sync"
	"time"

	"dialgate/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter is a stateless sliding-window request-rate check. It protects this
// service from a hot API key; it is separate from (and applied before) the
// account-level quota guard.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter enforces the window in Redis so the limit holds across
// replicas.
type RedisLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	clock  func() time.Time
}

func NewRedisLimiter(rdb *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limit: limit, window: window, clock: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return utils.AllowSlidingWindow(ctx, l.rdb, "ratelimit:"+key, l.limit, l.window, l.clock(), uuid.NewString())
}

// MemoryLimiter is a single-process Limiter used in tests and local
// development.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clock   func() time.Time
	entries map[string][]time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		clock:   time.Now,
		entries: make(map[string][]time.Time),
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	cutoff := now.Add(-l.window)

	kept := l.entries[key][:0]
	for _, t := range l.entries[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.limit {
		l.entries[key] = kept
		return false, nil
	}
	l.entries[key] = append(kept, now)
	return true, nil
}
