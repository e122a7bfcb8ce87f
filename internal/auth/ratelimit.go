package auth

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ResetLimiter enforces one outstanding reset request per key per cooldown.
// Allow is an atomic check-and-set: two concurrent callers for the same key
// never both get true.
type ResetLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	// Release forgets key so a failed request does not burn the cooldown.
	Release(ctx context.Context, key string) error
	// Sweep drops expired entries and reports how many were removed.
	Sweep() int
}

const limiterShards = 16

type limiterShard struct {
	mu   sync.Mutex
	next map[string]time.Time
}

// MemoryLimiter keeps the earliest next allowed request time per key.
type MemoryLimiter struct {
	window time.Duration
	now    func() time.Time
	shards [limiterShards]limiterShard
}

func NewMemoryLimiter(window time.Duration, now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	l := &MemoryLimiter{window: window, now: now}
	for i := range l.shards {
		l.shards[i].next = make(map[string]time.Time)
	}
	return l
}

func (l *MemoryLimiter) shard(key string) *limiterShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.shards[h.Sum32()%limiterShards]
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	s := l.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := l.now()
	if next, ok := s.next[key]; ok && next.After(now) {
		return false, nil
	}
	s.next[key] = now.Add(l.window)
	return true, nil
}

func (l *MemoryLimiter) Release(_ context.Context, key string) error {
	s := l.shard(key)
	s.mu.Lock()
	delete(s.next, key)
	s.mu.Unlock()
	return nil
}

func (l *MemoryLimiter) Sweep() int {
	now := l.now()
	removed := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for k, next := range s.next {
			if !next.After(now) {
				delete(s.next, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len reports the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		n += len(s.next)
		s.mu.Unlock()
	}
	return n
}

// RedisLimiter shares the cooldown across instances. Keys expire in Redis,
// so Sweep has nothing to do.
type RedisLimiter struct {
	client *redis.Client
	window time.Duration
	prefix string
}

func NewRedisLimiter(client *redis.Client, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, window: window, prefix: "cms:reset-cooldown:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+key, 1, l.window).Result()
	if err != nil {
		return false, fmt.Errorf("reset limiter: %w", err)
	}
	return ok, nil
}

func (l *RedisLimiter) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("reset limiter: %w", err)
	}
	return nil
}

func (l *RedisLimiter) Sweep() int { return 0 }
