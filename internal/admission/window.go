package admission

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/ratewarden/ratewarden/internal/storage"
)

// Result of one atomic sliding-window round trip.
type WindowResult struct {
	Allowed bool
	Count   int64     // entries in the window after the operation
	Oldest  time.Time // zero when the window is empty
}

// WindowStore performs the prune+count+conditional-insert step as a single
// atomic operation against the shared counter store. Two racing calls must
// never both squeeze through the last slot.
type WindowStore interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) (WindowResult, error)
}

// The whole prune+count+insert sequence runs server-side so concurrent
// callers across process instances cannot race past the limit. Ties at the
// boundary deny: the insert happens only while count < limit.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local window_start = tonumber(ARGV[1])
	local now = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local ttl_ms = tonumber(ARGV[4])
	local member = ARGV[5]

	redis.call('ZREMRANGEBYSCORE', key, 0, window_start)

	local count = redis.call('ZCARD', key)
	local allowed = 0
	if count < limit then
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, ttl_ms)
		allowed = 1
		count = count + 1
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local oldest_score = 0
	if oldest[2] then
		oldest_score = tonumber(oldest[2])
	end

	return {allowed, count, oldest_score}
`)

type RedisWindowStore struct {
	redis *storage.RedisClient
}

func NewRedisWindowStore(r *storage.RedisClient) *RedisWindowStore {
	return &RedisWindowStore{redis: r}
}

func (s *RedisWindowStore) Take(ctx context.Context, key string, limit int, window time.Duration) (WindowResult, error) {
	now := time.Now()
	windowStart := now.Add(-window)
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()[:8])

	res, err := s.redis.Eval(ctx, slidingWindowScript,
		[]string{windowKey(key)},
		windowStart.UnixMilli(),
		now.UnixMilli(),
		limit,
		window.Milliseconds(),
		member,
	)
	if err != nil {
		return WindowResult{}, fmt.Errorf("sliding window script failed: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return WindowResult{}, fmt.Errorf("sliding window script returned unexpected value %v", res)
	}

	result := WindowResult{
		Allowed: values[0].(int64) == 1,
		Count:   values[1].(int64),
	}
	if oldest := values[2].(int64); oldest > 0 {
		result.Oldest = time.UnixMilli(oldest)
	}

	return result, nil
}

// MemoryWindowStore keeps windows in process memory. Used in tests and in
// single-instance deployments without Redis; the mutex provides the same
// atomicity the Lua script gives the shared store.
type MemoryWindowStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{windows: make(map[string][]time.Time)}
}

func (s *MemoryWindowStore) Take(ctx context.Context, key string, limit int, window time.Duration) (WindowResult, error) {
	now := time.Now()
	cutoff := now.Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.windows[key]
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	result := WindowResult{Count: int64(len(kept))}
	if len(kept) < limit {
		kept = append(kept, now)
		sort.Slice(kept, func(i, j int) bool { return kept[i].Before(kept[j]) })
		result.Allowed = true
		result.Count = int64(len(kept))
	}
	if len(kept) > 0 {
		result.Oldest = kept[0]
	}

	s.windows[key] = kept
	return result, nil
}

func windowKey(key string) string {
	return fmt.Sprintf("ratelimit:sliding:%s", key)
}
