package anomaly

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ratewarden/ratewarden/internal/storage"
)

// BlockList tracks callers under a temporary auto-block.
type BlockList interface {
	Block(ctx context.Context, callerID string, ttl time.Duration) error
	IsBlocked(ctx context.Context, callerID string) (bool, error)
	Unblock(ctx context.Context, callerID string) error
}

// Auto-block entries live in the shared store so every process instance
// honors them.
type RedisBlockList struct {
	redis *storage.RedisClient
}

func NewRedisBlockList(redis *storage.RedisClient) *RedisBlockList {
	return &RedisBlockList{redis: redis}
}

func (b *RedisBlockList) Block(ctx context.Context, callerID string, ttl time.Duration) error {
	return b.redis.Set(ctx, blockKey(callerID), "1", ttl)
}

func (b *RedisBlockList) IsBlocked(ctx context.Context, callerID string) (bool, error) {
	return b.redis.Exists(ctx, blockKey(callerID))
}

func (b *RedisBlockList) Unblock(ctx context.Context, callerID string) error {
	return b.redis.Del(ctx, blockKey(callerID))
}

// In-memory block list for tests and single-process deployments.
type MemoryBlockList struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func NewMemoryBlockList() *MemoryBlockList {
	return &MemoryBlockList{entries: make(map[string]time.Time)}
}

func (b *MemoryBlockList) Block(ctx context.Context, callerID string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[callerID] = time.Now().Add(ttl)
	return nil
}

func (b *MemoryBlockList) IsBlocked(ctx context.Context, callerID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	until, ok := b.entries[callerID]
	if !ok {
		return false, nil
	}
	if time.Now().After(until) {
		delete(b.entries, callerID)
		return false, nil
	}
	return true, nil
}

func (b *MemoryBlockList) Unblock(ctx context.Context, callerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, callerID)
	return nil
}

// RedisMinuteCounter implements MinuteCounter on the shared store.
type RedisMinuteCounter struct {
	redis *storage.RedisClient
}

func NewRedisMinuteCounter(redis *storage.RedisClient) *RedisMinuteCounter {
	return &RedisMinuteCounter{redis: redis}
}

func (c *RedisMinuteCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := c.redis.Incr(ctx, key)
	if err != nil {
		return 0, err
	}
	if n == 1 {
		c.redis.Expire(ctx, key, ttl)
	}
	return n, nil
}

func blockKey(callerID string) string {
	return fmt.Sprintf("ratelimit:blocked:%s", callerID)
}
