package admission

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ratewarden/ratewarden/internal/storage"
)

// ConcurrencyGuard enforces per-endpoint in-flight caps. Acquire returns
// false when the cap is reached; the release function must be called when
// the request completes.
type ConcurrencyGuard interface {
	Acquire(ctx context.Context, key string, cap int) (bool, func(), error)
}

// In-flight counters live in the shared store so the cap holds across
// process instances. The TTL guards against leaked slots from crashed
// instances.
type RedisConcurrencyGuard struct {
	redis *storage.RedisClient
	ttl   time.Duration
}

func NewRedisConcurrencyGuard(r *storage.RedisClient) *RedisConcurrencyGuard {
	return &RedisConcurrencyGuard{redis: r, ttl: time.Minute}
}

func (g *RedisConcurrencyGuard) Acquire(ctx context.Context, key string, cap int) (bool, func(), error) {
	counterKey := fmt.Sprintf("ratelimit:inflight:%s", key)

	n, err := g.redis.Incr(ctx, counterKey)
	if err != nil {
		return false, nil, err
	}
	if n == 1 {
		g.redis.Expire(ctx, counterKey, g.ttl)
	}

	if n > int64(cap) {
		if _, err := g.redis.Decr(context.WithoutCancel(ctx), counterKey); err != nil {
			log.Printf("failed to release in-flight slot for %s: %v", key, err)
		}
		return false, nil, nil
	}

	release := func() {
		if _, err := g.redis.Decr(context.Background(), counterKey); err != nil {
			log.Printf("failed to release in-flight slot for %s: %v", key, err)
		}
	}
	return true, release, nil
}
