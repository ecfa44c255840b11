package behavior

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ratewarden/ratewarden/internal/models"
	"github.com/ratewarden/ratewarden/internal/storage"
)

// SummaryStore persists per-caller behavior summaries with a rolling expiry.
// Get returns (nil, nil) for callers never observed or expired.
type SummaryStore interface {
	Get(ctx context.Context, callerID string) (*models.BehaviorSummary, error)
	Put(ctx context.Context, summary *models.BehaviorSummary, ttl time.Duration) error
}

// Summaries live in the shared store as JSON values so all process
// instances see the same behavior state.
type RedisSummaryStore struct {
	redis *storage.RedisClient
}

func NewRedisSummaryStore(r *storage.RedisClient) *RedisSummaryStore {
	return &RedisSummaryStore{redis: r}
}

func (s *RedisSummaryStore) Get(ctx context.Context, callerID string) (*models.BehaviorSummary, error) {
	data, err := s.redis.Get(ctx, summaryKey(callerID))
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var summary models.BehaviorSummary
	if err := json.Unmarshal([]byte(data), &summary); err != nil {
		return nil, fmt.Errorf("corrupt behavior summary for %s: %w", callerID, err)
	}

	return &summary, nil
}

func (s *RedisSummaryStore) Put(ctx context.Context, summary *models.BehaviorSummary, ttl time.Duration) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}

	return s.redis.Set(ctx, summaryKey(summary.CallerID), data, ttl)
}

// In-memory store for tests and single-process deployments.
type MemorySummaryStore struct {
	mu        sync.RWMutex
	summaries map[string]*memoryEntry
}

type memoryEntry struct {
	summary models.BehaviorSummary
	expires time.Time
}

func NewMemorySummaryStore() *MemorySummaryStore {
	return &MemorySummaryStore{summaries: make(map[string]*memoryEntry)}
}

func (s *MemorySummaryStore) Get(ctx context.Context, callerID string) (*models.BehaviorSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.summaries[callerID]
	if !ok || time.Now().After(entry.expires) {
		return nil, nil
	}

	copied := entry.summary
	copied.EndpointCounts = make(map[string]int64, len(entry.summary.EndpointCounts))
	for k, v := range entry.summary.EndpointCounts {
		copied.EndpointCounts[k] = v
	}

	return &copied, nil
}

func (s *MemorySummaryStore) Put(ctx context.Context, summary *models.BehaviorSummary, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *summary
	copied.EndpointCounts = make(map[string]int64, len(summary.EndpointCounts))
	for k, v := range summary.EndpointCounts {
		copied.EndpointCounts[k] = v
	}

	s.summaries[summary.CallerID] = &memoryEntry{
		summary: copied,
		expires: time.Now().Add(ttl),
	}
	return nil
}

func summaryKey(callerID string) string {
	return fmt.Sprintf("behavior:summary:%s", callerID)
}
