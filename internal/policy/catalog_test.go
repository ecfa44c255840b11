package policy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ratewarden/ratewarden/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	mu     sync.Mutex
	values map[string]string
	misses int
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string]string)}
}

func (c *fakeCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		c.misses++
		return "", errors.New("cache miss")
	}
	return v, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch v := value.(type) {
	case string:
		c.values[key] = v
	case []byte:
		c.values[key] = string(v)
	}
	return nil
}

type fakeOverrides struct {
	override *models.TierOverride
}

func (f *fakeOverrides) FindActive(ctx context.Context, callerID string, now time.Time) (*models.TierOverride, error) {
	if f.override != nil && f.override.CallerID == callerID && !f.override.Expired(now) {
		return f.override, nil
	}
	return nil, nil
}

func testTiers() []models.CallerTier {
	return []models.CallerTier{
		{Name: "free", RequestsPerMinute: 60, PriorityWeight: 1.0, BurstMultiplier: 1.0},
		{Name: "premium", RequestsPerMinute: 300, PriorityWeight: 2.0, BurstMultiplier: 1.5},
	}
}

func TestCatalogFallbackIsLowestTier(t *testing.T) {
	catalog := NewCatalog(testTiers(), nil, nil, nil, nil, time.Minute)

	tier := catalog.ResolveTier(context.Background(), "unknown-caller")
	assert.Equal(t, "free", tier.Name)
}

func TestCatalogResolverFailureFallsBack(t *testing.T) {
	resolver := ResolverFunc(func(ctx context.Context, callerID string) (*models.CallerTier, error) {
		return nil, errors.New("identity service down")
	})

	catalog := NewCatalog(testTiers(), nil, resolver, nil, nil, time.Minute)

	tier := catalog.ResolveTier(context.Background(), "caller-1")
	assert.Equal(t, "free", tier.Name)
}

func TestCatalogResolvesAndCaches(t *testing.T) {
	calls := 0
	resolver := ResolverFunc(func(ctx context.Context, callerID string) (*models.CallerTier, error) {
		calls++
		tier := models.CallerTier{Name: "premium", RequestsPerMinute: 300, PriorityWeight: 2.0}
		return &tier, nil
	})

	cache := newFakeCache()
	catalog := NewCatalog(testTiers(), nil, resolver, nil, cache, time.Minute)

	first := catalog.ResolveTier(context.Background(), "caller-1")
	require.Equal(t, "premium", first.Name)
	assert.Equal(t, 1, calls)

	second := catalog.ResolveTier(context.Background(), "caller-1")
	assert.Equal(t, "premium", second.Name)
	assert.Equal(t, 1, calls, "second resolution should hit the cache")
}

func TestCatalogOverrideBeatsResolver(t *testing.T) {
	resolver := ResolverFunc(func(ctx context.Context, callerID string) (*models.CallerTier, error) {
		tier := models.CallerTier{Name: "free", PriorityWeight: 1.0}
		return &tier, nil
	})

	overrides := &fakeOverrides{override: &models.TierOverride{
		CallerID:  "caller-1",
		Tier:      "premium",
		ExpiresAt: time.Now().Add(time.Hour),
	}}

	catalog := NewCatalog(testTiers(), nil, resolver, overrides, nil, time.Minute)

	tier := catalog.ResolveTier(context.Background(), "caller-1")
	assert.Equal(t, "premium", tier.Name)
}

func TestCatalogExpiredOverrideIgnored(t *testing.T) {
	overrides := &fakeOverrides{override: &models.TierOverride{
		CallerID:  "caller-1",
		Tier:      "premium",
		ExpiresAt: time.Now().Add(-time.Minute),
	}}

	catalog := NewCatalog(testTiers(), nil, nil, overrides, nil, time.Minute)

	tier := catalog.ResolveTier(context.Background(), "caller-1")
	assert.Equal(t, "free", tier.Name)
}

func TestCatalogStaticLookups(t *testing.T) {
	catalog := NewCatalog(testTiers(), nil, nil, nil, nil, time.Minute)

	premium, ok := catalog.Tier("premium")
	require.True(t, ok)
	assert.Equal(t, 2.0, premium.PriorityWeight)

	_, ok = catalog.Tier("ghost")
	assert.False(t, ok)

	assert.Equal(t, "free", catalog.FallbackTier().Name)
}

func TestCatalogWithoutConfiguredTiers(t *testing.T) {
	catalog := NewCatalog(nil, nil, nil, nil, nil, time.Minute)

	fallback := catalog.FallbackTier()
	assert.Equal(t, "free", fallback.Name)
	assert.Equal(t, 60, fallback.RequestsPerMinute)
}
