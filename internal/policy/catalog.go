package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/ratewarden/ratewarden/internal/models"
)

// Answers for callers the identity collaborator has never heard of.
const fallbackTierName = "free"

// TierResolver is the identity/tier collaborator boundary. Expected to
// answer within the admission timeout budget.
type TierResolver interface {
	ResolveTier(ctx context.Context, callerID string) (*models.CallerTier, error)
}

// OverrideSource yields the active manual tier override for a caller,
// nil when there is none.
type OverrideSource interface {
	FindActive(ctx context.Context, callerID string, now time.Time) (*models.TierOverride, error)
}

// Cache is the short-TTL key-value cache in front of tier resolution.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Catalog holds the static policy tables: caller tiers and endpoint
// profiles. Pure lookup; the only mutation is the admin override path.
type Catalog struct {
	tiers     map[string]models.CallerTier
	fallback  models.CallerTier
	matcher   *EndpointMatcher
	resolver  TierResolver
	overrides OverrideSource
	cache     Cache
	cacheTTL  time.Duration
}

func NewCatalog(tiers []models.CallerTier, endpoints []models.EndpointProfile, resolver TierResolver, overrides OverrideSource, cache Cache, cacheTTL time.Duration) *Catalog {
	c := &Catalog{
		tiers:     make(map[string]models.CallerTier),
		matcher:   NewEndpointMatcher(endpoints),
		resolver:  resolver,
		overrides: overrides,
		cache:     cache,
		cacheTTL:  cacheTTL,
	}

	for _, t := range tiers {
		c.tiers[t.Name] = t
	}

	// Lowest-priority tier is the documented default for unknown callers
	first := true
	for _, t := range c.tiers {
		if first || t.PriorityWeight < c.fallback.PriorityWeight {
			c.fallback = t
			first = false
		}
	}
	if first {
		c.fallback = models.CallerTier{
			Name:              fallbackTierName,
			RequestsPerMinute: 60,
			RequestsPerHour:   1000,
			RequestsPerDay:    10000,
			BurstMultiplier:   1.0,
			PriorityWeight:    1.0,
		}
	}

	return c
}

// Resolves the tier for a caller: active manual override first, then the
// short-TTL cache, then the identity collaborator. Resolution failures fall
// back to the lowest tier and are never surfaced as errors.
func (c *Catalog) ResolveTier(ctx context.Context, callerID string) models.CallerTier {
	if c.overrides != nil {
		override, err := c.overrides.FindActive(ctx, callerID, time.Now())
		if err == nil && override != nil {
			if tier, ok := c.tiers[override.Tier]; ok {
				return tier
			}
		}
	}

	cacheKey := fmt.Sprintf("tier:cache:%s", callerID)

	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, cacheKey); err == nil && cached != "" {
			var tier models.CallerTier
			if err := json.Unmarshal([]byte(cached), &tier); err == nil {
				return tier
			}
		}
	}

	if c.resolver == nil {
		return c.fallback
	}

	tier, err := c.resolver.ResolveTier(ctx, callerID)
	if err != nil || tier == nil {
		if err != nil {
			log.Printf("tier resolution failed for %s: %v", callerID, err)
		}
		return c.fallback
	}

	if c.cache != nil {
		if tierJSON, err := json.Marshal(tier); err == nil {
			c.cache.Set(ctx, cacheKey, tierJSON, c.cacheTTL)
		}
	}

	return *tier
}

// Looks up a tier by name in the static table.
func (c *Catalog) Tier(name string) (models.CallerTier, bool) {
	t, ok := c.tiers[name]
	return t, ok
}

func (c *Catalog) FallbackTier() models.CallerTier {
	return c.fallback
}

func (c *Catalog) MatchEndpoint(path, method string) models.EndpointProfile {
	return c.matcher.Match(path, method)
}
