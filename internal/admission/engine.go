package admission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/ratewarden/ratewarden/internal/anomaly"
	"github.com/ratewarden/ratewarden/internal/config"
	"github.com/ratewarden/ratewarden/internal/metrics"
	"github.com/ratewarden/ratewarden/internal/models"
	"github.com/ratewarden/ratewarden/internal/policy"
)

var ErrInvalidInput = errors.New("caller id, path and method must be non-empty")

// BehaviorSource yields the current behavior summary for a caller, nil when
// the caller has never been observed.
type BehaviorSource interface {
	Summary(ctx context.Context, callerID string) (*models.BehaviorSummary, error)
}

// Engine composes the policy catalog and behavior tracker outputs into an
// effective quota and settles it against the shared sliding-window store.
// Invoked once per inbound request on the hot path.
type Engine struct {
	cfg        config.LimiterConfig
	anomalyCfg config.AnomalyConfig
	catalog    *policy.Catalog
	behavior   BehaviorSource
	windows    WindowStore
	guard      ConcurrencyGuard
	blocks     anomaly.BlockList
	detector   *anomaly.Detector
	metrics    *metrics.Metrics
}

func NewEngine(
	cfg config.LimiterConfig,
	anomalyCfg config.AnomalyConfig,
	catalog *policy.Catalog,
	behavior BehaviorSource,
	windows WindowStore,
	guard ConcurrencyGuard,
	blocks anomaly.BlockList,
	detector *anomaly.Detector,
	m *metrics.Metrics,
) *Engine {
	return &Engine{
		cfg:        cfg,
		anomalyCfg: anomalyCfg,
		catalog:    catalog,
		behavior:   behavior,
		windows:    windows,
		guard:      guard,
		blocks:     blocks,
		detector:   detector,
		metrics:    m,
	}
}

// Check decides whether to admit one request. The returned release function
// is non-nil only when a concurrency slot was acquired and must be called
// when the request completes. A store fault is never returned as an error:
// the engine fails open (or closed for critical endpoints when configured).
func (e *Engine) Check(ctx context.Context, callerID, path, method string, base models.Quota) (models.AdmissionDecision, func(), error) {
	if callerID == "" || path == "" || method == "" {
		return models.AdmissionDecision{}, nil, ErrInvalidInput
	}

	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout())
	defer cancel()

	tier := e.catalog.ResolveTier(sctx, callerID)
	profile := e.catalog.MatchEndpoint(path, method)

	// A standing auto-block denies before the counters are touched. The
	// advertised limit is the unobserved-caller quota since no behavior
	// state is consulted on this path.
	if e.blocks != nil {
		if blocked, err := e.blocks.IsBlocked(sctx, callerID); err == nil && blocked {
			decision := e.blockedDecision(tier, start)
			requests, burst := EffectiveQuota(base, tier, profile, nil)
			decision.Limit = requests + burst
			return decision, nil, nil
		}
	}

	var summary *models.BehaviorSummary
	if e.behavior != nil {
		var err error
		summary, err = e.behavior.Summary(sctx, callerID)
		if err != nil {
			// Missing behavior state is not fatal; treat the caller as unobserved
			log.Printf("behavior lookup failed for %s: %v", callerID, err)
			summary = nil
		}
	}

	requests, burst := EffectiveQuota(base, tier, profile, summary)
	limit := requests + burst

	if summary != nil && summary.Suspicious && e.cfg.AnomalyDetection {
		e.autoBlock(sctx, callerID, summary)
		decision := e.blockedDecision(tier, start)
		decision.Limit = limit
		return decision, nil, nil
	}

	var release func()
	if profile.MaxConcurrent > 0 && e.guard != nil {
		ok, rel, err := e.guard.Acquire(sctx, routeKey(callerID, path, method), profile.MaxConcurrent)
		if err != nil {
			// Guard faults never deny; the window check still applies
			log.Printf("concurrency guard failed for %s: %v", callerID, err)
		} else if !ok {
			decision := models.AdmissionDecision{
				Allowed:    false,
				Remaining:  0,
				ResetTime:  start.Add(time.Second),
				RetryAfter: 1,
				Tier:       tier.Name,
				Limit:      limit,
			}
			e.metrics.ObserveAdmission(metrics.OutcomeDenied, time.Since(start))
			return decision, nil, nil
		} else {
			release = rel
		}
	}

	result, err := e.windows.Take(sctx, routeKey(callerID, path, method), limit, base.Window)
	if err != nil {
		return e.storeFaultDecision(callerID, tier, profile, limit, base, start, err), release, nil
	}

	if !result.Allowed {
		if release != nil {
			// Request was not admitted; give the slot back immediately
			release()
		}

		retryAfter := retryAfterSeconds(result.Oldest, base.Window, start)
		decision := models.AdmissionDecision{
			Allowed:    false,
			Remaining:  0,
			ResetTime:  result.Oldest.Add(base.Window),
			RetryAfter: retryAfter,
			Tier:       tier.Name,
			Limit:      limit,
		}
		e.metrics.ObserveAdmission(metrics.OutcomeDenied, time.Since(start))
		return decision, nil, nil
	}

	resetTime := start.Add(base.Window)
	if !result.Oldest.IsZero() {
		resetTime = result.Oldest.Add(base.Window)
	}

	decision := models.AdmissionDecision{
		Allowed:   true,
		Remaining: limit - int(result.Count),
		ResetTime: resetTime,
		Tier:      tier.Name,
		Limit:     limit,
	}
	e.metrics.ObserveAdmission(metrics.OutcomeAllowed, time.Since(start))
	return decision, release, nil
}

// Effective quota composition: tier weight scales up, endpoint cost divides,
// the adaptation factor adjusts for observed behavior, and sustained errors
// shave up to half. Never below one request per window.
func EffectiveQuota(base models.Quota, tier models.CallerTier, profile models.EndpointProfile, summary *models.BehaviorSummary) (requests, burst int) {
	factor := 1.0
	errorRate := 0.0
	if summary != nil {
		factor = summary.AdaptationFactor
		errorRate = summary.ErrorRate
	}

	cost := profile.CostMultiplier
	if cost <= 0 {
		cost = 1.0
	}

	r := math.Floor(float64(base.Requests) * tier.PriorityWeight / cost * factor)
	if errorRate > 0.1 {
		penalty := 1 - (errorRate - 0.1)
		if penalty < 0.5 {
			penalty = 0.5
		}
		r = math.Floor(r * penalty)
	}
	if r < 1 {
		r = 1
	}

	b := math.Floor(float64(base.Burst) * tier.PriorityWeight * tier.BurstMultiplier / cost * factor)
	if b < 0 {
		b = 0
	}

	return int(r), int(b)
}

func (e *Engine) autoBlock(ctx context.Context, callerID string, summary *models.BehaviorSummary) {
	if e.blocks != nil {
		if err := e.blocks.Block(ctx, callerID, e.anomalyCfg.AutoBlockTTL()); err != nil {
			log.Printf("auto-block failed for %s: %v", callerID, err)
		}
	}

	if e.detector != nil {
		kind := models.AnomalyPatternChange
		if suspicious, k := e.detector.Suspicious(summary); suspicious {
			kind = k
		}

		e.detector.Recorder().Record(ctx, &models.AnomalyRecord{
			Timestamp:   time.Now(),
			CallerID:    callerID,
			Kind:        kind,
			Severity:    models.SeverityHigh,
			Description: fmt.Sprintf("caller %s auto-blocked on suspicious behavior", callerID),
			Metrics: map[string]float64{
				"avg_rate_per_min":  summary.AvgRatePerMin,
				"peak_rate_per_min": summary.PeakRatePerMin,
				"error_rate":        summary.ErrorRate,
				"total_requests":    float64(summary.TotalRequests),
				"unique_endpoints":  float64(summary.UniqueEndpoints()),
			},
			AutoBlocked: true,
		})
		e.metrics.RecordAnomaly(string(kind))
	}
}

func (e *Engine) blockedDecision(tier models.CallerTier, start time.Time) models.AdmissionDecision {
	e.metrics.ObserveAdmission(metrics.OutcomeBlocked, time.Since(start))
	return models.AdmissionDecision{
		Allowed:    false,
		Remaining:  0,
		ResetTime:  start.Add(60 * time.Second),
		RetryAfter: 60,
		Blocked:    true,
		Tier:       tier.Name,
	}
}

// Store faults fail open so an infrastructure outage never takes down the
// protected service. Critical endpoints can be configured to fail closed
// instead.
func (e *Engine) storeFaultDecision(callerID string, tier models.CallerTier, profile models.EndpointProfile, limit int, base models.Quota, start time.Time, err error) models.AdmissionDecision {
	log.Printf("counter store unavailable for %s: %v", callerID, err)
	e.metrics.RecordFailOpen()

	if e.cfg.FailClosedCritical && profile.Complexity == models.ComplexityCritical {
		e.metrics.ObserveAdmission(metrics.OutcomeDenied, time.Since(start))
		return models.AdmissionDecision{
			Allowed:    false,
			Remaining:  0,
			ResetTime:  start.Add(base.Window),
			RetryAfter: int(base.Window.Seconds()),
			Tier:       tier.Name,
			Limit:      limit,
		}
	}

	e.metrics.ObserveAdmission(metrics.OutcomeAllowed, time.Since(start))
	return models.AdmissionDecision{
		Allowed:   true,
		Remaining: limit - 1,
		ResetTime: start.Add(base.Window),
		Tier:      tier.Name,
		Limit:     limit,
	}
}

func retryAfterSeconds(oldest time.Time, window time.Duration, now time.Time) int {
	if oldest.IsZero() {
		return 1
	}

	wait := oldest.Add(window).Sub(now)
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func routeKey(callerID, path, method string) string {
	return fmt.Sprintf("%s:%s:%s", callerID, method, path)
}
