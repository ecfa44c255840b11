package anomaly

import (
	"context"
	"fmt"
	"time"

	"github.com/ratewarden/ratewarden/internal/config"
	"github.com/ratewarden/ratewarden/internal/models"
)

// MinuteCounter is the short-horizon exact counter in the shared store.
// Returns the post-increment value.
type MinuteCounter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Detector evaluates behavior summaries against fixed thresholds and keeps
// exact per-minute counters that catch bursts before the smoothed averages
// react.
type Detector struct {
	cfg      config.AnomalyConfig
	counters MinuteCounter
	recorder *Recorder
}

func NewDetector(cfg config.AnomalyConfig, counters MinuteCounter, recorder *Recorder) *Detector {
	return &Detector{
		cfg:      cfg,
		counters: counters,
		recorder: recorder,
	}
}

// Pure predicate over a behavior summary. Any trigger marks the caller
// suspicious.
func (d *Detector) Suspicious(s *models.BehaviorSummary) (bool, models.AnomalyKind) {
	if s.AvgRatePerMin > 0 && s.PeakRatePerMin/s.AvgRatePerMin > d.cfg.RateSpikeRatio {
		return true, models.AnomalyRateSpike
	}
	if s.ErrorRate > d.cfg.ErrorSpikeRate {
		return true, models.AnomalyErrorSpike
	}
	if s.TotalRequests > d.cfg.AbuseRequestFloor && s.UniqueEndpoints() < d.cfg.AbuseEndpointCeil {
		return true, models.AnomalyAbuseAttempt
	}
	return false, ""
}

// Bumps the exact per-minute counters and emits a record when a burst
// exceeds the hard caps, independent of the smoothed suspicious flag.
func (d *Detector) ObserveMinute(ctx context.Context, callerID string, allowed bool) {
	if d.counters == nil {
		return
	}

	now := time.Now()
	minute := now.Unix() / 60

	requests, err := d.counters.Incr(ctx, minuteKey("req", callerID, minute), 2*time.Minute)
	if err == nil && requests == d.cfg.MinuteRequestCap+1 {
		d.recorder.Record(ctx, &models.AnomalyRecord{
			Timestamp:   now,
			CallerID:    callerID,
			Kind:        models.AnomalyRateSpike,
			Severity:    models.SeverityHigh,
			Description: fmt.Sprintf("caller exceeded %d requests in one minute", d.cfg.MinuteRequestCap),
			Metrics: map[string]float64{
				"requests_per_minute": float64(requests),
			},
		})
	}

	if allowed {
		return
	}

	denials, err := d.counters.Incr(ctx, minuteKey("deny", callerID, minute), 2*time.Minute)
	if err == nil && denials == d.cfg.MinuteDenialCap+1 {
		d.recorder.Record(ctx, &models.AnomalyRecord{
			Timestamp:   now,
			CallerID:    callerID,
			Kind:        models.AnomalyErrorSpike,
			Severity:    models.SeverityMedium,
			Description: fmt.Sprintf("caller exceeded %d denials in one minute", d.cfg.MinuteDenialCap),
			Metrics: map[string]float64{
				"denials_per_minute": float64(denials),
			},
		})
	}
}

func (d *Detector) Recorder() *Recorder {
	return d.recorder
}

func minuteKey(kind, callerID string, minute int64) string {
	return fmt.Sprintf("anomaly:minute:%s:%s:%d", kind, callerID, minute)
}
