package behavior

import (
	"context"
	"hash/fnv"
	"log"
	"math"
	"sync"
	"time"

	"github.com/ratewarden/ratewarden/internal/anomaly"
	"github.com/ratewarden/ratewarden/internal/config"
	"github.com/ratewarden/ratewarden/internal/metrics"
	"github.com/ratewarden/ratewarden/internal/models"
)

const lockShards = 64

type observation struct {
	callerID string
	path     string
	method   string
	allowed  bool
	at       time.Time
}

// Tracker maintains the rolling per-caller behavior summaries. Observations
// are queued and applied off the admission path; a full queue drops the
// observation rather than blocking.
type Tracker struct {
	cfg      config.BehaviorConfig
	store    SummaryStore
	detector *anomaly.Detector
	metrics  *metrics.Metrics

	queue chan observation
	quit  chan struct{}
	wg    sync.WaitGroup

	// Serializes concurrent writers for the same caller. Writers for
	// different callers proceed independently.
	locks [lockShards]sync.Mutex
}

func NewTracker(cfg config.BehaviorConfig, store SummaryStore, detector *anomaly.Detector, m *metrics.Metrics) *Tracker {
	return &Tracker{
		cfg:      cfg,
		store:    store,
		detector: detector,
		metrics:  m,
		queue:    make(chan observation, cfg.QueueSize),
		quit:     make(chan struct{}),
	}
}

func (t *Tracker) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Drains queued observations, then stops the worker.
func (t *Tracker) Stop() {
	close(t.quit)
	t.wg.Wait()
}

func (t *Tracker) worker() {
	defer t.wg.Done()

	for {
		select {
		case obs := <-t.queue:
			t.apply(context.Background(), obs)
		case <-t.quit:
			for {
				select {
				case obs := <-t.queue:
					t.apply(context.Background(), obs)
				default:
					return
				}
			}
		}
	}
}

// Fire-and-forget; never blocks the admission path.
func (t *Tracker) Observe(callerID, path, method string, wasAllowed bool) {
	obs := observation{
		callerID: callerID,
		path:     path,
		method:   method,
		allowed:  wasAllowed,
		at:       time.Now(),
	}

	select {
	case t.queue <- obs:
	default:
		t.metrics.RecordQueueDrop("behavior")
		log.Printf("behavior queue full, dropping observation for %s", callerID)
	}
}

// Current summary for a caller, nil when never observed or expired.
func (t *Tracker) Summary(ctx context.Context, callerID string) (*models.BehaviorSummary, error) {
	return t.store.Get(ctx, callerID)
}

func (t *Tracker) apply(ctx context.Context, obs observation) {
	lock := &t.locks[shardFor(obs.callerID)]
	lock.Lock()
	defer lock.Unlock()

	summary, err := t.store.Get(ctx, obs.callerID)
	if err != nil {
		log.Printf("behavior read failed for %s: %v", obs.callerID, err)
		return
	}
	if summary == nil {
		summary = models.NewBehaviorSummary(obs.callerID, obs.at)
	}

	t.update(summary, obs)

	if err := t.store.Put(ctx, summary, t.cfg.SummaryTTL()); err != nil {
		log.Printf("behavior write failed for %s: %v", obs.callerID, err)
	}

	if t.detector != nil {
		t.detector.ObserveMinute(ctx, obs.callerID, obs.allowed)
	}
}

func (t *Tracker) update(s *models.BehaviorSummary, obs observation) {
	if s.EndpointCounts == nil {
		s.EndpointCounts = make(map[string]int64)
	}
	s.EndpointCounts[obs.method+":"+obs.path]++
	s.TotalRequests++

	minutes := obs.at.Sub(s.LastActive).Minutes()
	if minutes < 1 {
		minutes = 1
	}
	instantaneous := 1 / minutes

	// The first observation seeds the average directly; smoothing up from
	// zero would make every fresh caller look like a rate spike.
	if s.TotalRequests == 1 {
		s.AvgRatePerMin = instantaneous
	} else {
		s.AvgRatePerMin = s.AvgRatePerMin*t.cfg.AvgSmoothing + instantaneous*(1-t.cfg.AvgSmoothing)
	}
	if instantaneous > s.PeakRatePerMin {
		s.PeakRatePerMin = instantaneous
	}

	if obs.allowed {
		s.ErrorRate *= t.cfg.ErrorDecay
	} else {
		s.ErrorRate = s.ErrorRate*t.cfg.ErrorUpSmoothing + (1 - t.cfg.ErrorUpSmoothing)
	}

	if t.detector != nil {
		s.Suspicious, _ = t.detector.Suspicious(s)
	}

	s.AdaptationFactor = adaptationFactor(s)
	s.LastActive = obs.at
}

// Derives the quota multiplier from observed behavior, clamped to
// [0.1, 2.0]. Low error rates earn headroom, high error rates and narrow
// endpoint usage lose it.
func adaptationFactor(s *models.BehaviorSummary) float64 {
	factor := 1.0

	if s.ErrorRate < 0.01 {
		factor *= 1.2
	}
	if s.ErrorRate > 0.1 {
		factor *= 1 - s.ErrorRate
	}

	diversity := float64(s.UniqueEndpoints()) / math.Sqrt(float64(s.TotalRequests))
	if diversity > 2.0 {
		diversity = 2.0
	}
	factor *= 0.5 + diversity*0.5

	if factor < 0.1 {
		factor = 0.1
	}
	if factor > 2.0 {
		factor = 2.0
	}
	return factor
}

func shardFor(callerID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(callerID))
	return h.Sum32() % lockShards
}
