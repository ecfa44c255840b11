package analytics

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ratewarden/ratewarden/internal/anomaly"
	"github.com/ratewarden/ratewarden/internal/config"
	"github.com/ratewarden/ratewarden/internal/metrics"
	"github.com/ratewarden/ratewarden/internal/models"
)

// One completed request as seen by the aggregator.
type Outcome struct {
	CallerID       string
	Endpoint       string
	Method         string
	Tier           string
	Allowed        bool
	Blocked        bool
	ResponseTimeMs int
	At             time.Time
}

// LogSink durably stores admission outcomes in batches.
type LogSink interface {
	CreateBatch(ctx context.Context, logs []models.AdmissionLog) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AnomalySink is the durable store for anomaly records: read on the report
// path, swept on retention.
type AnomalySink interface {
	FindByTimeRange(ctx context.Context, from, to time.Time, limit int) ([]models.AnomalyRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// OverrideSink clears manual tier overrides whose expiry has passed.
type OverrideSink interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type bucketKey struct {
	granularity models.Granularity
	start       int64 // unix seconds of the period start
}

type callerStats struct {
	requests  int64
	allowed   int64
	denied    int64
	totalMs   int64
	endpoints map[string]int64
}

type endpointStats struct {
	requests int64
	allowed  int64
	denied   int64
	totalMs  int64
	callers  map[string]struct{}
	samples  []int // capped response-time samples, newest last
}

// Aggregator consumes every admission outcome asynchronously and rolls it
// into time buckets, per-caller and per-endpoint summaries. Purely additive
// counters; outcomes may be applied out of order without correctness loss.
// One instance per process; state is owned here and injected into readers.
type Aggregator struct {
	cfg       config.AnalyticsConfig
	recorder  *anomaly.Recorder
	logs      LogSink
	anomalies AnomalySink
	overrides OverrideSink
	metrics   *metrics.Metrics

	mu        sync.RWMutex
	buckets   map[bucketKey]*models.TimeBucket
	callers   map[string]map[string]*callerStats   // day -> caller id
	endpoints map[string]map[string]*endpointStats // day -> method:path

	queue chan Outcome
	quit  chan struct{}
	wg    sync.WaitGroup

	// Test seam; production uses the wall clock.
	now func() time.Time
}

func NewAggregator(cfg config.AnalyticsConfig, recorder *anomaly.Recorder, logs LogSink, anomalies AnomalySink, overrides OverrideSink, m *metrics.Metrics) *Aggregator {
	return &Aggregator{
		cfg:       cfg,
		recorder:  recorder,
		logs:      logs,
		anomalies: anomalies,
		overrides: overrides,
		metrics:   m,
		buckets:   make(map[bucketKey]*models.TimeBucket),
		callers:   make(map[string]map[string]*callerStats),
		endpoints: make(map[string]map[string]*endpointStats),
		queue:     make(chan Outcome, cfg.QueueSize),
		quit:      make(chan struct{}),
		now:       time.Now,
	}
}

// Starts the drain worker and the periodic retention sweep.
func (a *Aggregator) Start() {
	a.wg.Add(2)
	go a.drain()
	go a.sweepLoop()
}

// Drains the queue, flushes pending durable logs, then stops.
func (a *Aggregator) Stop() {
	close(a.quit)
	a.wg.Wait()
}

// RecordOutcome is called once per completed request, independent of the
// admission decision. Never blocks; a full queue drops the outcome.
func (a *Aggregator) RecordOutcome(callerID, endpoint, method, tier string, allowed, blocked bool, responseTimeMs int) {
	out := Outcome{
		CallerID:       callerID,
		Endpoint:       endpoint,
		Method:         method,
		Tier:           tier,
		Allowed:        allowed,
		Blocked:        blocked,
		ResponseTimeMs: responseTimeMs,
		At:             a.now(),
	}

	select {
	case a.queue <- out:
	default:
		a.metrics.RecordQueueDrop("analytics")
		log.Printf("analytics queue full, dropping outcome for %s", callerID)
	}
}

func (a *Aggregator) drain() {
	defer a.wg.Done()

	batch := make([]models.AdmissionLog, 0, 100)
	flushTicker := time.NewTicker(5 * time.Second)
	defer flushTicker.Stop()

	flush := func() {
		if a.logs == nil || len(batch) == 0 {
			return
		}
		if err := a.logs.CreateBatch(context.Background(), batch); err != nil {
			log.Printf("failed to insert admission logs: %v", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case out := <-a.queue:
			a.apply(out)
			batch = append(batch, toLog(out))
			if len(batch) >= 100 {
				flush()
			}
		case <-flushTicker.C:
			flush()
		case <-a.quit:
			for {
				select {
				case out := <-a.queue:
					a.apply(out)
					batch = append(batch, toLog(out))
				default:
					flush()
					return
				}
			}
		}
	}
}

func (a *Aggregator) apply(out Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, g := range []models.Granularity{models.GranularityMinute, models.GranularityHour, models.GranularityDay} {
		start := g.PeriodStart(out.At)
		key := bucketKey{granularity: g, start: start.Unix()}

		bucket, ok := a.buckets[key]
		if !ok {
			bucket = &models.TimeBucket{Granularity: g, Start: start}
			a.buckets[key] = bucket
		}

		bucket.Total++
		if out.Allowed {
			bucket.Allowed++
		} else {
			bucket.Blocked++
		}
	}

	day := dayKey(out.At)
	endpointKey := out.Method + ":" + out.Endpoint

	callers, ok := a.callers[day]
	if !ok {
		callers = make(map[string]*callerStats)
		a.callers[day] = callers
	}
	cs, ok := callers[out.CallerID]
	if !ok {
		cs = &callerStats{endpoints: make(map[string]int64)}
		callers[out.CallerID] = cs
	}
	cs.requests++
	cs.totalMs += int64(out.ResponseTimeMs)
	cs.endpoints[endpointKey]++
	if out.Allowed {
		cs.allowed++
	} else {
		cs.denied++
	}

	endpoints, ok := a.endpoints[day]
	if !ok {
		endpoints = make(map[string]*endpointStats)
		a.endpoints[day] = endpoints
	}
	es, ok := endpoints[endpointKey]
	if !ok {
		es = &endpointStats{callers: make(map[string]struct{})}
		endpoints[endpointKey] = es
	}
	es.requests++
	es.totalMs += int64(out.ResponseTimeMs)
	es.callers[out.CallerID] = struct{}{}
	if out.Allowed {
		es.allowed++
	} else {
		es.denied++
	}

	es.samples = append(es.samples, out.ResponseTimeMs)
	if len(es.samples) > a.cfg.SampleCap {
		es.samples = es.samples[len(es.samples)-a.cfg.SampleCap:]
	}
}

func (a *Aggregator) sweepLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.Sweep(context.Background())
		case <-a.quit:
			return
		}
	}
}

// Sweep purges everything past its retention: minute buckets after 30
// minutes, hour buckets after 7 days, day buckets after 30, anomaly records
// after 7, durable logs after their configured retention.
func (a *Aggregator) Sweep(ctx context.Context) {
	now := a.now()

	minuteCutoff := now.Add(-time.Duration(a.cfg.MinuteRetention) * time.Minute)
	hourCutoff := now.AddDate(0, 0, -a.cfg.HourRetentionDay)
	dayCutoff := now.AddDate(0, 0, -a.cfg.DayRetentionDay)

	a.mu.Lock()
	for key, bucket := range a.buckets {
		var cutoff time.Time
		switch bucket.Granularity {
		case models.GranularityMinute:
			cutoff = minuteCutoff
		case models.GranularityHour:
			cutoff = hourCutoff
		default:
			cutoff = dayCutoff
		}
		if bucket.Start.Before(cutoff) {
			delete(a.buckets, key)
		}
	}
	for day := range a.callers {
		if dayBefore(day, dayCutoff) {
			delete(a.callers, day)
		}
	}
	for day := range a.endpoints {
		if dayBefore(day, dayCutoff) {
			delete(a.endpoints, day)
		}
	}
	a.mu.Unlock()

	if a.recorder != nil {
		a.recorder.Purge(now)
	}
	if a.anomalies != nil {
		if _, err := a.anomalies.DeleteOlderThan(ctx, now.AddDate(0, 0, -7)); err != nil {
			log.Printf("anomaly retention sweep failed: %v", err)
		}
	}
	if a.logs != nil {
		if _, err := a.logs.DeleteOlderThan(ctx, now.AddDate(0, 0, -a.cfg.LogRetentionDays)); err != nil {
			log.Printf("admission log retention sweep failed: %v", err)
		}
	}
	if a.overrides != nil {
		if _, err := a.overrides.DeleteExpired(ctx, now); err != nil {
			log.Printf("override expiry sweep failed: %v", err)
		}
	}
}

func toLog(out Outcome) models.AdmissionLog {
	return models.AdmissionLog{
		Timestamp:      out.At,
		CallerID:       out.CallerID,
		Method:         out.Method,
		Path:           out.Endpoint,
		Allowed:        out.Allowed,
		Blocked:        out.Blocked,
		Tier:           out.Tier,
		ResponseTimeMs: out.ResponseTimeMs,
	}
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func dayBefore(day string, cutoff time.Time) bool {
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		return true
	}
	return t.Before(time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), 0, 0, 0, 0, cutoff.Location()))
}
