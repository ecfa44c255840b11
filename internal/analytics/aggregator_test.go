package analytics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ratewarden/ratewarden/internal/anomaly"
	"github.com/ratewarden/ratewarden/internal/config"
	"github.com/ratewarden/ratewarden/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryLogSink struct {
	mu      sync.Mutex
	logs    []models.AdmissionLog
	deleted time.Time
}

func (s *memoryLogSink) CreateBatch(ctx context.Context, logs []models.AdmissionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, logs...)
	return nil
}

func (s *memoryLogSink) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = cutoff
	return 0, nil
}

func (s *memoryLogSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}

type memoryAnomalySink struct {
	records []models.AnomalyRecord
	deleted time.Time
}

func (s *memoryAnomalySink) FindByTimeRange(ctx context.Context, from, to time.Time, limit int) ([]models.AnomalyRecord, error) {
	var out []models.AnomalyRecord
	for _, rec := range s.records {
		if !rec.Timestamp.Before(from) && !rec.Timestamp.After(to) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memoryAnomalySink) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.deleted = cutoff
	return 0, nil
}

type memoryOverrideSink struct {
	mu      sync.Mutex
	cleared time.Time
}

func (s *memoryOverrideSink) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = now
	return 1, nil
}

func testAnalyticsConfig() config.AnalyticsConfig {
	return config.AnalyticsConfig{
		QueueSize:        256,
		SweepIntervalSec: 3600,
		MinuteRetention:  30,
		HourRetentionDay: 7,
		DayRetentionDay:  30,
		SampleCap:        1000,
		LogRetentionDays: 30,
	}
}

func newTestAggregator(recorder *anomaly.Recorder, logs LogSink) *Aggregator {
	return NewAggregator(testAnalyticsConfig(), recorder, logs, nil, nil, nil)
}

func outcomeAt(at time.Time, caller, endpoint string, allowed bool) Outcome {
	return Outcome{
		CallerID:       caller,
		Endpoint:       endpoint,
		Method:         "GET",
		Allowed:        allowed,
		ResponseTimeMs: 10,
		At:             at,
	}
}

func TestBucketCountersStayConsistent(t *testing.T) {
	agg := newTestAggregator(nil, nil)
	now := time.Date(2026, 8, 29, 12, 30, 15, 0, time.UTC)

	for i := 0; i < 7; i++ {
		agg.apply(outcomeAt(now, "caller", "/api/data", true))
	}
	for i := 0; i < 3; i++ {
		agg.apply(outcomeAt(now, "caller", "/api/data", false))
	}

	require.Len(t, agg.buckets, 3, "one bucket per granularity")
	for key, bucket := range agg.buckets {
		assert.Equal(t, bucket.Total, bucket.Allowed+bucket.Blocked, "granularity %s", key.granularity)
		assert.Equal(t, int64(10), bucket.Total)
		assert.Equal(t, int64(7), bucket.Allowed)
		assert.Equal(t, int64(3), bucket.Blocked)
	}
}

func TestMetricsIsIdempotent(t *testing.T) {
	agg := newTestAggregator(nil, nil)
	now := time.Date(2026, 8, 29, 12, 30, 0, 0, time.UTC)

	agg.apply(outcomeAt(now, "a", "/api/data", true))
	agg.apply(outcomeAt(now, "b", "/api/data", false))

	r := TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}
	first := agg.Metrics(r)
	second := agg.Metrics(r)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(2), first.TotalRequests)
	assert.Equal(t, int64(1), first.AllowedRequests)
	assert.Equal(t, int64(1), first.DeniedRequests)
	assert.Equal(t, 2, first.UniqueCallers)
	assert.InDelta(t, 0.5, first.ErrorRate, 1e-9)
}

func TestMetricsPeakMinute(t *testing.T) {
	agg := newTestAggregator(nil, nil)
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		agg.apply(outcomeAt(base, "caller", "/api/data", true))
	}
	agg.apply(outcomeAt(base.Add(time.Minute), "caller", "/api/data", true))

	m := agg.Metrics(TimeRange{From: base.Add(-time.Minute), To: base.Add(5 * time.Minute)})
	assert.Equal(t, int64(6), m.TotalRequests)
	assert.Equal(t, int64(5), m.PeakMinuteRequests)
}

func TestCallerReportNilWithoutActivity(t *testing.T) {
	agg := newTestAggregator(nil, nil)
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	agg.apply(outcomeAt(now, "someone-else", "/api/data", true))

	report := agg.CallerReport("ghost", TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)})
	assert.Nil(t, report)
}

func TestCallerReportAggregates(t *testing.T) {
	agg := newTestAggregator(nil, nil)
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 8; i++ {
		agg.apply(outcomeAt(now, "caller", "/api/data", true))
	}
	for i := 0; i < 2; i++ {
		agg.apply(outcomeAt(now, "caller", "/api/reports", false))
	}

	report := agg.CallerReport("caller", TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)})
	require.NotNil(t, report)
	assert.Equal(t, int64(10), report.Requests)
	assert.Equal(t, int64(8), report.Allowed)
	assert.Equal(t, int64(2), report.Denied)
	assert.InDelta(t, 0.2, report.ErrorRate, 1e-9)
	assert.InDelta(t, 10.0, report.AvgResponseTimeMs, 1e-9)

	require.Len(t, report.TopEndpoints, 2)
	assert.Equal(t, "GET:/api/data", report.TopEndpoints[0].Endpoint)
	assert.Equal(t, int64(8), report.TopEndpoints[0].Count)
}

func TestEndpointReportPercentile(t *testing.T) {
	agg := newTestAggregator(nil, nil)
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 100; i++ {
		out := outcomeAt(now, "caller", "/api/data", true)
		out.ResponseTimeMs = i
		agg.apply(out)
	}
	slow := outcomeAt(now, "other", "/api/data", false)
	slow.ResponseTimeMs = 500
	agg.apply(slow)

	report := agg.EndpointReport("/api/data", "GET", TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)})
	assert.Equal(t, int64(101), report.Requests)
	assert.Equal(t, 2, report.UniqueCallers)
	assert.GreaterOrEqual(t, report.P95ResponseTimeMs, 95)
}

func TestReportRecommendations(t *testing.T) {
	recorder := anomaly.NewRecorder(7*24*time.Hour, nil, nil)
	agg := newTestAggregator(recorder, nil)
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		agg.apply(outcomeAt(now, "caller", "/api/flaky", true))
	}
	for i := 0; i < 4; i++ {
		agg.apply(outcomeAt(now, "caller", "/api/flaky", false))
	}

	recorder.Record(context.Background(), &models.AnomalyRecord{
		Timestamp: now,
		CallerID:  "caller",
		Kind:      models.AnomalyAbuseAttempt,
		Severity:  models.SeverityCritical,
	})

	report := agg.Report(context.Background(), TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)})

	assert.InDelta(t, 0.4, report.Summary.ErrorRate, 1e-9)
	require.Len(t, report.Anomalies, 1)
	assert.Contains(t, report.Recommendations, "High denial rate detected: review rate limit configuration")
	assert.Contains(t, report.Recommendations, "Critical anomalies present: review security policy")
	assert.Contains(t, report.Recommendations, "Endpoint GET:/api/flaky has an elevated denial rate: review endpoint-specific limits")
	assert.IsIncreasing(t, report.Recommendations)
}

func TestReportCleanTrafficHasNoRecommendations(t *testing.T) {
	agg := newTestAggregator(nil, nil)
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 20; i++ {
		agg.apply(outcomeAt(now, "caller", "/api/data", true))
	}

	report := agg.Report(context.Background(), TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)})
	assert.Empty(t, report.Recommendations)
	require.Len(t, report.TimeSeries, 1)
	assert.Equal(t, int64(20), report.TimeSeries[0].Total)
}

func TestReportFallsBackToDurableAnomalies(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	sink := &memoryAnomalySink{records: []models.AnomalyRecord{{
		Timestamp: now,
		CallerID:  "caller",
		Kind:      models.AnomalyAbuseAttempt,
		Severity:  models.SeverityCritical,
	}}}

	// A restarted instance has an empty in-process recorder; the report
	// must still surface anomalies from the durable store.
	agg := NewAggregator(testAnalyticsConfig(), anomaly.NewRecorder(7*24*time.Hour, nil, nil), nil, sink, nil, nil)

	report := agg.Report(context.Background(), TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)})
	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, models.AnomalyAbuseAttempt, report.Anomalies[0].Kind)
	assert.Contains(t, report.Recommendations, "Critical anomalies present: review security policy")
}

func TestSweepRespectsRetention(t *testing.T) {
	recorder := anomaly.NewRecorder(7*24*time.Hour, nil, nil)
	logs := &memoryLogSink{}
	overrides := &memoryOverrideSink{}
	agg := NewAggregator(testAnalyticsConfig(), recorder, logs, nil, overrides, nil)

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	agg.now = func() time.Time { return now }

	agg.apply(outcomeAt(now.Add(-time.Hour), "caller", "/api/data", true))
	agg.apply(outcomeAt(now, "caller", "/api/data", true))
	agg.apply(outcomeAt(now.AddDate(0, 0, -40), "ancient", "/api/data", true))

	agg.Sweep(context.Background())

	var minutes, hours, days int
	for _, bucket := range agg.buckets {
		switch bucket.Granularity {
		case models.GranularityMinute:
			minutes++
		case models.GranularityHour:
			hours++
		default:
			days++
		}
	}

	assert.Equal(t, 1, minutes, "minute buckets past 30 minutes are purged")
	assert.Equal(t, 2, hours, "hour buckets inside 7 days survive")
	assert.Equal(t, 1, days, "day buckets past 30 days are purged")

	assert.NotContains(t, agg.callers, now.AddDate(0, 0, -40).Format("2006-01-02"))
	assert.Contains(t, agg.callers, now.Format("2006-01-02"))

	assert.Equal(t, now.AddDate(0, 0, -30), logs.deleted)
	assert.Equal(t, now, overrides.cleared)
}

func TestDrainPersistsOutcomes(t *testing.T) {
	logs := &memoryLogSink{}
	agg := newTestAggregator(nil, logs)

	agg.Start()
	for i := 0; i < 25; i++ {
		agg.RecordOutcome("caller", "/api/data", "GET", "free", i%5 != 0, false, 12)
	}
	agg.RecordOutcome("abuser", "/api/data", "GET", "free", false, true, 12)
	agg.Stop()

	require.Equal(t, 26, logs.count())

	var blocked int
	for _, entry := range logs.logs {
		assert.Equal(t, "free", entry.Tier)
		if entry.Blocked {
			assert.False(t, entry.Allowed)
			assert.Equal(t, "abuser", entry.CallerID)
			blocked++
		}
	}
	assert.Equal(t, 1, blocked)

	now := time.Now()
	m := agg.Metrics(TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)})
	assert.Equal(t, int64(26), m.TotalRequests)
	assert.Equal(t, int64(20), m.AllowedRequests)
	assert.Equal(t, int64(6), m.DeniedRequests)
}
