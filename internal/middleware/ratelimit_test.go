package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ratewarden/ratewarden/internal/admission"
	"github.com/ratewarden/ratewarden/internal/analytics"
	"github.com/ratewarden/ratewarden/internal/anomaly"
	"github.com/ratewarden/ratewarden/internal/behavior"
	"github.com/ratewarden/ratewarden/internal/config"
	"github.com/ratewarden/ratewarden/internal/models"
	"github.com/ratewarden/ratewarden/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, quota models.Quota) (*gin.Engine, *behavior.Tracker, *analytics.Aggregator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	limiterCfg := config.LimiterConfig{
		DefaultRequests:   quota.Requests,
		DefaultWindowSecs: int(quota.Window.Seconds()),
		StoreTimeoutMs:    100,
		TierCacheTTLSecs:  300,
		AnomalyDetection:  true,
	}
	anomalyCfg := config.AnomalyConfig{
		RateSpikeRatio:    3.0,
		ErrorSpikeRate:    0.5,
		AbuseRequestFloor: 1000,
		AbuseEndpointCeil: 3,
		MinuteRequestCap:  100,
		MinuteDenialCap:   10,
		AutoBlockTTLSecs:  300,
		RetentionDays:     7,
	}
	behaviorCfg := config.BehaviorConfig{
		AvgSmoothing:     0.9,
		ErrorUpSmoothing: 0.95,
		ErrorDecay:       0.98,
		SummaryTTLHours:  24,
		QueueSize:        256,
	}
	analyticsCfg := config.AnalyticsConfig{
		QueueSize:        256,
		SweepIntervalSec: 3600,
		MinuteRetention:  30,
		HourRetentionDay: 7,
		DayRetentionDay:  30,
		SampleCap:        1000,
		LogRetentionDays: 30,
	}

	recorder := anomaly.NewRecorder(7*24*time.Hour, nil, nil)
	detector := anomaly.NewDetector(anomalyCfg, nil, recorder)
	store := behavior.NewMemorySummaryStore()

	tiers := []models.CallerTier{
		{Name: "free", RequestsPerMinute: 60, BurstMultiplier: 1.0, PriorityWeight: 1.0},
	}
	catalog := policy.NewCatalog(tiers, nil, nil, nil, nil, limiterCfg.TierCacheTTL())

	tracker := behavior.NewTracker(behaviorCfg, store, detector, nil)
	tracker.Start()
	t.Cleanup(tracker.Stop)

	aggregator := analytics.NewAggregator(analyticsCfg, recorder, nil, nil, nil, nil)
	aggregator.Start()
	t.Cleanup(aggregator.Stop)

	engine := admission.NewEngine(
		limiterCfg, anomalyCfg, catalog, tracker,
		admission.NewMemoryWindowStore(), nil,
		anomaly.NewMemoryBlockList(), detector, nil,
	)

	router := gin.New()
	router.Use(RateLimit(engine, tracker, aggregator, quota))
	router.GET("/api/data", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	return router, tracker, aggregator
}

func doRequest(router *gin.Engine, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.Header.Set("X-API-Key", apiKey)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimitHeadersOnAllowed(t *testing.T) {
	router, _, _ := newTestRouter(t, models.Quota{Requests: 5, Window: time.Minute})

	w := doRequest(router, "caller-1")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "free", w.Header().Get("X-RateLimit-Tier"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimitFreshCallerBurstStaysAdmitted(t *testing.T) {
	router, tracker, _ := newTestRouter(t, models.Quota{Requests: 60, Window: time.Minute})

	for i := 1; i <= 30; i++ {
		w := doRequest(router, "fresh-caller")
		require.Equal(t, http.StatusOK, w.Code, "request %d must be admitted", i)

		// Wait for the async worker so the next admission sees the
		// updated summary instead of racing past it.
		n := int64(i)
		require.Eventually(t, func() bool {
			s, err := tracker.Summary(context.Background(), "fresh-caller")
			return err == nil && s != nil && s.TotalRequests >= n
		}, time.Second, time.Millisecond)
	}
}

func TestRateLimitDeniesOverQuota(t *testing.T) {
	router, _, _ := newTestRouter(t, models.Quota{Requests: 2, Window: time.Minute})

	for i := 0; i < 2; i++ {
		w := doRequest(router, "caller-1")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doRequest(router, "caller-1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "Rate limit exceeded")
}

func TestRateLimitIsolatesCallers(t *testing.T) {
	router, _, _ := newTestRouter(t, models.Quota{Requests: 1, Window: time.Minute})

	w := doRequest(router, "caller-1")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, "caller-1")
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	w = doRequest(router, "caller-2")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitFeedsAnalytics(t *testing.T) {
	router, _, aggregator := newTestRouter(t, models.Quota{Requests: 1, Window: time.Minute})

	doRequest(router, "caller-1")
	doRequest(router, "caller-1")

	assert.Eventually(t, func() bool {
		now := time.Now()
		m := aggregator.Metrics(analytics.TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)})
		return m.TotalRequests == 2 && m.AllowedRequests == 1 && m.DeniedRequests == 1
	}, time.Second, 10*time.Millisecond)
}
