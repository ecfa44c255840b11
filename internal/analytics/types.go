package analytics

import (
	"time"

	"github.com/ratewarden/ratewarden/internal/models"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

// Aggregate admission metrics for a time range.
type RateLimitMetrics struct {
	TotalRequests      int64   `json:"total_requests"`
	AllowedRequests    int64   `json:"allowed_requests"`
	DeniedRequests     int64   `json:"denied_requests"`
	UniqueCallers      int     `json:"unique_callers"`
	PeakMinuteRequests int64   `json:"peak_minute_requests"`
	ErrorRate          float64 `json:"error_rate"`
}

type CallerAnalytics struct {
	CallerID          string          `json:"caller_id"`
	Requests          int64           `json:"requests"`
	Allowed           int64           `json:"allowed"`
	Denied            int64           `json:"denied"`
	ErrorRate         float64         `json:"error_rate"`
	AvgResponseTimeMs float64         `json:"avg_response_time_ms"`
	TopEndpoints      []EndpointCount `json:"top_endpoints"`
}

type EndpointAnalytics struct {
	Path              string  `json:"path"`
	Method            string  `json:"method"`
	Requests          int64   `json:"requests"`
	Allowed           int64   `json:"allowed"`
	Denied            int64   `json:"denied"`
	ErrorRate         float64 `json:"error_rate"`
	UniqueCallers     int     `json:"unique_callers"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	P95ResponseTimeMs int     `json:"p95_response_time_ms"`
}

type CallerCount struct {
	CallerID string `json:"caller_id"`
	Count    int64  `json:"count"`
}

type EndpointCount struct {
	Endpoint string `json:"endpoint"`
	Count    int64  `json:"count"`
}

type Report struct {
	Range           TimeRange              `json:"range"`
	Summary         RateLimitMetrics       `json:"summary"`
	TimeSeries      []models.TimeBucket    `json:"time_series"`
	TopCallers      []CallerCount          `json:"top_callers"`
	TopEndpoints    []EndpointCount        `json:"top_endpoints"`
	Anomalies       []models.AnomalyRecord `json:"anomalies"`
	Recommendations []string               `json:"recommendations"`
}
