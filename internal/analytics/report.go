package analytics

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/ratewarden/ratewarden/internal/models"
)

// Picks the finest granularity whose retention covers the whole range.
func granularityFor(r TimeRange) models.Granularity {
	span := r.To.Sub(r.From)
	switch {
	case span <= 30*time.Minute:
		return models.GranularityMinute
	case span <= 7*24*time.Hour:
		return models.GranularityHour
	default:
		return models.GranularityDay
	}
}

// Metrics reports aggregate admission totals for a time range. Pure read:
// two calls with no intervening activity return identical results.
func (a *Aggregator) Metrics(r TimeRange) RateLimitMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.metricsLocked(r)
}

func (a *Aggregator) metricsLocked(r TimeRange) RateLimitMetrics {
	g := granularityFor(r)
	var m RateLimitMetrics

	for _, bucket := range a.buckets {
		if !r.Contains(bucket.Start) {
			continue
		}
		if bucket.Granularity == g {
			m.TotalRequests += bucket.Total
			m.AllowedRequests += bucket.Allowed
			m.DeniedRequests += bucket.Blocked
		}
		if bucket.Granularity == models.GranularityMinute && bucket.Total > m.PeakMinuteRequests {
			m.PeakMinuteRequests = bucket.Total
		}
	}

	unique := make(map[string]struct{})
	for day, callers := range a.callers {
		if !dayIntersects(day, r) {
			continue
		}
		for id := range callers {
			unique[id] = struct{}{}
		}
	}
	m.UniqueCallers = len(unique)

	if m.TotalRequests > 0 {
		m.ErrorRate = float64(m.DeniedRequests) / float64(m.TotalRequests)
	}

	return m
}

// CallerReport returns nil when the caller had no activity in the range.
func (a *Aggregator) CallerReport(callerID string, r TimeRange) *CallerAnalytics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	report := &CallerAnalytics{CallerID: callerID}
	endpointTotals := make(map[string]int64)
	var totalMs int64

	for day, callers := range a.callers {
		if !dayIntersects(day, r) {
			continue
		}
		cs, ok := callers[callerID]
		if !ok {
			continue
		}
		report.Requests += cs.requests
		report.Allowed += cs.allowed
		report.Denied += cs.denied
		totalMs += cs.totalMs
		for ep, n := range cs.endpoints {
			endpointTotals[ep] += n
		}
	}

	if report.Requests == 0 {
		return nil
	}

	report.ErrorRate = float64(report.Denied) / float64(report.Requests)
	report.AvgResponseTimeMs = float64(totalMs) / float64(report.Requests)
	report.TopEndpoints = topEndpoints(endpointTotals, 10)
	return report
}

func (a *Aggregator) EndpointReport(path, method string, r TimeRange) EndpointAnalytics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	report := EndpointAnalytics{Path: path, Method: method}
	key := method + ":" + path
	unique := make(map[string]struct{})
	var totalMs int64
	var samples []int

	for day, endpoints := range a.endpoints {
		if !dayIntersects(day, r) {
			continue
		}
		es, ok := endpoints[key]
		if !ok {
			continue
		}
		report.Requests += es.requests
		report.Allowed += es.allowed
		report.Denied += es.denied
		totalMs += es.totalMs
		for id := range es.callers {
			unique[id] = struct{}{}
		}
		samples = append(samples, es.samples...)
	}

	report.UniqueCallers = len(unique)
	if report.Requests > 0 {
		report.ErrorRate = float64(report.Denied) / float64(report.Requests)
		report.AvgResponseTimeMs = float64(totalMs) / float64(report.Requests)
	}
	if len(samples) > 0 {
		sort.Ints(samples)
		report.P95ResponseTimeMs = samples[(len(samples)*95)/100]
	}

	return report
}

// Report assembles the full on-demand view: summary, time series, top
// callers/endpoints, anomalies in range, and deterministic recommendations.
func (a *Aggregator) Report(ctx context.Context, r TimeRange) Report {
	a.mu.RLock()

	summary := a.metricsLocked(r)
	g := granularityFor(r)

	var series []models.TimeBucket
	for _, bucket := range a.buckets {
		if bucket.Granularity == g && r.Contains(bucket.Start) {
			series = append(series, *bucket)
		}
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Start.Before(series[j].Start) })

	callerTotals := make(map[string]int64)
	endpointTotals := make(map[string]int64)
	endpointDenied := make(map[string]int64)
	for day, callers := range a.callers {
		if !dayIntersects(day, r) {
			continue
		}
		for id, cs := range callers {
			callerTotals[id] += cs.requests
		}
	}
	for day, endpoints := range a.endpoints {
		if !dayIntersects(day, r) {
			continue
		}
		for key, es := range endpoints {
			endpointTotals[key] += es.requests
			endpointDenied[key] += es.denied
		}
	}

	a.mu.RUnlock()

	var anomalies []models.AnomalyRecord
	if a.recorder != nil {
		anomalies = a.recorder.InRange(r.From, r.To)
	}
	// The in-process recorder is empty after a restart; the durable store
	// still holds the retention window.
	if len(anomalies) == 0 && a.anomalies != nil {
		stored, err := a.anomalies.FindByTimeRange(ctx, r.From, r.To, 1000)
		if err != nil {
			log.Printf("durable anomaly lookup failed: %v", err)
		} else {
			anomalies = stored
		}
	}

	return Report{
		Range:           r,
		Summary:         summary,
		TimeSeries:      series,
		TopCallers:      topCallers(callerTotals, 10),
		TopEndpoints:    topEndpoints(endpointTotals, 10),
		Anomalies:       anomalies,
		Recommendations: recommendations(summary, callerTotals, endpointTotals, endpointDenied, anomalies),
	}
}

// Deterministic recommendation rules evaluated over the summary.
func recommendations(summary RateLimitMetrics, callerTotals, endpointTotals, endpointDenied map[string]int64, anomalies []models.AnomalyRecord) []string {
	var recs []string

	if summary.ErrorRate > 0.10 {
		recs = append(recs, "High denial rate detected: review rate limit configuration")
	}

	for _, rec := range anomalies {
		if rec.Severity == models.SeverityCritical {
			recs = append(recs, "Critical anomalies present: review security policy")
			break
		}
	}

	if len(callerTotals) > 0 && summary.TotalRequests/int64(len(callerTotals)) > 1000 {
		recs = append(recs, "High average request volume per caller: consider stricter tiering")
	}

	for key, total := range endpointTotals {
		if total == 0 {
			continue
		}
		if float64(endpointDenied[key])/float64(total) > 0.20 {
			recs = append(recs, "Endpoint "+key+" has an elevated denial rate: review endpoint-specific limits")
		}
	}
	sort.Strings(recs)

	return recs
}

func topCallers(totals map[string]int64, n int) []CallerCount {
	out := make([]CallerCount, 0, len(totals))
	for id, count := range totals {
		out = append(out, CallerCount{CallerID: id, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].CallerID < out[j].CallerID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func topEndpoints(totals map[string]int64, n int) []EndpointCount {
	out := make([]EndpointCount, 0, len(totals))
	for key, count := range totals {
		out = append(out, EndpointCount{Endpoint: key, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Endpoint < out[j].Endpoint
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func dayIntersects(day string, r TimeRange) bool {
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		return false
	}
	dayEnd := t.Add(24 * time.Hour)
	return t.Before(r.To) && dayEnd.After(r.From)
}
