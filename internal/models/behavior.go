package models

import "time"

// Rolling per-caller behavior summary. Stored as JSON in Redis with a 24h
// rolling expiry; refreshed on every observed request.
type BehaviorSummary struct {
	CallerID         string           `json:"caller_id"`
	AvgRatePerMin    float64          `json:"avg_rate_per_min"`
	PeakRatePerMin   float64          `json:"peak_rate_per_min"`
	EndpointCounts   map[string]int64 `json:"endpoint_counts"`
	TotalRequests    int64            `json:"total_requests"`
	ErrorRate        float64          `json:"error_rate"`
	AdaptationFactor float64          `json:"adaptation_factor"`
	Suspicious       bool             `json:"suspicious"`
	LastActive       time.Time        `json:"last_active"`
}

// Summary assumed for a caller that has never been observed.
func NewBehaviorSummary(callerID string, now time.Time) *BehaviorSummary {
	return &BehaviorSummary{
		CallerID:         callerID,
		EndpointCounts:   make(map[string]int64),
		AdaptationFactor: 1.0,
		LastActive:       now,
	}
}

func (b *BehaviorSummary) UniqueEndpoints() int {
	return len(b.EndpointCounts)
}
