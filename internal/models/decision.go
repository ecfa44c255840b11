package models

import "time"

// Base quota for a route class as supplied by policy configuration.
type Quota struct {
	Requests int           `json:"requests"`
	Window   time.Duration `json:"window"`
	Burst    int           `json:"burst"`
}

// Outcome of a single admission check.
type AdmissionDecision struct {
	Allowed    bool      `json:"allowed"`
	Remaining  int       `json:"remaining"`
	ResetTime  time.Time `json:"reset_time"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only when denied
	Blocked    bool      `json:"blocked"`               // true only for anomaly auto-block
	Tier       string    `json:"tier,omitempty"`
	Limit      int       `json:"limit,omitempty"` // effective quota the check ran against
}
