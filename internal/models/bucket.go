package models

import "time"

type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
)

// Truncates t to the start of the bucket period for g.
func (g Granularity) PeriodStart(t time.Time) time.Time {
	switch g {
	case GranularityMinute:
		return t.Truncate(time.Minute)
	case GranularityHour:
		return t.Truncate(time.Hour)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
}

// Admission counters for one (granularity, period) bucket.
// Invariant: Allowed + Blocked == Total.
type TimeBucket struct {
	Granularity Granularity `json:"granularity"`
	Start       time.Time   `json:"start"`
	Total       int64       `json:"total"`
	Allowed     int64       `json:"allowed"`
	Blocked     int64       `json:"blocked"`
}
