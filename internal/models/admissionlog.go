package models

import "time"

// Represents one admission outcome persisted for offline analysis.
// Written in batches by the analytics aggregator.
type AdmissionLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Timestamp      time.Time `gorm:"index" json:"timestamp"`
	CallerID       string    `gorm:"index" json:"caller_id"`
	Method         string    `json:"method"`
	Path           string    `gorm:"index" json:"path"`
	Allowed        bool      `gorm:"index" json:"allowed"`
	Blocked        bool      `json:"blocked"`
	Tier           string    `json:"tier"`
	ResponseTimeMs int       `json:"response_time_ms"`
}

func (AdmissionLog) TableName() string {
	return "admission_logs"
}
