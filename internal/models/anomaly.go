package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AnomalyKind string

const (
	AnomalyRateSpike     AnomalyKind = "rate_spike"
	AnomalyErrorSpike    AnomalyKind = "error_spike"
	AnomalyPatternChange AnomalyKind = "pattern_change"
	AnomalyAbuseAttempt  AnomalyKind = "abuse_attempt"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// A logged detection of abnormal request behavior. Append-only; purged after
// 7 days of retention.
type AnomalyRecord struct {
	ID          uuid.UUID          `gorm:"type:uuid;primary_key" json:"id"`
	Timestamp   time.Time          `gorm:"index" json:"timestamp"`
	CallerID    string             `gorm:"index" json:"caller_id"`
	Kind        AnomalyKind        `gorm:"not null" json:"kind"`
	Severity    Severity           `gorm:"not null" json:"severity"`
	Description string             `json:"description"`
	Metrics     map[string]float64 `gorm:"serializer:json" json:"metrics"`
	AutoBlocked bool               `json:"auto_blocked"`
}

func (a *AnomalyRecord) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (AnomalyRecord) TableName() string {
	return "anomaly_records"
}
