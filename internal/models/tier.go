package models

import "time"

// Quota class assigned to a caller. Catalog entry, never mutated per-request.
type CallerTier struct {
	Name              string  `gorm:"primaryKey" json:"name"`
	RequestsPerMinute int     `gorm:"not null" json:"requests_per_minute"`
	RequestsPerHour   int     `gorm:"not null" json:"requests_per_hour"`
	RequestsPerDay    int     `gorm:"not null" json:"requests_per_day"`
	BurstMultiplier   float64 `gorm:"not null;default:1" json:"burst_multiplier"`
	PriorityWeight    float64 `gorm:"not null;default:1" json:"priority_weight"`
}

func (CallerTier) TableName() string {
	return "caller_tiers"
}

// Time-bounded manual tier assignment for a single caller. While unexpired it
// beats whatever the identity collaborator resolves.
type TierOverride struct {
	CallerID  string    `gorm:"primaryKey" json:"caller_id"`
	Tier      string    `gorm:"not null" json:"tier"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}

func (TierOverride) TableName() string {
	return "tier_overrides"
}

func (o *TierOverride) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}
