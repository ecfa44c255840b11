package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ratewarden/ratewarden/internal/models"
	"github.com/ratewarden/ratewarden/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TierRepository struct {
	db *storage.Postgres
}

func NewTierRepository(db *storage.Postgres) *TierRepository {
	return &TierRepository{db: db}
}

// Upserts the configured tier catalog at startup.
func (r *TierRepository) Seed(ctx context.Context, tiers []models.CallerTier) error {
	if len(tiers) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&tiers).Error
}

func (r *TierRepository) FindByName(ctx context.Context, name string) (*models.CallerTier, error) {
	var tier models.CallerTier

	err := r.db.DB.WithContext(ctx).Where("name = ?", name).First(&tier).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &tier, nil
}

func (r *TierRepository) List(ctx context.Context) ([]models.CallerTier, error) {
	var tiers []models.CallerTier
	err := r.db.DB.WithContext(ctx).Order("priority_weight ASC").Find(&tiers).Error
	return tiers, err
}

type OverrideRepository struct {
	db *storage.Postgres
}

func NewOverrideRepository(db *storage.Postgres) *OverrideRepository {
	return &OverrideRepository{db: db}
}

func (r *OverrideRepository) Upsert(ctx context.Context, override *models.TierOverride) error {
	return r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(override).Error
}

// Returns the unexpired override for a caller, nil when absent.
func (r *OverrideRepository) FindActive(ctx context.Context, callerID string, now time.Time) (*models.TierOverride, error) {
	var override models.TierOverride

	err := r.db.DB.WithContext(ctx).
		Where("caller_id = ? AND expires_at > ?", callerID, now).
		First(&override).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &override, nil
}

func (r *OverrideRepository) Delete(ctx context.Context, callerID string) error {
	return r.db.DB.WithContext(ctx).
		Where("caller_id = ?", callerID).
		Delete(&models.TierOverride{}).Error
}

func (r *OverrideRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.DB.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&models.TierOverride{})
	return res.RowsAffected, res.Error
}
