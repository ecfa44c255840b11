package repository

import (
	"context"
	"time"

	"github.com/ratewarden/ratewarden/internal/models"
	"github.com/ratewarden/ratewarden/internal/storage"
)

type AnomalyRepository struct {
	db *storage.Postgres
}

func NewAnomalyRepository(db *storage.Postgres) *AnomalyRepository {
	return &AnomalyRepository{db: db}
}

func (r *AnomalyRepository) Create(ctx context.Context, record *models.AnomalyRecord) error {
	return r.db.DB.WithContext(ctx).Create(record).Error
}

func (r *AnomalyRepository) FindByTimeRange(ctx context.Context, from, to time.Time, limit int) ([]models.AnomalyRecord, error) {
	var records []models.AnomalyRecord

	err := r.db.DB.WithContext(ctx).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Order("timestamp DESC").
		Limit(limit).
		Find(&records).Error

	return records, err
}

func (r *AnomalyRepository) FindByCaller(ctx context.Context, callerID string, from, to time.Time) ([]models.AnomalyRecord, error) {
	var records []models.AnomalyRecord

	err := r.db.DB.WithContext(ctx).
		Where("caller_id = ? AND timestamp BETWEEN ? AND ?", callerID, from, to).
		Order("timestamp DESC").
		Find(&records).Error

	return records, err
}

// Removes records past the retention cutoff.
func (r *AnomalyRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&models.AnomalyRecord{})
	return res.RowsAffected, res.Error
}
