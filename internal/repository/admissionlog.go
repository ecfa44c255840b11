package repository

import (
	"context"
	"time"

	"github.com/ratewarden/ratewarden/internal/models"
	"github.com/ratewarden/ratewarden/internal/storage"
)

type AdmissionLogRepository struct {
	db *storage.Postgres
}

func NewAdmissionLogRepository(db *storage.Postgres) *AdmissionLogRepository {
	return &AdmissionLogRepository{db: db}
}

// Inserts multiple admission logs (for batch insertion)
func (r *AdmissionLogRepository) CreateBatch(ctx context.Context, logs []models.AdmissionLog) error {
	if len(logs) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&logs).Error
}

func (r *AdmissionLogRepository) FindByTimeRange(ctx context.Context, from, to time.Time, limit, offset int) ([]models.AdmissionLog, error) {
	var logs []models.AdmissionLog

	err := r.db.DB.WithContext(ctx).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error

	return logs, err
}

func (r *AdmissionLogRepository) CountDeniedByCaller(ctx context.Context, callerID string, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.AdmissionLog{}).
		Where("caller_id = ? AND allowed = false AND timestamp BETWEEN ? AND ?", callerID, from, to).
		Count(&count).Error

	return count, err
}

// Deletes logs older than the retention cutoff
func (r *AdmissionLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&models.AdmissionLog{})
	return res.RowsAffected, res.Error
}
