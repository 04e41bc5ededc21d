package repository

import (
	"context"
	"time"

	"github.com/ossettyres/tyre-api/internal/models"
	"github.com/ossettyres/tyre-api/internal/storage"
)

type AuditLogRepository struct {
	db *storage.Postgres
}

func NewAuditLogRepository(db *storage.Postgres) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// Inserts multiple audit logs in one statement
func (r *AuditLogRepository) CreateBatch(ctx context.Context, logs []*models.AuditLog) error {
	if len(logs) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&logs).Error
}

// Counts logs of one kind in a time range
func (r *AuditLogRepository) CountByKind(ctx context.Context, kind string, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.AuditLog{}).
		Where("kind = ? AND timestamp BETWEEN ? AND ?", kind, from, to).
		Count(&count).Error

	return count, err
}

// Deletes logs older than the specified time
func (r *AuditLogRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.AuditLog{})

	return result.RowsAffected, result.Error
}
