package repository

import (
	"context"

	"paybridge/internal/models"

	"gorm.io/gorm"
)

// AuditLogRepository appends to transaction_logs. There is no update or delete.
type AuditLogRepository struct {
	db *gorm.DB
}

func NewAuditLogRepository(db *gorm.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

func (r *AuditLogRepository) Create(ctx context.Context, entry *models.TransactionLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *AuditLogRepository) ListByCorrelationID(ctx context.Context, correlationID string) ([]models.TransactionLog, error) {
	var list []models.TransactionLog
	err := r.db.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		Order("id ASC").
		Find(&list).Error
	return list, err
}

// ListFlagged returns entries awaiting operator review, newest first.
func (r *AuditLogRepository) ListFlagged(ctx context.Context, limit, offset int) ([]models.TransactionLog, error) {
	var list []models.TransactionLog
	err := r.db.WithContext(ctx).
		Where("flagged = ?", true).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&list).Error
	return list, err
}
