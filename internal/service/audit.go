package service

import (
	"context"

	"paybridge/internal/models"
	"paybridge/internal/repository"

	"go.uber.org/zap"
)

// AuditTrail writes transaction log entries. A failed write is logged and
// never fails the operation being audited.
type AuditTrail struct {
	repo *repository.AuditLogRepository
	log  *zap.Logger
}

func NewAuditTrail(repo *repository.AuditLogRepository, log *zap.Logger) *AuditTrail {
	return &AuditTrail{repo: repo, log: log.Named("audit")}
}

func (a *AuditTrail) Record(ctx context.Context, entry *models.TransactionLog) {
	if a == nil {
		return
	}
	if err := a.repo.Create(context.WithoutCancel(ctx), entry); err != nil {
		a.log.Error("audit write failed",
			zap.String("event", entry.Event),
			zap.String("correlation_id", entry.CorrelationID),
			zap.Error(err))
	}
}
