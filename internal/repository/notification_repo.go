package repository

import (
	"context"
	"time"

	"paybridge/internal/models"

	"gorm.io/gorm"
)

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *NotificationRepository) ListByBooking(ctx context.Context, bookingRef string) ([]models.Notification, error) {
	var list []models.Notification
	err := r.db.WithContext(ctx).Where("booking_reference = ?", bookingRef).Order("created_at DESC").Find(&list).Error
	return list, err
}

// MarkPushed records the outcome of the push attempt for a stored notification.
func (r *NotificationRepository) MarkPushed(ctx context.Context, id uint, pushErr error) error {
	updates := map[string]interface{}{}
	if pushErr != nil {
		updates["push_error"] = truncateErr(pushErr.Error(), 512)
	} else {
		updates["pushed_at"] = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", id).Updates(updates).Error
}

func truncateErr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
