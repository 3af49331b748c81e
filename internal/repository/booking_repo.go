package repository

import (
	"context"
	"errors"
	"time"

	"paybridge/internal/domain"
	"paybridge/internal/models"

	"gorm.io/gorm"
)

// BookingRepository reads bookings written by the booking application. The only
// write it performs is the confirmation after a successful payment.
type BookingRepository struct {
	db *gorm.DB
}

func NewBookingRepository(db *gorm.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) Create(ctx context.Context, b *models.Booking) error {
	if b.Status == "" {
		b.Status = domain.BookingStatusPending
	}
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *BookingRepository) GetByReference(ctx context.Context, ref string) (*models.Booking, error) {
	var b models.Booking
	err := r.db.WithContext(ctx).Preload("Items").Where("reference = ?", ref).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// MarkConfirmed flips the booking to CONFIRMED and links the settling payment.
func (r *BookingRepository) MarkConfirmed(ctx context.Context, ref, paymentID string) error {
	res := r.db.WithContext(ctx).Model(&models.Booking{}).
		Where("reference = ?", ref).
		Updates(map[string]interface{}{
			"status":       domain.BookingStatusConfirmed,
			"payment_id":   paymentID,
			"confirmed_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}
