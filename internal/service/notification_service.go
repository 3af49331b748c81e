package service

import (
	"context"
	"fmt"

	"paybridge/internal/domain"
	"paybridge/internal/models"
	"paybridge/internal/repository"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Pusher delivers a notification to a device. *FCMService implements it.
type Pusher interface {
	SendToDevice(ctx context.Context, token, notifType, title, body string, data map[string]interface{}) error
}

type NotificationService struct {
	repo   *repository.NotificationRepository
	pusher Pusher
	log    *zap.Logger
}

// NewNotificationService stores notifications and pushes them when pusher is non-nil.
func NewNotificationService(repo *repository.NotificationRepository, pusher Pusher, log *zap.Logger) *NotificationService {
	return &NotificationService{repo: repo, pusher: pusher, log: log.Named("notify")}
}

// Notify persists the notification, then pushes it to deviceToken if there is one.
// The returned error is the push failure, if any; the stored row records it too.
func (s *NotificationService) Notify(ctx context.Context, n *models.Notification, deviceToken string) error {
	if err := s.repo.Create(ctx, n); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	if s.pusher == nil || deviceToken == "" {
		return nil
	}
	pushErr := s.pusher.SendToDevice(ctx, deviceToken, n.Type, n.Title, n.Body, n.Data)
	if err := s.repo.MarkPushed(ctx, n.ID, pushErr); err != nil {
		s.log.Warn("record push result", zap.Uint("notification_id", n.ID), zap.Error(err))
	}
	return pushErr
}

// NotifyPaymentReceipt tells the payer their booking is paid and where the receipt is.
func (s *NotificationService) NotifyPaymentReceipt(ctx context.Context, b *models.Booking, p *models.PaymentAttempt, receiptURL string) error {
	amount := p.Amount
	if p.PaidAmount.Valid {
		amount = p.PaidAmount.Decimal
	}
	body := fmt.Sprintf("Payment of %s %s received for booking %s.",
		p.Currency, amount.StringFixed(2), p.BookingReference)
	if p.ProviderReceiptNumber != "" {
		body += " M-Pesa receipt " + p.ProviderReceiptNumber + "."
	}
	recipient := b.CustomerPhone
	if recipient == "" {
		recipient = p.PayerContact
	}
	data := datatypes.JSONMap{
		"payment_id":        p.ID,
		"booking_reference": p.BookingReference,
		"receipt_number":    p.ProviderReceiptNumber,
	}
	if receiptURL != "" {
		data["receipt_url"] = receiptURL
	}
	return s.Notify(ctx, &models.Notification{
		BookingReference: p.BookingReference,
		PaymentID:        p.ID,
		Type:             domain.NotificationTypePaymentReceipt,
		Recipient:        recipient,
		Title:            "Payment received",
		Body:             body,
		Data:             data,
	}, b.DeviceToken)
}
