package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"paybridge/internal/domain"
	"paybridge/internal/models"
	"paybridge/internal/repository"
	"paybridge/pkg/receipt"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Bookings is the booking collaborator. *repository.BookingRepository implements it.
type Bookings interface {
	GetByReference(ctx context.Context, ref string) (*models.Booking, error)
	MarkConfirmed(ctx context.Context, ref, paymentID string) error
}

// ReceiptStore keeps rendered receipts. cloudinary.Client implements it.
type ReceiptStore interface {
	UploadDocument(ctx context.Context, file io.Reader, folder, publicID string) (string, error)
}

// ReceiptNotifier delivers the receipt to the payer. *NotificationService implements it.
type ReceiptNotifier interface {
	NotifyPaymentReceipt(ctx context.Context, b *models.Booking, p *models.PaymentAttempt, receiptURL string) error
}

// SettlementService runs the one-time effects of a completed payment: confirm
// the booking, issue the receipt, notify the payer, then mark effects applied.
// Step failures are logged and recorded; they never revert the payment.
type SettlementService struct {
	payments *repository.PaymentRepository
	bookings Bookings
	store    ReceiptStore
	folder   string
	notifier ReceiptNotifier
	audit    *AuditTrail
	render   func(receipt.Data) ([]byte, error)
	log      *zap.Logger
}

func NewSettlementService(
	payments *repository.PaymentRepository,
	bookings Bookings,
	store ReceiptStore,
	folder string,
	notifier ReceiptNotifier,
	audit *AuditTrail,
	log *zap.Logger,
) *SettlementService {
	return &SettlementService{
		payments: payments,
		bookings: bookings,
		store:    store,
		folder:   folder,
		notifier: notifier,
		audit:    audit,
		render:   receipt.Render,
		log:      log.Named("settlement"),
	}
}

// Run applies effects for a completed attempt whose effects have not run yet.
func (s *SettlementService) Run(ctx context.Context, p *models.PaymentAttempt) error {
	if p.State != domain.StateCompleted {
		return domain.ErrNotCompleted
	}
	if p.EffectsApplied {
		s.log.Info("effects already applied, skipping", zap.String("payment_id", p.ID))
		return nil
	}
	return s.run(ctx, p, false)
}

// Rerun repeats every effect for a completed attempt, whatever effects_applied says.
func (s *SettlementService) Rerun(ctx context.Context, p *models.PaymentAttempt) error {
	if p.State != domain.StateCompleted {
		return domain.ErrNotCompleted
	}
	return s.run(ctx, p, true)
}

func (s *SettlementService) run(ctx context.Context, p *models.PaymentAttempt, rerun bool) error {
	log := s.log.With(zap.String("payment_id", p.ID), zap.String("booking", p.BookingReference))
	var failures []string

	if err := s.bookings.MarkConfirmed(ctx, p.BookingReference, p.ID); err != nil {
		log.Error("confirm booking", zap.Error(err))
		failures = append(failures, "confirm booking: "+err.Error())
	}

	booking, err := s.bookings.GetByReference(ctx, p.BookingReference)
	if err != nil {
		log.Error("load booking", zap.Error(err))
		failures = append(failures, "load booking: "+err.Error())
		booking = &models.Booking{Reference: p.BookingReference, CustomerPhone: p.PayerContact}
	}

	url, err := s.issueReceipt(ctx, booking, p)
	if err != nil {
		log.Error("issue receipt", zap.Error(err))
		failures = append(failures, "receipt: "+err.Error())
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyPaymentReceipt(ctx, booking, p, url); err != nil {
			log.Warn("notify payer", zap.Error(err))
			failures = append(failures, "notify: "+err.Error())
		}
	}

	flipped, err := s.payments.MarkEffectsApplied(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("mark effects applied: %w", err)
	}
	meta := datatypes.JSONMap{"rerun": rerun, "receipt_url": url}
	if len(failures) > 0 {
		meta["failures"] = failures
	}
	s.audit.Record(ctx, &models.TransactionLog{
		CorrelationID: p.ProviderCorrelationID,
		PaymentID:     p.ID,
		Direction:     domain.DirectionInternal,
		Event:         domain.EventEffects,
		Metadata:      meta,
		Flagged:       len(failures) > 0,
	})
	log.Info("effects applied", zap.Bool("rerun", rerun), zap.Bool("flipped", flipped), zap.Int("failures", len(failures)))
	return nil
}

func (s *SettlementService) issueReceipt(ctx context.Context, b *models.Booking, p *models.PaymentAttempt) (string, error) {
	doc, err := s.render(receiptData(b, p))
	if err != nil {
		return "", err
	}
	if s.store == nil {
		return "", nil
	}
	url, err := s.store.UploadDocument(ctx, bytes.NewReader(doc), s.folder, p.BookingReference+"-"+p.ID+".pdf")
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	if err := s.payments.SetReceiptURL(ctx, p.ID, url); err != nil {
		return url, fmt.Errorf("save receipt url: %w", err)
	}
	p.ReceiptURL = url
	return url, nil
}

func receiptData(b *models.Booking, p *models.PaymentAttempt) receipt.Data {
	d := receipt.Data{
		BookingReference: p.BookingReference,
		PaymentID:        p.ID,
		CustomerName:     b.CustomerName,
		Phone:            p.PayerContact,
		ReceiptNumber:    p.ProviderReceiptNumber,
		Currency:         p.Currency,
		Amount:           p.Amount,
	}
	if p.PaidAmount.Valid {
		d.Amount = p.PaidAmount.Decimal
	}
	if p.PaidPhone != "" {
		d.Phone = p.PaidPhone
	}
	switch {
	case p.TransactionDate != nil:
		d.PaidAt = *p.TransactionDate
	case p.SettledAt != nil:
		d.PaidAt = *p.SettledAt
	default:
		d.PaidAt = time.Now()
	}
	for _, it := range b.Items {
		d.Lines = append(d.Lines, receipt.Line{Description: it.Description, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return d
}
