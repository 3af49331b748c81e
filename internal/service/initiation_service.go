package service

import (
	"context"
	"errors"

	"paybridge/internal/domain"
	"paybridge/internal/models"
	"paybridge/internal/repository"
	"paybridge/pkg/payment"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type InitiateInput struct {
	BookingReference string
	Phone            string
	Amount           decimal.Decimal
}

// InitiationService starts an STK push for a booking and records the PENDING attempt.
type InitiationService struct {
	payments *repository.PaymentRepository
	bookings Bookings
	provider payment.Provider
	audit    *AuditTrail
	log      *zap.Logger
}

func NewInitiationService(payments *repository.PaymentRepository, bookings Bookings, provider payment.Provider, audit *AuditTrail, log *zap.Logger) *InitiationService {
	return &InitiationService{
		payments: payments,
		bookings: bookings,
		provider: provider,
		audit:    audit,
		log:      log.Named("initiate"),
	}
}

// Initiate returns the new PENDING attempt. Errors are domain.ErrBookingNotFound,
// domain.ErrDuplicateActiveAttempt, *payment.ValidationError or a provider error.
func (s *InitiationService) Initiate(ctx context.Context, in InitiateInput) (*Projection, error) {
	// Once the push is sent the attempt must be recorded, so a caller that
	// disconnects does not abort the flow.
	ctx = context.WithoutCancel(ctx)
	log := s.log.With(zap.String("booking", in.BookingReference))

	if _, err := s.bookings.GetByReference(ctx, in.BookingReference); err != nil {
		return nil, err
	}
	paid, err := s.payments.HasCompleted(ctx, in.BookingReference)
	if err != nil {
		return nil, err
	}
	if paid {
		return nil, domain.ErrDuplicateActiveAttempt
	}

	s.audit.Record(ctx, &models.TransactionLog{
		Direction: domain.DirectionOutbound,
		Event:     domain.EventInitiateRequest,
		Metadata: datatypes.JSONMap{
			"booking_reference": in.BookingReference,
			"phone":             in.Phone,
			"amount":            in.Amount.String(),
		},
	})
	resp, err := s.provider.Initiate(ctx, payment.InitiateRequest{
		PayerContact:     in.Phone,
		Amount:           in.Amount,
		BookingReference: in.BookingReference,
		Description:      "Booking " + in.BookingReference,
	})
	if err != nil {
		if !payment.IsValidation(err) {
			log.Error("stk push failed", zap.Error(err))
			s.audit.Record(ctx, &models.TransactionLog{
				Direction: domain.DirectionInbound,
				Event:     domain.EventInitiateResponse,
				Note:      truncate("push failed: "+err.Error(), 255),
				Metadata:  datatypes.JSONMap{"booking_reference": in.BookingReference},
			})
		}
		return nil, err
	}

	attempt := &models.PaymentAttempt{
		BookingReference:      in.BookingReference,
		Amount:                in.Amount,
		PayerContact:          resp.PayerContact,
		ProviderRequestID:     resp.ProviderRequestID,
		ProviderCorrelationID: resp.ProviderCorrelationID,
	}
	err = s.payments.Create(ctx, attempt)
	entry := &models.TransactionLog{
		CorrelationID: resp.ProviderCorrelationID,
		PaymentID:     attempt.ID,
		Direction:     domain.DirectionInbound,
		Event:         domain.EventInitiateResponse,
		Metadata: datatypes.JSONMap{
			"merchant_request_id": resp.ProviderRequestID,
			"customer_message":    resp.CustomerMessage,
		},
	}
	if err != nil {
		// The push went out but the attempt could not be recorded; its
		// callback will arrive for an unknown correlation id.
		entry.Flagged = true
		entry.Note = truncate("attempt not recorded: "+err.Error(), 255)
		s.audit.Record(ctx, entry)
		if errors.Is(err, domain.ErrDuplicateActiveAttempt) {
			log.Warn("booking paid while push was in flight", zap.String("correlation_id", resp.ProviderCorrelationID))
			return nil, err
		}
		log.Error("record attempt", zap.String("correlation_id", resp.ProviderCorrelationID), zap.Error(err))
		return nil, err
	}
	s.audit.Record(ctx, entry)
	log.Info("stk push sent",
		zap.String("payment_id", attempt.ID),
		zap.String("correlation_id", attempt.ProviderCorrelationID))
	return NewProjection(attempt), nil
}
