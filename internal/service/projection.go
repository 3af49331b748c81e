package service

import (
	"time"

	"paybridge/internal/domain"
	"paybridge/internal/models"

	"github.com/shopspring/decimal"
)

// Projection is the client-facing view of a payment attempt.
type Projection struct {
	PaymentID           string              `json:"payment_id"`
	BookingReference    string              `json:"booking_reference"`
	State               domain.PaymentState `json:"state"`
	Amount              decimal.Decimal     `json:"amount"`
	Currency            string              `json:"currency"`
	Phone               string              `json:"phone"`
	MerchantRequestID   string              `json:"merchant_request_id"`
	CheckoutRequestID   string              `json:"checkout_request_id"`
	ResultCode          *int                `json:"result_code,omitempty"`
	ResultDescription   string              `json:"result_description,omitempty"`
	ReceiptNumber       string              `json:"receipt_number,omitempty"`
	ReceiptURL          string              `json:"receipt_url,omitempty"`
	SettledVia          string              `json:"settled_via,omitempty"`
	SettledAt           *time.Time          `json:"settled_at,omitempty"`
	EffectsApplied      bool                `json:"effects_applied"`
	DuplicateSettlement bool                `json:"duplicate_settlement,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

func NewProjection(p *models.PaymentAttempt) *Projection {
	return &Projection{
		PaymentID:           p.ID,
		BookingReference:    p.BookingReference,
		State:               p.State,
		Amount:              p.Amount,
		Currency:            p.Currency,
		Phone:               p.PayerContact,
		MerchantRequestID:   p.ProviderRequestID,
		CheckoutRequestID:   p.ProviderCorrelationID,
		ResultCode:          p.ResultCode,
		ResultDescription:   p.ResultDescription,
		ReceiptNumber:       p.ProviderReceiptNumber,
		ReceiptURL:          p.ReceiptURL,
		SettledVia:          p.SettledVia,
		SettledAt:           p.SettledAt,
		EffectsApplied:      p.EffectsApplied,
		DuplicateSettlement: p.DuplicateSettlement,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

// StatusQuery selects an attempt by exactly one of its keys. A booking
// reference resolves to the completed attempt if any, else the latest one.
type StatusQuery struct {
	PaymentID        string
	BookingReference string
	CorrelationID    string
}

// StatusEvent is pushed to live subscribers of a payment.
type StatusEvent struct {
	Type    string      `json:"type"`
	Payment *Projection `json:"payment"`
}

const StatusEventType = "payment.status"
