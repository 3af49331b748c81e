package models

import (
	"time"

	"paybridge/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaymentAttempt is one STK push initiation and its settlement. Rows are never deleted.
type PaymentAttempt struct {
	ID                    string              `gorm:"size:36;primaryKey" json:"id"`
	BookingReference      string              `gorm:"size:64;not null;index" json:"booking_reference"`
	Amount                decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency              string              `gorm:"size:3;default:'KES'" json:"currency"`
	PayerContact          string              `gorm:"size:20;not null" json:"payer_contact"`
	ProviderRequestID     string              `gorm:"size:64" json:"provider_request_id"`
	ProviderCorrelationID string              `gorm:"size:64;not null;uniqueIndex" json:"provider_correlation_id"`
	State                 domain.PaymentState `gorm:"size:20;not null;index" json:"state"`
	ResultCode            *int                `json:"result_code"`
	ResultDescription     string              `gorm:"size:255" json:"result_description"`
	ProviderReceiptNumber string              `gorm:"size:32;index" json:"provider_receipt_number"`
	PaidAmount            decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"paid_amount"`
	PaidPhone             string              `gorm:"size:20" json:"paid_phone"`
	TransactionDate       *time.Time          `json:"transaction_date"`
	SettledVia            string              `gorm:"size:10" json:"settled_via"` // webhook, poll
	SettledAt             *time.Time          `json:"settled_at"`
	EffectsApplied        bool                `gorm:"not null;default:false" json:"effects_applied"`
	// CompletedBooking holds BookingReference only while State is COMPLETED; the
	// unique index allows one completed attempt per booking.
	CompletedBooking    *string   `gorm:"size:64;uniqueIndex" json:"-"`
	DuplicateSettlement bool      `gorm:"not null;default:false" json:"duplicate_settlement"`
	ReceiptURL          string    `gorm:"size:512" json:"receipt_url"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (PaymentAttempt) TableName() string {
	return "payment_attempts"
}

func (p *PaymentAttempt) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.State == "" {
		p.State = domain.StatePending
	}
	if p.Currency == "" {
		p.Currency = "KES"
	}
	return nil
}
