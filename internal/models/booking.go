package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Booking is owned by the booking application; this service reads it to
// render receipts and flips Status once payment settles.
type Booking struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	Reference     string          `gorm:"size:64;uniqueIndex;not null" json:"reference"`
	CustomerName  string          `gorm:"size:255" json:"customer_name"`
	CustomerEmail string          `gorm:"size:255" json:"customer_email"`
	CustomerPhone string          `gorm:"size:20" json:"customer_phone"`
	DeviceToken   string          `gorm:"size:512" json:"-"` // FCM registration token
	Status        string          `gorm:"size:20;not null;index" json:"status"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	Currency      string          `gorm:"size:3;default:'KES'" json:"currency"`
	PaymentID     *string         `gorm:"size:36" json:"payment_id"`
	ConfirmedAt   *time.Time      `json:"confirmed_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`

	Items []BookingItem `gorm:"foreignKey:BookingID" json:"items"`
}

func (Booking) TableName() string {
	return "bookings"
}

type BookingItem struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	BookingID   uint            `gorm:"not null;index" json:"booking_id"`
	Description string          `gorm:"size:255;not null" json:"description"`
	Quantity    int             `gorm:"not null;default:1" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
}

func (BookingItem) TableName() string {
	return "booking_items"
}

func (i BookingItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
