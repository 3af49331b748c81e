package models

import (
	"time"

	"gorm.io/datatypes"
)

type Notification struct {
	ID               uint              `gorm:"primaryKey" json:"id"`
	BookingReference string            `gorm:"size:64;not null;index" json:"booking_reference"`
	PaymentID        string            `gorm:"size:36;index" json:"payment_id"`
	Type             string            `gorm:"size:50;not null;index" json:"type"`
	Recipient        string            `gorm:"size:255" json:"recipient"`
	Title            string            `gorm:"size:255" json:"title"`
	Body             string            `gorm:"type:text" json:"body"`
	Data             datatypes.JSONMap `json:"data"`
	PushedAt         *time.Time        `json:"pushed_at"`
	PushError        string            `gorm:"size:512" json:"push_error"`
	CreatedAt        time.Time         `json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
