package models

import (
	"time"

	"gorm.io/datatypes"
)

// TransactionLog is the append-only record of every payload exchanged with the
// provider and every settlement decision. Flagged rows need operator review.
type TransactionLog struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	CorrelationID string            `gorm:"size:64;index" json:"correlation_id"`
	PaymentID     string            `gorm:"size:36;index" json:"payment_id"`
	Direction     string            `gorm:"size:10;not null" json:"direction"`
	Event         string            `gorm:"size:40;not null;index" json:"event"`
	RawBody       string            `gorm:"type:text" json:"raw_body"`
	Metadata      datatypes.JSONMap `json:"metadata"`
	Flagged       bool              `gorm:"not null;default:false;index" json:"flagged"`
	Note          string            `gorm:"size:255" json:"note"`
	IP            string            `gorm:"size:45" json:"ip"`
	UserAgent     string            `gorm:"size:512" json:"user_agent"`
	CreatedAt     time.Time         `gorm:"index" json:"created_at"`
}

func (TransactionLog) TableName() string {
	return "transaction_logs"
}
