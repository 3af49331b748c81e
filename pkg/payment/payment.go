package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Daraja result codes with a fixed meaning.
const (
	ResultCodeSuccess       = 0
	ResultCodeUserCancelled = 1032
)

// Channel identifies which path observed an outcome.
type Channel string

const (
	ChannelWebhook Channel = "webhook"
	ChannelPoll    Channel = "poll"
)

type InitiateRequest struct {
	PayerContact     string
	Amount           decimal.Decimal
	BookingReference string
	Description      string
}

type InitiateResponse struct {
	ProviderRequestID     string // MerchantRequestID
	ProviderCorrelationID string // CheckoutRequestID
	PayerContact          string // normalized MSISDN actually charged
	CustomerMessage       string
}

// Outcome is the normalized result of a push payment, produced by both the
// callback parser and the status query.
type Outcome struct {
	CorrelationID     string
	RequestID         string
	ResultCode        int
	ResultDescription string
	ReceiptNumber     string
	Amount            *decimal.Decimal
	Phone             string
	TransactionDate   *time.Time
	Channel           Channel
}

func (o *Outcome) Succeeded() bool {
	return o.ResultCode == ResultCodeSuccess
}

// Provider is the outbound side of the push-payment provider.
type Provider interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error)
	QueryStatus(ctx context.Context, correlationID string) (*Outcome, error)
}
