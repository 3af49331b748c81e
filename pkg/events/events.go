// Package events publishes payment settlement events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const TypePaymentSettled = "payment.settled"

// Settled is emitted once per attempt, when its terminal state is applied.
type Settled struct {
	PaymentID           string    `json:"payment_id"`
	BookingReference    string    `json:"booking_reference"`
	CorrelationID       string    `json:"correlation_id"`
	State               string    `json:"state"`
	ResultCode          int       `json:"result_code"`
	ResultDescription   string    `json:"result_description"`
	ReceiptNumber       string    `json:"receipt_number,omitempty"`
	Amount              string    `json:"amount"`
	Currency            string    `json:"currency"`
	SettledVia          string    `json:"settled_via"`
	SettledAt           time.Time `json:"settled_at"`
	DuplicateSettlement bool      `json:"duplicate_settlement,omitempty"`
}

// Writer is the subset of *kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// Publisher is nil-safe: a nil *Publisher drops events.
type Publisher struct {
	w Writer
}

func NewPublisher(w Writer) *Publisher {
	return &Publisher{w: w}
}

// PublishSettled keys the message by booking so consumers see one booking's
// attempts in order.
func (p *Publisher) PublishSettled(ctx context.Context, ev Settled) error {
	if p == nil || p.w == nil {
		return nil
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode settled event: %w", err)
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.BookingReference),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(TypePaymentSettled)},
			{Key: "payment_id", Value: []byte(ev.PaymentID)},
		},
		Time: ev.SettledAt,
	})
}

func (p *Publisher) Close() error {
	if p == nil || p.w == nil {
		return nil
	}
	return p.w.Close()
}
