// Package events publishes a record of every completed state transition for
// downstream consumers (ledgers, notifications, reconciliation).
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/openbilling/payment-core/internal/models"
)

// TransitionEvent describes one completed payment state transition.
type TransitionEvent struct {
	PaymentID       uuid.UUID              `json:"payment_id"`
	AccountID       uuid.UUID              `json:"account_id"`
	TransactionID   uuid.UUID              `json:"transaction_id"`
	TransactionType models.TransactionType `json:"transaction_type"`
	FromState       string                 `json:"from_state"`
	ToState         string                 `json:"to_state"`
	Status          models.PaymentStatus   `json:"status"`
	Amount          string                 `json:"amount"`
	Currency        string                 `json:"currency"`
	RetryAt         *time.Time             `json:"retry_at,omitempty"`
	OccurredAt      time.Time              `json:"occurred_at"`
}

type Publisher interface {
	PublishTransition(ctx context.Context, evt TransitionEvent) error
}

// KafkaPublisher writes transition events keyed by payment id, so all events
// for one payment land on the same partition in order.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaPublisher(brokers, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		logger: logger,
	}
}

func (p *KafkaPublisher) PublishTransition(ctx context.Context, evt TransitionEvent) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.PaymentID.String()),
		Value: value,
	})
	if err != nil {
		p.logger.Error("failed to publish transition event",
			zap.String("payment_id", evt.PaymentID.String()),
			zap.Error(err),
		)
	}
	return err
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// NopPublisher drops events; used by tests and demo mode.
type NopPublisher struct{}

func (NopPublisher) PublishTransition(context.Context, TransitionEvent) error { return nil }
