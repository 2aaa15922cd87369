package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// Topics for ledger events consumed by downstream services (analytics,
// notification emails).
const (
	TopicSubscriptionActivated = "subscription_activated"
	TopicSubscriptionRenewed   = "subscription_renewed"
	TopicSubscriptionCancelled = "subscription_cancelled"
	TopicCreditsGranted        = "credits_granted"
	TopicCreditConsumed        = "credit_consumed"
)

// LedgerEvent is the message body published for every committed ledger
// mutation.
type LedgerEvent struct {
	UserID      string    `json:"userId"`
	PlanName    string    `json:"planName,omitempty"`
	ReportsLeft int       `json:"reportsLeft"`
	EventID     string    `json:"eventId,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Producer publishes ledger events to Kafka.
type Producer interface {
	// PublishLedgerEvent sends one event. The message key is the userID so
	// all events for a user land in the same partition, in order.
	PublishLedgerEvent(ctx context.Context, topic string, event *LedgerEvent) error
	Close() error
}

type kafkaProducer struct {
	writer *kafka.Writer
	log    *logger.Logger
}

// NewProducer creates a Kafka producer for the given brokers.
func NewProducer(brokers []string, log *logger.Logger) (Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are not configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	log.Infow("Kafka producer initialized", "brokers", brokers)
	return &kafkaProducer{writer: writer, log: log}, nil
}

func (k *kafkaProducer) PublishLedgerEvent(ctx context.Context, topic string, event *LedgerEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger event: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(event.UserID),
		Value: value,
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := k.writer.WriteMessages(writeCtx, msg); err != nil {
		k.log.Errorw("Failed to publish ledger event", "error", err, "topic", topic, "userID", event.UserID)
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	k.log.Debugw("Published ledger event", "topic", topic, "userID", event.UserID)
	return nil
}

func (k *kafkaProducer) Close() error {
	return k.writer.Close()
}

// NopProducer discards events. Used when Kafka is not configured and in
// tests.
type NopProducer struct{}

func (NopProducer) PublishLedgerEvent(context.Context, string, *LedgerEvent) error { return nil }
func (NopProducer) Close() error                                                   { return nil }
