// Package events publishes committed ledger events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/skillmarket/points/internal/domain"
	"github.com/skillmarket/points/internal/infra/observability"
)

// Config holds the Kafka producer settings.
type Config struct {
	Brokers      []string
	Topic        string
	Async        bool
	BatchSize    int
	BatchTimeout time.Duration
}

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per ledger event, keyed by account id
// so an account's events stay ordered within a partition.
type KafkaPublisher struct {
	w      messageWriter
	logger *zap.Logger
}

// NewKafkaPublisher creates a publisher for cfg.
func NewKafkaPublisher(cfg Config, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("%w: kafka needs brokers and topic", domain.ErrInvalidArgument)
	}
	logger = observability.OrNop(logger).Named("events")
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        cfg.Async,
		MaxAttempts:  3,
		BatchSize:    batchSize,
		BatchTimeout: batchTimeout,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Compression:  kafka.Snappy,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}
	logger.Info("kafka publisher initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.Bool("async", cfg.Async),
	)
	return &KafkaPublisher{w: w, logger: logger}, nil
}

// Publish encodes and writes events.
func (p *KafkaPublisher) Publish(ctx context.Context, events ...domain.LedgerEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs, err := Encode(events)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write %d events: %w", len(msgs), err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// Encode converts events into Kafka messages.
func Encode(events []domain.LedgerEvent) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		body, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode event %s: %w", e.TransactionID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.AccountID),
			Value: body,
			Time:  e.CreatedAt,
			Headers: []kafka.Header{
				{Key: "event", Value: []byte(e.Event)},
			},
		})
	}
	return msgs, nil
}

// LogPublisher logs events instead of sending them. It is used when no
// broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: observability.OrNop(logger).Named("events")}
}

// Publish logs each event at debug level.
func (p *LogPublisher) Publish(_ context.Context, events ...domain.LedgerEvent) error {
	for _, e := range events {
		p.logger.Debug("ledger event",
			zap.String("event", e.Event),
			zap.String("account_id", e.AccountID),
			zap.String("transaction_id", e.TransactionID),
			zap.String("amount", e.Amount.String()),
		)
	}
	return nil
}
