package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"quantum-trader/internal/models"
)

// MessageWriter is the subset of *kafka.Writer the journal uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TradeEvent is the journal payload for a trade write.
type TradeEvent struct {
	Type      string             `json:"type"`
	Trade     models.TradeRecord `json:"trade"`
	Published time.Time          `json:"published_at"`
}

// KafkaJournal decorates a Store and publishes every recorded trade to a
// Kafka topic keyed by trade ID. The wrapped store stays authoritative:
// publish failures are logged and never fail the write.
type KafkaJournal struct {
	Store
	writer MessageWriter
	topic  string
	logger zerolog.Logger
}

// KafkaConfig configures NewKafkaWriter.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// NewKafkaWriter builds a synchronous writer hashing by key so events of
// one trade stay ordered on one partition.
func NewKafkaWriter(cfg KafkaConfig) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: 100 * time.Millisecond,
	}, nil
}

// NewKafkaJournal wraps inner. topic is only used in log lines when the
// writer already carries it.
func NewKafkaJournal(inner Store, writer MessageWriter, topic string, logger zerolog.Logger) *KafkaJournal {
	return &KafkaJournal{
		Store:  inner,
		writer: writer,
		topic:  topic,
		logger: logger.With().Str("component", "kafka_journal").Str("topic", topic).Logger(),
	}
}

// RecordTrade writes to the wrapped store, then publishes the event.
func (j *KafkaJournal) RecordTrade(ctx context.Context, trade models.TradeRecord) error {
	if err := j.Store.RecordTrade(ctx, trade); err != nil {
		return err
	}

	eventType := "trade_opened"
	if trade.State.IsClosed() {
		eventType = "trade_closed"
	}
	value, err := json.Marshal(TradeEvent{Type: eventType, Trade: trade, Published: time.Now().UTC()})
	if err != nil {
		j.logger.Error().Err(err).Str("trade_id", trade.ID).Msg("Failed to encode trade event")
		return nil
	}

	msg := kafka.Message{Key: []byte(trade.ID), Value: value, Time: time.Now()}
	if err := j.writer.WriteMessages(ctx, msg); err != nil {
		j.logger.Warn().Err(err).Str("trade_id", trade.ID).Str("event", eventType).Msg("Failed to publish trade event")
	}
	return nil
}

// Close closes the writer and the wrapped store.
func (j *KafkaJournal) Close() error {
	werr := j.writer.Close()
	if err := j.Store.Close(); err != nil {
		return err
	}
	return werr
}
