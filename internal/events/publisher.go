// Package events publishes enrichment run reports to Kafka and consumes
// resume requests sent by other services.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/scene-enrichment-service/internal/domain"
	"github.com/helixir/scene-enrichment-service/internal/orchestrator"
)

// messageWriter is the subset of *kafka.Writer used by Publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PublisherConfig holds configuration for the run report publisher.
type PublisherConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic receives run report events.
	Topic string
	// BatchTimeout is the maximum time to wait for a batch to fill.
	BatchTimeout time.Duration
}

// Publisher writes run reports as domain events keyed by job ID.
type Publisher struct {
	writer messageWriter
	topic  string
	logger zerolog.Logger
}

var _ orchestrator.ReportPublisher = (*Publisher)(nil)

// NewPublisher creates a Publisher backed by a kafka.Writer.
func NewPublisher(cfg PublisherConfig, logger zerolog.Logger) *Publisher {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 100 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
	}

	return newPublisher(writer, cfg.Topic, logger)
}

func newPublisher(writer messageWriter, topic string, logger zerolog.Logger) *Publisher {
	return &Publisher{
		writer: writer,
		topic:  topic,
		logger: logger.With().Str("component", "event_publisher").Logger(),
	}
}

// PublishRunReport publishes the report of a finished run.
func (p *Publisher) PublishRunReport(ctx context.Context, report *domain.RunReport) error {
	event, err := domain.NewRunEvent(report)
	if err != nil {
		return fmt.Errorf("build run event: %w", err)
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s event: %w", event.EventType, err)
	}

	p.logger.Debug().
		Str("topic", p.topic).
		Str("event_type", event.EventType).
		Str("job_id", event.AggregateID).
		Msg("run report published")
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
