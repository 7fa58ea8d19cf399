package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/scene-enrichment-service/internal/orchestrator"
)

// messageReader is the subset of *kafka.Reader used by ResumeListener.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Resumer resumes a job's enrichment.
type Resumer interface {
	Resume(ctx context.Context, jobID uuid.UUID) (*orchestrator.Run, error)
}

// ListenerConfig holds configuration for the resume listener.
type ListenerConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic carries resume requests.
	Topic string
	// GroupID is the consumer group ID.
	GroupID string
}

// ResumeListener consumes resume requests and resumes the named jobs.
type ResumeListener struct {
	reader  messageReader
	resumer Resumer
	logger  zerolog.Logger
}

// NewResumeListener creates a ResumeListener backed by a kafka.Reader.
func NewResumeListener(cfg ListenerConfig, resumer Resumer, logger zerolog.Logger) *ResumeListener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})

	return newResumeListener(reader, resumer, logger)
}

func newResumeListener(reader messageReader, resumer Resumer, logger zerolog.Logger) *ResumeListener {
	return &ResumeListener{
		reader:  reader,
		resumer: resumer,
		logger:  logger.With().Str("component", "resume_listener").Logger(),
	}
}

// Run starts the listener loop. Blocks until context is cancelled.
func (l *ResumeListener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting resume listener")

	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("resume listener stopped via context cancellation")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		l.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received resume request")

		if err := l.handle(ctx, msg.Value); err != nil {
			l.logger.Error().Err(err).Msg("failed to handle resume request")
		}
	}
}

// resumeMessage is the wire form of domain.ResumeRequest. The job ID is a
// string so a malformed ID is reported instead of failing the whole decode.
type resumeMessage struct {
	JobID string `json:"job_id"`
}

func (l *ResumeListener) handle(ctx context.Context, value []byte) error {
	var req resumeMessage
	if err := json.Unmarshal(value, &req); err != nil {
		return fmt.Errorf("unmarshal resume request: %w", err)
	}

	jobID, err := uuid.Parse(req.JobID)
	if err != nil || jobID == uuid.Nil {
		return fmt.Errorf("invalid job_id %q", req.JobID)
	}

	run, err := l.resumer.Resume(ctx, jobID)
	if err != nil {
		return fmt.Errorf("resume job %s: %w", jobID, err)
	}

	if run == nil {
		l.logger.Debug().Str("job_id", jobID.String()).Msg("nothing to resume")
		return nil
	}

	l.logger.Info().
		Str("job_id", jobID.String()).
		Str("run_id", run.ID.String()).
		Msg("job resumed")
	return nil
}

// Close closes the Kafka reader.
func (l *ResumeListener) Close() error {
	l.logger.Info().Msg("closing resume listener")
	return l.reader.Close()
}
