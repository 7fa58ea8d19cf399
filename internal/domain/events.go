package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants for published enrichment events.
const (
	EventTypeRunCompleted = "enrichment.run_completed"
	EventTypeRunCancelled = "enrichment.run_cancelled"
	EventTypeRunFailed    = "enrichment.run_failed"
)

// AggregateTypeJob is the aggregate type of every enrichment event.
const AggregateTypeJob = "enrichment_job"

// Event is an enrichment event published to the message bus.
type Event struct {
	EventID       string          `json:"event_id"`
	EventVersion  int             `json:"event_version"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewEvent creates a new event with the given parameters.
// The payload is JSON-serialized automatically.
func NewEvent(eventType, aggregateID string, payload interface{}) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		EventID:       uuid.New().String(),
		EventVersion:  1,
		AggregateID:   aggregateID,
		AggregateType: AggregateTypeJob,
		EventType:     eventType,
		Payload:       payloadBytes,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// NewRunEvent wraps a run report in the event matching its outcome.
func NewRunEvent(report *RunReport) (*Event, error) {
	eventType := EventTypeRunCompleted
	switch report.Outcome() {
	case RunOutcomeFailed:
		eventType = EventTypeRunFailed
	case RunOutcomeCancelled:
		eventType = EventTypeRunCancelled
	}
	return NewEvent(eventType, report.JobID.String(), report)
}

// ResumeRequest is the message other services send to resume a job's enrichment.
type ResumeRequest struct {
	JobID uuid.UUID `json:"job_id"`
}
