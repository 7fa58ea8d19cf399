// Package domain provides domain models and business logic for the Scene Enrichment Service.
package domain

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle states of a script analysis undergoing enrichment.
// These values must match the CHECK constraint on enrichment_jobs.status.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusEnriching  JobStatus = "enriching"
	JobStatusFinalizing JobStatus = "finalizing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// validStatusTransitions defines the allowed status transitions for enrichment jobs.
// Settled jobs may be re-enriched or reset to pending for reanalysis.
var validStatusTransitions = map[JobStatus][]JobStatus{
	JobStatusPending: {
		JobStatusEnriching,
		JobStatusFailed,
		JobStatusCancelled,
	},
	JobStatusEnriching: {
		JobStatusEnriching,
		JobStatusFinalizing,
		JobStatusFailed,
		JobStatusCancelled,
	},
	// A job left finalizing by a crash is re-entered on resume.
	JobStatusFinalizing: {
		JobStatusEnriching,
		JobStatusCompleted,
		JobStatusFailed,
		JobStatusCancelled,
	},
	JobStatusCompleted: {
		JobStatusEnriching,
		JobStatusPending,
	},
	JobStatusFailed: {
		JobStatusEnriching,
		JobStatusPending,
	},
	JobStatusCancelled: {
		JobStatusEnriching,
		JobStatusPending,
	},
}

// jobStatuses lists every status in lifecycle order.
var jobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusEnriching,
	JobStatusFinalizing,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusCancelled,
}

// Predecessors returns the statuses from which s may be entered, in lifecycle order.
func (s JobStatus) Predecessors() []JobStatus {
	var from []JobStatus
	for _, candidate := range jobStatuses {
		if candidate.CanTransitionTo(s) {
			from = append(from, candidate)
		}
	}
	return from
}

// IsTerminal returns true if no enrichment run is expected to move the job further.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsHalted returns true if in-progress runs must stop issuing waves for the job.
func (s JobStatus) IsHalted() bool {
	return s == JobStatusCancelled || s == JobStatusFailed
}

// IsValid returns true for known statuses.
func (s JobStatus) IsValid() bool {
	_, ok := validStatusTransitions[s]
	return ok
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	return slices.Contains(validStatusTransitions[s], next)
}

// EnrichmentJob is a script analysis whose scenes are enriched by the orchestrator.
type EnrichmentJob struct {
	ID          uuid.UUID `json:"id"`
	ScriptTitle string    `json:"script_title"`

	Status       JobStatus `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`

	// IncludeSecondaryAnalysis requests the director-style analysis after finalization.
	IncludeSecondaryAnalysis bool `json:"include_secondary_analysis"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Duration returns the duration of the job.
// Returns zero if the job has not started.
// Returns elapsed time from start if still running.
func (j *EnrichmentJob) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}

	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(*j.StartedAt)
	}

	return time.Since(*j.StartedAt)
}

// Scene is one unit of enrichment work within a job.
type Scene struct {
	ID          uuid.UUID `json:"id"`
	JobID       uuid.UUID `json:"job_id"`
	SceneNumber int       `json:"scene_number"`
	Heading     string    `json:"heading"`
	Content     string    `json:"content"`

	// Enriched only ever flips from false to true outside of a reset.
	Enriched   bool            `json:"enriched"`
	Enrichment json.RawMessage `json:"enrichment,omitempty"`
	EnrichedAt *time.Time      `json:"enriched_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SceneCounts is the persisted enrichment tally for a job.
type SceneCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
}

// Pending returns the number of scenes not yet enriched.
func (c SceneCounts) Pending() int {
	if c.Completed >= c.Total {
		return 0
	}
	return c.Total - c.Completed
}

// AbandonedScene records a scene a run gave up on.
type AbandonedScene struct {
	SceneID  uuid.UUID `json:"scene_id"`
	Reason   string    `json:"reason"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error"`
}

// ChainStepOutcome records the result of one completion chain step.
type ChainStepOutcome struct {
	Step   string `json:"step"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RunReport summarizes one enrichment run for events and the API.
type RunReport struct {
	JobID     uuid.UUID `json:"job_id"`
	RunID     uuid.UUID `json:"run_id"`
	Trigger   string    `json:"trigger"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Abandoned int       `json:"abandoned"`
	Waves     int       `json:"waves"`
	Delays    int       `json:"delays"`
	Cancelled bool      `json:"cancelled"`
	// Failed is set when the run crashed; Error holds the cause.
	Failed bool   `json:"failed"`
	Error  string `json:"error,omitempty"`

	AbandonedScenes []AbandonedScene   `json:"abandoned_scenes,omitempty"`
	Chain           []ChainStepOutcome `json:"chain,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Run outcomes.
const (
	RunOutcomeCompleted = "completed"
	RunOutcomeCancelled = "cancelled"
	RunOutcomeFailed    = "failed"
)

// Outcome classifies the run as failed, cancelled or completed, in that order.
func (r *RunReport) Outcome() string {
	switch {
	case r.Failed:
		return RunOutcomeFailed
	case r.Cancelled:
		return RunOutcomeCancelled
	default:
		return RunOutcomeCompleted
	}
}

// Duration returns how long the run took.
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
