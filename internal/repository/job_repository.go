package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/helixir/scene-enrichment-service/internal/domain"
)

// JobRepository handles enrichment job persistence and lifecycle management.
type JobRepository interface {
	// Create inserts a new enrichment job.
	// Returns domain.ErrAlreadyExists if a job with the same ID already exists.
	Create(ctx context.Context, job *domain.EnrichmentJob) error

	// Get retrieves a job by its ID.
	// Returns domain.ErrNotFound if no matching job exists.
	Get(ctx context.Context, id uuid.UUID) (*domain.EnrichmentJob, error)

	// UpdateStatus moves a job to status, validating the transition atomically.
	// errorMsg is stored only for the failed status and cleared otherwise.
	// Returns domain.ErrNotFound or domain.ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, errorMsg string) error

	// ListByStatus returns the jobs currently in status, oldest first.
	ListByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.EnrichmentJob, error)

	// IsHalted reports whether the job was cancelled or failed, which stops runs between waves.
	// Returns domain.ErrNotFound if no matching job exists.
	IsHalted(ctx context.Context, id uuid.UUID) (bool, error)
}
