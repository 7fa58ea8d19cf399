package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/helixir/scene-enrichment-service/internal/domain"
)

// SceneRepository handles scene persistence and the per-scene enrichment flag.
type SceneRepository interface {
	// Create inserts a scene belonging to an existing job.
	// Returns domain.ErrAlreadyExists on a duplicate ID or scene number.
	Create(ctx context.Context, scene *domain.Scene) error

	// Get retrieves a scene by its ID.
	// Returns domain.ErrNotFound if no matching scene exists.
	Get(ctx context.Context, id uuid.UUID) (*domain.Scene, error)

	// ListPending returns the IDs of the job's scenes with enriched = false,
	// ordered by scene number ascending.
	ListPending(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error)

	// Counts returns the total and enriched scene counts of a job.
	Counts(ctx context.Context, jobID uuid.UUID) (domain.SceneCounts, error)

	// MarkEnriched stores the enrichment payload and flips enriched from false to true.
	// Marking an already enriched scene is a no-op.
	// Returns domain.ErrNotFound if no matching scene exists.
	MarkEnriched(ctx context.Context, id uuid.UUID, payload json.RawMessage) error

	// ResetEnrichment clears the enrichment of every scene of a job for reanalysis
	// and returns how many scenes were reset.
	ResetEnrichment(ctx context.Context, jobID uuid.UUID) (int64, error)
}
