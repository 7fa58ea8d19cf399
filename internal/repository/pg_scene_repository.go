package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/scene-enrichment-service/internal/domain"
)

// PgSceneRepository implements SceneRepository using PostgreSQL.
type PgSceneRepository struct {
	db DBTX
}

var _ SceneRepository = (*PgSceneRepository)(nil)

// NewPgSceneRepository creates a new PostgreSQL scene repository.
func NewPgSceneRepository(db DBTX) *PgSceneRepository {
	return &PgSceneRepository{db: db}
}

// Create inserts a scene belonging to an existing job.
func (r *PgSceneRepository) Create(ctx context.Context, scene *domain.Scene) error {
	if scene == nil {
		return domain.NewValidationError("scene", "scene cannot be nil")
	}
	if scene.ID == uuid.Nil {
		return domain.NewValidationError("id", "scene ID is required")
	}
	if scene.JobID == uuid.Nil {
		return domain.NewValidationError("job_id", "job ID is required")
	}
	if scene.SceneNumber < 1 {
		return domain.NewValidationError("scene_number", "scene number must be positive")
	}

	now := time.Now().UTC()
	if scene.CreatedAt.IsZero() {
		scene.CreatedAt = now
	}
	scene.UpdatedAt = now

	query := `
		INSERT INTO scenes (
			id, job_id, scene_number, heading, content,
			enriched, enrichment, enriched_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		scene.ID, scene.JobID, scene.SceneNumber, scene.Heading, scene.Content,
		scene.Enriched, nullJSON(scene.Enrichment), scene.EnrichedAt, scene.CreatedAt, scene.UpdatedAt,
	)
	if err != nil {
		switch {
		case isPgError(err, pgUniqueViolation):
			return domain.NewAlreadyExistsError("scene", scene.ID.String())
		case isPgError(err, pgForeignKeyViolation):
			return domain.NewNotFoundError("job", scene.JobID.String())
		}
		return fmt.Errorf("failed to create scene: %w", err)
	}

	return nil
}

// Get retrieves a scene by its ID.
func (r *PgSceneRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Scene, error) {
	query := `
		SELECT id, job_id, scene_number, heading, content,
			enriched, enrichment, enriched_at, created_at, updated_at
		FROM scenes
		WHERE id = $1`

	var (
		scene      domain.Scene
		enrichment []byte
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&scene.ID, &scene.JobID, &scene.SceneNumber, &scene.Heading, &scene.Content,
		&scene.Enriched, &enrichment, &scene.EnrichedAt, &scene.CreatedAt, &scene.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("scene", id.String())
		}
		return nil, fmt.Errorf("failed to get scene: %w", err)
	}

	if len(enrichment) > 0 {
		scene.Enrichment = json.RawMessage(enrichment)
	}

	return &scene, nil
}

// ListPending returns the IDs of the job's unenriched scenes in scene order.
func (r *PgSceneRepository) ListPending(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT id
		FROM scenes
		WHERE job_id = $1 AND enriched = FALSE
		ORDER BY scene_number ASC`

	rows, err := r.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending scenes: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan scene id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending scenes: %w", err)
	}

	return ids, nil
}

// Counts returns the total and enriched scene counts of a job.
func (r *PgSceneRepository) Counts(ctx context.Context, jobID uuid.UUID) (domain.SceneCounts, error) {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE enriched)
		FROM scenes
		WHERE job_id = $1`

	var total, completed int64
	if err := r.db.QueryRow(ctx, query, jobID).Scan(&total, &completed); err != nil {
		return domain.SceneCounts{}, fmt.Errorf("failed to count scenes: %w", err)
	}

	return domain.SceneCounts{Total: int(total), Completed: int(completed)}, nil
}

// MarkEnriched stores the payload and flips enriched from false to true.
// The enriched = FALSE guard keeps the flag monotone under concurrent writers.
func (r *PgSceneRepository) MarkEnriched(ctx context.Context, id uuid.UUID, payload json.RawMessage) error {
	now := time.Now().UTC()

	query := `
		UPDATE scenes
		SET enriched = TRUE,
			enrichment = $1,
			enriched_at = $2,
			updated_at = $2
		WHERE id = $3 AND enriched = FALSE`

	result, err := r.db.Exec(ctx, query, nullJSON(payload), now, id)
	if err != nil {
		return fmt.Errorf("failed to mark scene enriched: %w", err)
	}

	if result.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM scenes WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check scene: %w", err)
	}
	if !exists {
		return domain.NewNotFoundError("scene", id.String())
	}

	return nil
}

// ResetEnrichment clears the enrichment of every scene of a job.
func (r *PgSceneRepository) ResetEnrichment(ctx context.Context, jobID uuid.UUID) (int64, error) {
	query := `
		UPDATE scenes
		SET enriched = FALSE,
			enrichment = NULL,
			enriched_at = NULL,
			updated_at = $1
		WHERE job_id = $2 AND enriched = TRUE`

	result, err := r.db.Exec(ctx, query, time.Now().UTC(), jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to reset scene enrichment: %w", err)
	}

	return result.RowsAffected(), nil
}

// nullJSON converts an empty payload to nil for nullable JSONB columns.
func nullJSON(payload json.RawMessage) []byte {
	if len(payload) == 0 {
		return nil
	}
	return []byte(payload)
}
