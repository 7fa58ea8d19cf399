package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/scene-enrichment-service/internal/domain"
)

const jobColumns = `id, script_title, status, error_message, include_secondary_analysis,
			created_at, updated_at, started_at, completed_at`

// PgJobRepository implements JobRepository using PostgreSQL.
type PgJobRepository struct {
	db DBTX
}

var _ JobRepository = (*PgJobRepository)(nil)

// NewPgJobRepository creates a new PostgreSQL job repository.
func NewPgJobRepository(db DBTX) *PgJobRepository {
	return &PgJobRepository{db: db}
}

// Create inserts a new enrichment job.
func (r *PgJobRepository) Create(ctx context.Context, job *domain.EnrichmentJob) error {
	if job == nil {
		return domain.NewValidationError("job", "job cannot be nil")
	}
	if job.ID == uuid.Nil {
		return domain.NewValidationError("id", "job ID is required")
	}
	if job.ScriptTitle == "" {
		return domain.NewValidationError("script_title", "script title is required")
	}
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}
	if !job.Status.IsValid() {
		return domain.NewValidationError("status", fmt.Sprintf("unknown status %q", job.Status))
	}

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	query := `
		INSERT INTO enrichment_jobs (
			id, script_title, status, error_message, include_secondary_analysis,
			created_at, updated_at, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		job.ID, job.ScriptTitle, string(job.Status), nullString(job.ErrorMessage), job.IncludeSecondaryAnalysis,
		job.CreatedAt, job.UpdatedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return domain.NewAlreadyExistsError("job", job.ID.String())
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// Get retrieves a job by its ID.
func (r *PgJobRepository) Get(ctx context.Context, id uuid.UUID) (*domain.EnrichmentJob, error) {
	query := `SELECT ` + jobColumns + ` FROM enrichment_jobs WHERE id = $1`

	job, err := scanJob(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("job", id.String())
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// UpdateStatus moves a job to status when its current status is an allowed predecessor.
// The guard lives in the WHERE clause so concurrent updates cannot skip a check.
func (r *PgJobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, errorMsg string) error {
	if !status.IsValid() {
		return domain.NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}

	from := status.Predecessors()
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	var storedErr *string
	if status == domain.JobStatusFailed {
		storedErr = nullString(errorMsg)
	}

	query := `
		UPDATE enrichment_jobs SET
			status = $1,
			error_message = $2,
			updated_at = $3,
			started_at = CASE WHEN $4::boolean AND status <> 'enriching' THEN $3 ELSE started_at END,
			completed_at = CASE WHEN $5::boolean THEN $3 ELSE NULL END
		WHERE id = $6 AND status = ANY($7::text[])`

	result, err := r.db.Exec(ctx, query,
		string(status),
		storedErr,
		time.Now().UTC(),
		status == domain.JobStatusEnriching,
		status.IsTerminal(),
		id,
		allowed,
	)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	if result.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRow(ctx, `SELECT status FROM enrichment_jobs WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError("job", id.String())
		}
		return fmt.Errorf("failed to read job status: %w", err)
	}

	return domain.NewTransitionError(domain.JobStatus(current), status)
}

// ListByStatus returns the jobs currently in status, oldest first.
func (r *PgJobRepository) ListByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.EnrichmentJob, error) {
	query := `SELECT ` + jobColumns + `
		FROM enrichment_jobs
		WHERE status = $1
		ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.EnrichmentJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

// IsHalted reports whether the job was cancelled or failed.
func (r *PgJobRepository) IsHalted(ctx context.Context, id uuid.UUID) (bool, error) {
	var status string
	err := r.db.QueryRow(ctx, `SELECT status FROM enrichment_jobs WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, domain.NewNotFoundError("job", id.String())
		}
		return false, fmt.Errorf("failed to read job status: %w", err)
	}

	return domain.JobStatus(status).IsHalted(), nil
}

// scanJob scans a job from a pgx.Row or the current row of pgx.Rows.
func scanJob(row pgx.Row) (*domain.EnrichmentJob, error) {
	var (
		job          domain.EnrichmentJob
		status       string
		errorMessage *string
	)

	err := row.Scan(
		&job.ID, &job.ScriptTitle, &status, &errorMessage, &job.IncludeSecondaryAnalysis,
		&job.CreatedAt, &job.UpdatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = domain.JobStatus(status)
	if errorMessage != nil {
		job.ErrorMessage = *errorMessage
	}

	return &job, nil
}
