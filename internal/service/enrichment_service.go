// Package service coordinates job status with enrichment runs for the
// HTTP API, the Kafka resume listener and startup recovery.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/scene-enrichment-service/internal/domain"
	"github.com/helixir/scene-enrichment-service/internal/orchestrator"
	"github.com/helixir/scene-enrichment-service/internal/repository"
)

// TriggerRecover marks runs that only replay the completion chain of a job
// whose scenes were all enriched before an interruption.
const TriggerRecover = "recover"

// Runner starts and tracks enrichment runs.
type Runner interface {
	Start(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.Run, error)
	Resume(ctx context.Context, jobID uuid.UUID) (*orchestrator.Run, error)
	Active(jobID uuid.UUID) (*orchestrator.Run, bool)
}

// Progress is a job's progress as reported to clients.
type Progress struct {
	JobID     uuid.UUID
	Status    domain.JobStatus
	Counts    domain.SceneCounts
	Snapshot  orchestrator.Snapshot
	RunActive bool
	RunID     uuid.UUID
}

// EnrichmentService applies job lifecycle rules around orchestrator runs.
type EnrichmentService struct {
	jobs   repository.JobRepository
	scenes repository.SceneRepository
	runner Runner
	logger zerolog.Logger
}

// NewEnrichmentService creates an EnrichmentService.
func NewEnrichmentService(jobs repository.JobRepository, scenes repository.SceneRepository, runner Runner, logger zerolog.Logger) *EnrichmentService {
	return &EnrichmentService{
		jobs:   jobs,
		scenes: scenes,
		runner: runner,
		logger: logger.With().Str("component", "enrichment_service").Logger(),
	}
}

// Start marks the job enriching and starts a run over its pending scenes.
// Returns domain.ErrRunActive if the job already has an active run.
func (s *EnrichmentService) Start(ctx context.Context, jobID uuid.UUID, includeSecondary bool) (*orchestrator.Run, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if _, active := s.runner.Active(jobID); active {
		return nil, domain.ErrRunActive
	}

	if err := s.markEnriching(ctx, job); err != nil {
		return nil, err
	}

	return s.runner.Start(ctx, orchestrator.RunRequest{
		JobID:                    jobID,
		IncludeSecondaryAnalysis: includeSecondary || job.IncludeSecondaryAnalysis,
		Trigger:                  orchestrator.TriggerStart,
	})
}

// Resume restarts enrichment of the job's pending scenes. It returns (nil, nil)
// when a run is already active or nothing is left to do.
//
// A job interrupted after its last scene was enriched but before its
// completion chain finished has no pending scenes; its chain is replayed
// without the secondary analysis.
func (s *EnrichmentService) Resume(ctx context.Context, jobID uuid.UUID) (*orchestrator.Run, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if _, active := s.runner.Active(jobID); active {
		return nil, nil
	}

	counts, err := s.scenes.Counts(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("count scenes: %w", err)
	}

	if counts.Pending() == 0 {
		if job.Status != domain.JobStatusEnriching && job.Status != domain.JobStatusFinalizing {
			return nil, nil
		}
		if err := s.markEnriching(ctx, job); err != nil {
			return nil, err
		}
		run, err := s.runner.Start(ctx, orchestrator.RunRequest{JobID: jobID, Trigger: TriggerRecover})
		if errors.Is(err, domain.ErrRunActive) {
			return nil, nil
		}
		return run, err
	}

	if err := s.markEnriching(ctx, job); err != nil {
		return nil, err
	}
	return s.runner.Resume(ctx, jobID)
}

// ResumeInterrupted resumes every job left enriching or finalizing, typically
// at process start. Failures are logged per job and do not stop the sweep.
func (s *EnrichmentService) ResumeInterrupted(ctx context.Context) (int, error) {
	var interrupted []*domain.EnrichmentJob
	for _, status := range []domain.JobStatus{domain.JobStatusEnriching, domain.JobStatusFinalizing} {
		jobs, err := s.jobs.ListByStatus(ctx, status)
		if err != nil {
			return 0, fmt.Errorf("list %s jobs: %w", status, err)
		}
		interrupted = append(interrupted, jobs...)
	}

	resumed := 0
	for _, job := range interrupted {
		run, err := s.Resume(ctx, job.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to resume interrupted job")
			continue
		}
		if run != nil {
			resumed++
		}
	}

	s.logger.Info().Int("interrupted", len(interrupted)).Int("resumed", resumed).Msg("interrupted jobs resumed")
	return resumed, nil
}

// Cancel marks the job cancelled. An active run stops before its next wave;
// calls already in flight complete.
func (s *EnrichmentService) Cancel(ctx context.Context, jobID uuid.UUID, reason string) (*domain.EnrichmentJob, error) {
	if err := s.jobs.UpdateStatus(ctx, jobID, domain.JobStatusCancelled, ""); err != nil {
		return nil, err
	}

	s.logger.Info().Str("job_id", jobID.String()).Str("reason", reason).Msg("job cancelled")
	return s.jobs.Get(ctx, jobID)
}

// Reset clears the enrichment of every scene of a settled job for reanalysis
// and moves the job back to pending.
func (s *EnrichmentService) Reset(ctx context.Context, jobID uuid.UUID) (int64, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if _, active := s.runner.Active(jobID); active {
		return 0, domain.ErrRunActive
	}
	if !job.Status.IsTerminal() && job.Status != domain.JobStatusPending {
		return 0, domain.NewTransitionError(job.Status, domain.JobStatusPending)
	}

	reset, err := s.scenes.ResetEnrichment(ctx, jobID)
	if err != nil {
		return 0, fmt.Errorf("reset scenes: %w", err)
	}

	if job.Status != domain.JobStatusPending {
		if err := s.jobs.UpdateStatus(ctx, jobID, domain.JobStatusPending, ""); err != nil {
			return reset, err
		}
	}

	s.logger.Info().Str("job_id", jobID.String()).Int64("scenes", reset).Msg("job enrichment reset")
	return reset, nil
}

// Progress reports the job's progress. While a run is active the run's
// tracker keeps the reported percentage non-decreasing.
func (s *EnrichmentService) Progress(ctx context.Context, jobID uuid.UUID) (*Progress, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	counts, err := s.scenes.Counts(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("count scenes: %w", err)
	}

	p := &Progress{JobID: jobID, Status: job.Status, Counts: counts}

	if run, active := s.runner.Active(jobID); active {
		p.RunActive = true
		p.RunID = run.ID
		p.Snapshot = run.Progress(counts)
		return p, nil
	}

	// Without a run the count phase applies only once a scene has completed.
	p.Snapshot = orchestrator.Estimate(orchestrator.EstimateInput{
		Elapsed:   job.Duration(),
		Completed: counts.Completed,
		Total:     counts.Total,
	})
	return p, nil
}

func (s *EnrichmentService) markEnriching(ctx context.Context, job *domain.EnrichmentJob) error {
	if err := s.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusEnriching, ""); err != nil {
		return fmt.Errorf("update job status to %s: %w", domain.JobStatusEnriching, err)
	}
	return nil
}
