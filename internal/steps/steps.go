// Package steps provides the completion chain steps that run after an
// enrichment run drains: finalization of the job and the optional
// director-style secondary analysis.
package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/scene-enrichment-service/internal/domain"
	"github.com/helixir/scene-enrichment-service/internal/enrichment"
	"github.com/helixir/scene-enrichment-service/internal/orchestrator"
)

// statusWriteTimeout bounds status writes made after the step context expired.
const statusWriteTimeout = 10 * time.Second

// StatusUpdater persists job status transitions.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, errorMsg string) error
}

// FinalizeStep moves a job through finalizing to completed around the
// remote finalization call. A failed finalization marks the job failed.
type FinalizeStep struct {
	remote enrichment.Finalizer
	jobs   StatusUpdater
	logger zerolog.Logger
}

var _ orchestrator.Step = (*FinalizeStep)(nil)

// NewFinalizeStep creates a FinalizeStep. remote may be nil when the
// enrichment backend has no remote finalization; the job is then completed directly.
func NewFinalizeStep(remote enrichment.Finalizer, jobs StatusUpdater, logger zerolog.Logger) *FinalizeStep {
	return &FinalizeStep{
		remote: remote,
		jobs:   jobs,
		logger: logger.With().Str("component", "finalize_step").Logger(),
	}
}

// Run finalizes the job.
func (s *FinalizeStep) Run(ctx context.Context, jobID uuid.UUID) error {
	if err := s.jobs.UpdateStatus(ctx, jobID, domain.JobStatusFinalizing, ""); err != nil {
		return fmt.Errorf("update job status to %s: %w", domain.JobStatusFinalizing, err)
	}

	if s.remote != nil {
		if err := s.remote.Finalize(ctx, jobID); err != nil {
			s.markFailed(ctx, jobID, fmt.Sprintf("finalize: %v", err))
			return fmt.Errorf("finalize: %w", err)
		}
	}

	if err := s.jobs.UpdateStatus(ctx, jobID, domain.JobStatusCompleted, ""); err != nil {
		return fmt.Errorf("update job status to %s: %w", domain.JobStatusCompleted, err)
	}

	s.logger.Info().Str("job_id", jobID.String()).Msg("job finalized")
	return nil
}

// markFailed records the failure even when ctx has already expired.
func (s *FinalizeStep) markFailed(ctx context.Context, jobID uuid.UUID, msg string) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	if err := s.jobs.UpdateStatus(writeCtx, jobID, domain.JobStatusFailed, msg); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID.String()).Msg("failed to mark job failed")
	}
}

// SecondaryAnalysisStep runs the remote director-style analysis.
// It never changes the job status; its failure leaves a completed job completed.
type SecondaryAnalysisStep struct {
	remote enrichment.SecondaryAnalyzer
	logger zerolog.Logger
}

var _ orchestrator.Step = (*SecondaryAnalysisStep)(nil)

// NewSecondaryAnalysisStep creates a SecondaryAnalysisStep.
func NewSecondaryAnalysisStep(remote enrichment.SecondaryAnalyzer, logger zerolog.Logger) *SecondaryAnalysisStep {
	return &SecondaryAnalysisStep{
		remote: remote,
		logger: logger.With().Str("component", "secondary_analysis_step").Logger(),
	}
}

// Run requests the secondary analysis.
func (s *SecondaryAnalysisStep) Run(ctx context.Context, jobID uuid.UUID) error {
	if err := s.remote.SecondaryAnalysis(ctx, jobID); err != nil {
		return fmt.Errorf("secondary analysis: %w", err)
	}
	s.logger.Info().Str("job_id", jobID.String()).Msg("secondary analysis saved")
	return nil
}
