package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/scene-enrichment-service/internal/domain"
	"github.com/helixir/scene-enrichment-service/internal/observability"
)

// Completion chain step names.
const (
	StepFinalize          = "finalize"
	StepSecondaryAnalysis = "secondary_analysis"
)

// Chain step statuses.
const (
	StepStatusSucceeded = "succeeded"
	StepStatusFailed    = "failed"
	StepStatusSkipped   = "skipped"
)

// DefaultChainStepTimeout bounds a single chain step.
const DefaultChainStepTimeout = 5 * time.Minute

// Step is one completion chain step.
type Step interface {
	Run(ctx context.Context, jobID uuid.UUID) error
}

// StepFunc adapts a function to Step.
type StepFunc func(ctx context.Context, jobID uuid.UUID) error

// Run calls f.
func (f StepFunc) Run(ctx context.Context, jobID uuid.UUID) error {
	return f(ctx, jobID)
}

// Chain runs the finishing steps of a drained run.
type Chain struct {
	finalize  Step
	secondary Step
	timeout   time.Duration
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// NewChain creates a Chain. A nil step is reported as skipped.
func NewChain(finalize, secondary Step, timeout time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *Chain {
	if timeout <= 0 {
		timeout = DefaultChainStepTimeout
	}
	return &Chain{
		finalize:  finalize,
		secondary: secondary,
		timeout:   timeout,
		logger:    logger.With().Str("component", "completion_chain").Logger(),
		metrics:   metrics,
	}
}

// Run attempts Finalize, then Secondary Analysis if includeSecondary is set.
// Step failures are logged and reported but never stop the chain.
func (c *Chain) Run(ctx context.Context, jobID uuid.UUID, includeSecondary bool) []domain.ChainStepOutcome {
	outcomes := make([]domain.ChainStepOutcome, 0, 2)

	outcomes = append(outcomes, c.runStep(ctx, jobID, StepFinalize, c.finalize))

	if includeSecondary {
		outcomes = append(outcomes, c.runStep(ctx, jobID, StepSecondaryAnalysis, c.secondary))
	} else {
		outcomes = append(outcomes, c.record(jobID, StepSecondaryAnalysis, StepStatusSkipped, nil))
	}

	return outcomes
}

// runStep runs step under the step timeout. A step that ignores its context
// is abandoned when the timeout fires so the caller can release its lock.
func (c *Chain) runStep(ctx context.Context, jobID uuid.UUID, name string, step Step) domain.ChainStepOutcome {
	if step == nil {
		return c.record(jobID, name, StepStatusSkipped, nil)
	}

	stepCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- step.Run(stepCtx, jobID)
	}()

	var err error
	select {
	case err = <-done:
	case <-stepCtx.Done():
		err = stepCtx.Err()
	}

	if err != nil {
		return c.record(jobID, name, StepStatusFailed, &ChainStepError{Step: name, Err: err})
	}
	return c.record(jobID, name, StepStatusSucceeded, nil)
}

func (c *Chain) record(jobID uuid.UUID, name, status string, err error) domain.ChainStepOutcome {
	if c.metrics != nil {
		c.metrics.RecordChainStep(name, status)
	}

	outcome := domain.ChainStepOutcome{Step: name, Status: status}
	if err != nil {
		outcome.Error = err.Error()

		evt := c.logger.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			evt = c.logger.Error().Dur("timeout", c.timeout)
		}
		evt.Err(err).Str("job_id", jobID.String()).Str("step", name).Msg("completion step failed")
		return outcome
	}

	c.logger.Info().Str("job_id", jobID.String()).Str("step", name).Str("status", status).Msg("completion step finished")
	return outcome
}
