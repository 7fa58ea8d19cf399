package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/scene-enrichment-service/internal/domain"
	"github.com/helixir/scene-enrichment-service/internal/enrichment"
	"github.com/helixir/scene-enrichment-service/internal/observability"
)

// Defaults for SchedulerConfig.
const (
	DefaultConcurrency = 5
	DefaultRetryDelay  = 3 * time.Second
)

// Abandonment reasons.
const (
	ReasonTerminal  = "terminal"
	ReasonExhausted = "exhausted"
	ReasonCancelled = "cancelled"
)

// ItemStatus is the final state of a scene within a run.
type ItemStatus string

const (
	ItemSucceeded ItemStatus = "succeeded"
	ItemAbandoned ItemStatus = "abandoned"
)

// ItemOutcome is the settled result of one scene.
type ItemOutcome struct {
	SceneID  uuid.UUID
	Status   ItemStatus
	Attempts int
	Reason   string
	Err      error
}

// WaveReport is passed to the OnWave callback after each settled wave.
type WaveReport struct {
	Wave      int
	Size      int
	Succeeded int
	Retried   int
	Abandoned int

	// Running totals for the run.
	TotalSucceeded int
	TotalAbandoned int
	Remaining      int
}

// RunResult is the outcome of one scheduler run.
type RunResult struct {
	Items     []ItemOutcome
	Total     int
	Succeeded int
	Abandoned int
	Waves     int
	Delays    int
	Cancelled bool
}

// CancelCheck reports whether a job has been halted externally.
type CancelCheck func(ctx context.Context, jobID uuid.UUID) bool

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Concurrency is the wave size.
	Concurrency int
	// MaxAttempts caps enrichment calls per scene.
	MaxAttempts int
	// RetryDelay is paid before a wave that follows re-admitted failures.
	RetryDelay time.Duration
	// Classifier decides retryability. Defaults to IsRetryable.
	Classifier Classifier
	// CancelCheck is consulted before every wave. Optional.
	CancelCheck CancelCheck
}

// Scheduler runs enrichment worklists in concurrency-bounded waves.
type Scheduler struct {
	enricher enrichment.Enricher
	cfg      SchedulerConfig
	logger   zerolog.Logger
	metrics  *observability.Metrics

	sleep func(ctx context.Context, d time.Duration)
}

// NewScheduler creates a Scheduler. metrics may be nil.
func NewScheduler(enricher enrichment.Enricher, cfg SchedulerConfig, logger zerolog.Logger, metrics *observability.Metrics) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.Classifier == nil {
		cfg.Classifier = IsRetryable
	}

	return &Scheduler{
		enricher: enricher,
		cfg:      cfg,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		metrics:  metrics,
		sleep:    sleepContext,
	}
}

// Run processes ids until every scene has succeeded or been abandoned.
// Duplicate ids are collapsed. onWave may be nil.
//
// ctx is consulted only between waves: once a wave has been dispatched its
// calls run to completion even if ctx is cancelled meanwhile.
func (s *Scheduler) Run(ctx context.Context, jobID uuid.UUID, ids []uuid.UUID, onWave func(WaveReport)) *RunResult {
	callCtx := context.WithoutCancel(ctx)
	remaining := dedupe(ids)
	queue := NewRetryQueue(s.cfg.MaxAttempts)
	result := &RunResult{
		Items: make([]ItemOutcome, 0, len(remaining)),
		Total: len(remaining),
	}

	for len(remaining) > 0 {
		if s.halted(ctx, jobID) {
			for _, id := range remaining {
				s.abandon(result, ItemOutcome{
					SceneID:  id,
					Attempts: queue.Attempts(id),
					Reason:   ReasonCancelled,
					Err:      domain.ErrRunCancelled,
				})
			}
			result.Cancelled = true
			s.logger.Warn().
				Str("job_id", jobID.String()).
				Int("abandoned", len(remaining)).
				Msg("job halted, no further waves")
			break
		}

		n := min(s.cfg.Concurrency, len(remaining))
		wave := make([]uuid.UUID, n)
		copy(wave, remaining[:n])
		remaining = remaining[n:]

		attempts := make([]int, n)
		errs := make([]error, n)

		var g errgroup.Group
		for i, id := range wave {
			attempts[i] = queue.Begin(id)
			g.Go(func() error {
				errs[i] = s.enrich(callCtx, id, jobID)
				return nil
			})
		}
		_ = g.Wait()

		result.Waves++
		report := WaveReport{Wave: result.Waves, Size: n}

		for i, id := range wave {
			err := errs[i]
			logger := observability.WithSceneContext(s.logger, id.String(), attempts[i]).
				With().Str("job_id", jobID.String()).Logger()

			switch {
			case err == nil:
				s.recordAttempt("success")
				result.Items = append(result.Items, ItemOutcome{SceneID: id, Status: ItemSucceeded, Attempts: attempts[i]})
				result.Succeeded++
				report.Succeeded++
				if s.metrics != nil {
					s.metrics.RecordSceneSucceeded()
				}

			case !s.cfg.Classifier(err):
				s.recordAttempt("terminal")
				logger.Error().Err(err).Str("outcome", ReasonTerminal).Msg("scene enrichment failed")
				s.abandon(result, ItemOutcome{
					SceneID:  id,
					Attempts: attempts[i],
					Reason:   ReasonTerminal,
					Err:      &TerminalRemoteError{Attempt: attempts[i], Err: err},
				})
				report.Abandoned++

			case queue.Readmit(id):
				s.recordAttempt("retry")
				logger.Warn().Err(&TransientRemoteError{Attempt: attempts[i], Err: err}).
					Str("outcome", "retry").
					Msg("scene enrichment failed, re-queued")
				remaining = append(remaining, id)
				report.Retried++

			default:
				s.recordAttempt("exhausted")
				logger.Error().Err(err).Str("outcome", ReasonExhausted).Msg("scene enrichment retries exhausted")
				s.abandon(result, ItemOutcome{
					SceneID:  id,
					Attempts: attempts[i],
					Reason:   ReasonExhausted,
					Err:      &ExhaustedRetryError{Attempts: attempts[i], Err: err},
				})
				report.Abandoned++
			}
		}

		report.TotalSucceeded = result.Succeeded
		report.TotalAbandoned = result.Abandoned
		report.Remaining = len(remaining)

		if s.metrics != nil {
			s.metrics.RecordWave(n)
		}
		s.logger.Debug().
			Str("job_id", jobID.String()).
			Int("wave", report.Wave).
			Int("size", n).
			Int("succeeded", report.Succeeded).
			Int("retried", report.Retried).
			Int("abandoned", report.Abandoned).
			Int("remaining", report.Remaining).
			Msg("wave settled")

		if onWave != nil {
			onWave(report)
		}

		if report.Retried > 0 {
			result.Delays++
			if s.metrics != nil {
				s.metrics.RecordBackoff()
			}
			s.sleep(ctx, s.cfg.RetryDelay)
		}
	}

	return result
}

// enrich calls the enricher, converting a panic into an error.
func (s *Scheduler) enrich(ctx context.Context, sceneID, jobID uuid.UUID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("enricher panic: %v", r)
		}
	}()
	return s.enricher.Enrich(ctx, sceneID, jobID)
}

func (s *Scheduler) halted(ctx context.Context, jobID uuid.UUID) bool {
	if ctx.Err() != nil {
		return true
	}
	return s.cfg.CancelCheck != nil && s.cfg.CancelCheck(ctx, jobID)
}

func (s *Scheduler) abandon(result *RunResult, outcome ItemOutcome) {
	outcome.Status = ItemAbandoned
	result.Items = append(result.Items, outcome)
	result.Abandoned++
	if s.metrics != nil {
		s.metrics.RecordSceneAbandoned(outcome.Reason)
	}
}

func (s *Scheduler) recordAttempt(result string) {
	if s.metrics != nil {
		s.metrics.RecordSceneAttempt(result)
	}
}

// dedupe returns ids without repeats, keeping first occurrences in order.
func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
