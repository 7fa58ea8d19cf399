package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/scene-enrichment-service/internal/domain"
	"github.com/helixir/scene-enrichment-service/internal/observability"
)

// Run triggers.
const (
	TriggerStart  = "start"
	TriggerResume = "resume"
)

// Resume outcomes, used as metric labels.
const (
	ResumeStarted        = "started"
	ResumeActive         = "active"
	ResumeNothingPending = "nothing_pending"
	ResumeError          = "error"
)

// PendingLister lists scenes still waiting for enrichment, ordered by scene number.
type PendingLister interface {
	ListPending(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error)
}

// ReportPublisher receives the report of every finished run.
type ReportPublisher interface {
	PublishRunReport(ctx context.Context, report *domain.RunReport) error
}

// RunRequest describes an explicit enrichment run.
type RunRequest struct {
	JobID uuid.UUID
	// SceneIDs seeds the worklist. When empty, pending scenes are listed.
	SceneIDs                 []uuid.UUID
	IncludeSecondaryAnalysis bool
	Trigger                  string
}

// Orchestrator owns the per-job single-flight lock and drives runs.
type Orchestrator struct {
	scheduler *Scheduler
	chain     *Chain
	pending   PendingLister
	publisher ReportPublisher
	logger    zerolog.Logger
	metrics   *observability.Metrics

	mu     sync.Mutex
	active map[uuid.UUID]*Run

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an Orchestrator. publisher and metrics may be nil.
func New(scheduler *Scheduler, chain *Chain, pending PendingLister, publisher ReportPublisher, logger zerolog.Logger, metrics *observability.Metrics) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		scheduler: scheduler,
		chain:     chain,
		pending:   pending,
		publisher: publisher,
		logger:    logger.With().Str("component", "orchestrator").Logger(),
		metrics:   metrics,
		active:    make(map[uuid.UUID]*Run),
		baseCtx:   ctx,
		stop:      cancel,
	}
}

// Start begins a run for req.JobID. It returns domain.ErrRunActive when the
// job already has an active run. A run with an empty worklist drains
// immediately and still runs the completion chain.
func (o *Orchestrator) Start(ctx context.Context, req RunRequest) (*Run, error) {
	if req.Trigger == "" {
		req.Trigger = TriggerStart
	}

	run, err := o.acquire(req.JobID, req.Trigger)
	if err != nil {
		return nil, err
	}

	ids := req.SceneIDs
	if len(ids) == 0 {
		ids, err = o.pending.ListPending(ctx, req.JobID)
		if err != nil {
			o.release(run)
			return nil, fmt.Errorf("list pending scenes: %w", err)
		}
	}

	o.launch(run, ids, req.IncludeSecondaryAnalysis)
	return run, nil
}

// Resume restarts enrichment of a job's pending scenes without the secondary
// analysis step. It returns (nil, nil) when a run is already active or no
// scene is pending; in both cases nothing is started.
func (o *Orchestrator) Resume(ctx context.Context, jobID uuid.UUID) (*Run, error) {
	run, err := o.acquire(jobID, TriggerResume)
	if errors.Is(err, domain.ErrRunActive) {
		o.recordResume(ResumeActive)
		o.logger.Debug().Str("job_id", jobID.String()).Msg("resume ignored, run already active")
		return nil, nil
	}
	if err != nil {
		o.recordResume(ResumeError)
		return nil, err
	}

	ids, err := o.pending.ListPending(ctx, jobID)
	if err != nil {
		o.release(run)
		o.recordResume(ResumeError)
		return nil, fmt.Errorf("list pending scenes: %w", err)
	}
	if len(ids) == 0 {
		o.release(run)
		o.recordResume(ResumeNothingPending)
		o.logger.Debug().Str("job_id", jobID.String()).Msg("resume ignored, nothing pending")
		return nil, nil
	}

	o.recordResume(ResumeStarted)
	o.launch(run, ids, false)
	return run, nil
}

// Active returns the active run of a job, if any.
func (o *Orchestrator) Active(jobID uuid.UUID) (*Run, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	run, ok := o.active[jobID]
	return run, ok
}

// Shutdown stops scheduling new waves and waits for active runs to finish.
// In-flight calls are never aborted; runs stop at their next wave boundary.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stop()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) acquire(jobID uuid.UUID, trigger string) (*Run, error) {
	if err := o.baseCtx.Err(); err != nil {
		return nil, fmt.Errorf("orchestrator stopped: %w", domain.ErrServiceUnavailable)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.active[jobID]; ok {
		return nil, domain.ErrRunActive
	}

	run := &Run{
		ID:        uuid.New(),
		JobID:     jobID,
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
		tracker:   NewTracker(),
		done:      make(chan struct{}),
	}
	o.active[jobID] = run
	return run, nil
}

func (o *Orchestrator) release(run *Run) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active[run.JobID] == run {
		delete(o.active, run.JobID)
	}
}

func (o *Orchestrator) launch(run *Run, ids []uuid.UUID, includeSecondary bool) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(run, ids, includeSecondary)
	}()
}

// execute runs the scheduler and the completion chain while holding the job
// lock. The lock is released on every exit path, including panics.
func (o *Orchestrator) execute(run *Run, ids []uuid.UUID, includeSecondary bool) {
	ctx := observability.WithRun(o.baseCtx, run.JobID.String(), run.ID.String())
	logger := observability.WithJobContext(o.logger, run.JobID.String(), run.ID.String())

	report := &domain.RunReport{
		JobID:     run.JobID,
		RunID:     run.ID,
		Trigger:   run.Trigger,
		StartedAt: run.StartedAt,
	}

	if o.metrics != nil {
		o.metrics.RecordRunStarted()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("enrichment run panicked")
			report.Failed = true
			report.Error = fmt.Sprintf("panic: %v", r)
		}
		report.FinishedAt = time.Now().UTC()
		if o.metrics != nil {
			o.metrics.RecordRunFinished(report.Outcome(), report.Duration().Seconds())
		}

		o.publish(ctx, logger, report)
		o.release(run)
		run.finish(report)
	}()

	logger.Info().
		Str("trigger", run.Trigger).
		Int("scenes", len(ids)).
		Bool("include_secondary_analysis", includeSecondary).
		Msg("enrichment run started")

	result := o.scheduler.Run(ctx, run.JobID, ids, run.observeWave)

	report.Total = result.Total
	report.Succeeded = result.Succeeded
	report.Abandoned = result.Abandoned
	report.Waves = result.Waves
	report.Delays = result.Delays
	report.Cancelled = result.Cancelled
	for _, item := range result.Items {
		if item.Status != ItemAbandoned {
			continue
		}
		abandoned := domain.AbandonedScene{
			SceneID:  item.SceneID,
			Reason:   item.Reason,
			Attempts: item.Attempts,
		}
		if item.Err != nil {
			abandoned.Error = item.Err.Error()
		}
		report.AbandonedScenes = append(report.AbandonedScenes, abandoned)
	}

	if result.Cancelled {
		logger.Warn().
			Int("succeeded", result.Succeeded).
			Int("abandoned", result.Abandoned).
			Msg("enrichment run halted, completion chain skipped")
	} else {
		// A drained run finishes its chain even when shutdown begins; each
		// step is bounded by the chain's own timeout.
		report.Chain = o.chain.Run(context.WithoutCancel(ctx), run.JobID, includeSecondary)
		logger.Info().
			Int("succeeded", result.Succeeded).
			Int("abandoned", result.Abandoned).
			Int("waves", result.Waves).
			Int("delays", result.Delays).
			Msg("enrichment run finished")
	}
}

// publish sends the report on a context detached from shutdown.
func (o *Orchestrator) publish(ctx context.Context, logger zerolog.Logger, report *domain.RunReport) {
	if o.publisher == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("run report publisher panicked")
		}
	}()

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.publisher.PublishRunReport(pubCtx, report); err != nil {
		logger.Error().Err(err).Msg("failed to publish run report")
	}
}

func (o *Orchestrator) recordResume(outcome string) {
	if o.metrics != nil {
		o.metrics.RecordResume(outcome)
	}
}

// Run is a handle on one enrichment run.
type Run struct {
	ID        uuid.UUID
	JobID     uuid.UUID
	Trigger   string
	StartedAt time.Time

	tracker   *Tracker
	succeeded atomic.Int64
	abandoned atomic.Int64
	waves     atomic.Int64

	done   chan struct{}
	report *domain.RunReport
}

// Done is closed when the run, including its completion chain, has finished
// and the job lock has been released.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) (*domain.RunReport, error) {
	select {
	case <-r.done:
		return r.report, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Progress estimates the job's progress from persisted scene counts.
func (r *Run) Progress(counts domain.SceneCounts) Snapshot {
	return r.tracker.Observe(time.Since(r.StartedAt), counts.Completed, counts.Total)
}

// Stats returns the scenes settled so far in this run.
func (r *Run) Stats() (succeeded, abandoned, waves int) {
	return int(r.succeeded.Load()), int(r.abandoned.Load()), int(r.waves.Load())
}

func (r *Run) observeWave(w WaveReport) {
	r.succeeded.Store(int64(w.TotalSucceeded))
	r.abandoned.Store(int64(w.TotalAbandoned))
	r.waves.Store(int64(w.Wave))
}

func (r *Run) finish(report *domain.RunReport) {
	r.report = report
	close(r.done)
}
