//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/scene-enrichment-service/internal/domain"
	"github.com/helixir/scene-enrichment-service/internal/enrichment"
	"github.com/helixir/scene-enrichment-service/internal/orchestrator"
	"github.com/helixir/scene-enrichment-service/internal/repository"
	"github.com/helixir/scene-enrichment-service/internal/service"
	"github.com/helixir/scene-enrichment-service/internal/steps"
)

// scriptedEnricher persists enrichment through the scene repository, failing
// scenes according to a per-scene script of errors consumed one per call.
type scriptedEnricher struct {
	scenes *repository.PgSceneRepository

	mu     sync.Mutex
	script map[uuid.UUID][]error
	calls  map[uuid.UUID]int
}

func (e *scriptedEnricher) Enrich(ctx context.Context, sceneID, jobID uuid.UUID) error {
	e.mu.Lock()
	e.calls[sceneID]++
	var err error
	if queue := e.script[sceneID]; len(queue) > 0 {
		err = queue[0]
		if len(queue) > 1 {
			e.script[sceneID] = queue[1:]
		}
	}
	e.mu.Unlock()

	if err != nil {
		return err
	}
	return e.scenes.MarkEnriched(ctx, sceneID, json.RawMessage(`{"summary":"ok"}`))
}

func (e *scriptedEnricher) callCount(id uuid.UUID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[id]
}

type flow struct {
	jobs     *repository.PgJobRepository
	scenes   *repository.PgSceneRepository
	enricher *scriptedEnricher
	orch     *orchestrator.Orchestrator
	svc      *service.EnrichmentService
}

func newFlow(t *testing.T, script map[uuid.UUID][]error) *flow {
	t.Helper()

	jobs := repository.NewPgJobRepository(testPool)
	scenes := repository.NewPgSceneRepository(testPool)
	enricher := &scriptedEnricher{scenes: scenes, script: script, calls: make(map[uuid.UUID]int)}

	logger := zerolog.Nop()
	scheduler := orchestrator.NewScheduler(enricher, orchestrator.SchedulerConfig{
		Concurrency: 2,
		MaxAttempts: 3,
		RetryDelay:  10 * time.Millisecond,
		CancelCheck: func(ctx context.Context, jobID uuid.UUID) bool {
			halted, err := jobs.IsHalted(ctx, jobID)
			return err == nil && halted
		},
	}, logger, nil)
	chain := orchestrator.NewChain(steps.NewFinalizeStep(nil, jobs, logger), nil, time.Second, logger, nil)
	orch := orchestrator.New(scheduler, chain, scenes, nil, logger, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	return &flow{
		jobs:     jobs,
		scenes:   scenes,
		enricher: enricher,
		orch:     orch,
		svc:      service.NewEnrichmentService(jobs, scenes, orch, logger),
	}
}

func waitRun(t *testing.T, run *orchestrator.Run) *domain.RunReport {
	t.Helper()
	require.NotNil(t, run)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	report, err := run.Wait(ctx)
	require.NoError(t, err)
	return report
}

func TestEnrichmentFlow_RetriesAndCompletes(t *testing.T) {
	cleanTable(t, "scenes", "enrichment_jobs")
	ctx := context.Background()

	job, ids := seedJob(t, domain.JobStatusPending, 5)

	f := newFlow(t, map[uuid.UUID][]error{
		// Recovers on the second attempt.
		ids[1]: {&enrichment.APIError{StatusCode: 429, Message: "rate limit exceeded"}, nil},
		// Rejected outright.
		ids[3]: {&enrichment.APIError{StatusCode: 400, Message: "scene text is empty"}},
		// Never recovers.
		ids[4]: {&enrichment.APIError{StatusCode: 503, Message: "model overloaded"}},
	})

	run, err := f.svc.Start(ctx, job.ID, false)
	require.NoError(t, err)
	report := waitRun(t, run)

	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 2, report.Abandoned)
	assert.Equal(t, 1, f.enricher.callCount(ids[3]))
	assert.Equal(t, 3, f.enricher.callCount(ids[4]))

	reasons := map[uuid.UUID]string{}
	for _, a := range report.AbandonedScenes {
		reasons[a.SceneID] = a.Reason
	}
	assert.Equal(t, orchestrator.ReasonTerminal, reasons[ids[3]])
	assert.Equal(t, orchestrator.ReasonExhausted, reasons[ids[4]])

	counts, err := f.scenes.Counts(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SceneCounts{Total: 5, Completed: 3}, counts)

	got, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)

	// Resuming later enriches only what is left.
	require.NoError(t, f.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusEnriching, ""))
	f.enricher.mu.Lock()
	f.enricher.script = map[uuid.UUID][]error{}
	f.enricher.mu.Unlock()

	run, err = f.svc.Resume(ctx, job.ID)
	require.NoError(t, err)
	report = waitRun(t, run)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Succeeded)

	counts, err = f.scenes.Counts(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SceneCounts{Total: 5, Completed: 5}, counts)
}

func TestEnrichmentFlow_ResumeWithNothingPending(t *testing.T) {
	cleanTable(t, "scenes", "enrichment_jobs")
	ctx := context.Background()

	job, _ := seedJob(t, domain.JobStatusCompleted, 0)
	f := newFlow(t, nil)

	run, err := f.svc.Resume(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, run)

	_, active := f.orch.Active(job.ID)
	assert.False(t, active)
}

func TestEnrichmentFlow_RecoversInterruptedJobs(t *testing.T) {
	cleanTable(t, "scenes", "enrichment_jobs")
	ctx := context.Background()

	partial, _ := seedJob(t, domain.JobStatusEnriching, 3)
	finalizing, finalizingIDs := seedJob(t, domain.JobStatusFinalizing, 2)
	for _, id := range finalizingIDs {
		require.NoError(t, repository.NewPgSceneRepository(testPool).MarkEnriched(ctx, id, nil))
	}

	f := newFlow(t, nil)

	resumed, err := f.svc.ResumeInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, resumed)

	require.Eventually(t, func() bool {
		_, a := f.orch.Active(partial.ID)
		_, b := f.orch.Active(finalizing.ID)
		return !a && !b
	}, 10*time.Second, 10*time.Millisecond)

	for _, id := range []uuid.UUID{partial.ID, finalizing.ID} {
		got, err := f.jobs.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, got.Status)

		counts, err := f.scenes.Counts(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, counts.Pending())
	}
}

func TestEnrichmentFlow_CancelStopsBetweenWaves(t *testing.T) {
	cleanTable(t, "scenes", "enrichment_jobs")
	ctx := context.Background()

	job, ids := seedJob(t, domain.JobStatusPending, 6)

	// Every call in the first wave fails retryably, so the run pauses
	// before its second wave and sees the cancellation.
	script := map[uuid.UUID][]error{}
	for _, id := range ids {
		script[id] = []error{&enrichment.APIError{StatusCode: 503, Message: "unavailable"}}
	}
	f := newFlow(t, script)

	run, err := f.svc.Start(ctx, job.ID, false)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, job.ID, "test")
	require.NoError(t, err)

	report := waitRun(t, run)
	assert.True(t, report.Cancelled)
	assert.Less(t, report.Succeeded, report.Total)

	got, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)
}
