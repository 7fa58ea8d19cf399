package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/scene-enrichment-service/internal/domain"
	"github.com/helixir/scene-enrichment-service/internal/orchestrator"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockJobRepo struct {
	jobs      map[uuid.UUID]*domain.EnrichmentJob
	updates   []domain.JobStatus
	updateErr error
	listErr   error
}

func newMockJobRepo(jobs ...*domain.EnrichmentJob) *mockJobRepo {
	m := &mockJobRepo{jobs: make(map[uuid.UUID]*domain.EnrichmentJob)}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *mockJobRepo) Create(ctx context.Context, job *domain.EnrichmentJob) error {
	m.jobs[job.ID] = job
	return nil
}

func (m *mockJobRepo) Get(ctx context.Context, id uuid.UUID) (*domain.EnrichmentJob, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.NewNotFoundError("enrichment_job", id.String())
	}
	cp := *job
	return &cp, nil
}

func (m *mockJobRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, errorMsg string) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	job, ok := m.jobs[id]
	if !ok {
		return domain.NewNotFoundError("enrichment_job", id.String())
	}
	if !job.Status.CanTransitionTo(status) {
		return domain.NewTransitionError(job.Status, status)
	}
	job.Status = status
	m.updates = append(m.updates, status)
	return nil
}

func (m *mockJobRepo) ListByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.EnrichmentJob, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*domain.EnrichmentJob
	for _, j := range m.jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *mockJobRepo) IsHalted(ctx context.Context, id uuid.UUID) (bool, error) {
	job, ok := m.jobs[id]
	if !ok {
		return false, domain.NewNotFoundError("enrichment_job", id.String())
	}
	return job.Status.IsHalted(), nil
}

type mockSceneRepo struct {
	counts   map[uuid.UUID]domain.SceneCounts
	resetN   int64
	resetHit int
}

func (m *mockSceneRepo) Create(ctx context.Context, scene *domain.Scene) error { return nil }

func (m *mockSceneRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Scene, error) {
	return nil, domain.NewNotFoundError("scene", id.String())
}

func (m *mockSceneRepo) ListPending(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (m *mockSceneRepo) Counts(ctx context.Context, jobID uuid.UUID) (domain.SceneCounts, error) {
	return m.counts[jobID], nil
}

func (m *mockSceneRepo) MarkEnriched(ctx context.Context, id uuid.UUID, payload json.RawMessage) error {
	return nil
}

func (m *mockSceneRepo) ResetEnrichment(ctx context.Context, jobID uuid.UUID) (int64, error) {
	m.resetHit++
	return m.resetN, nil
}

type mockRunner struct {
	active   map[uuid.UUID]*orchestrator.Run
	started  []orchestrator.RunRequest
	resumed  []uuid.UUID
	startErr error
}

func newMockRunner() *mockRunner {
	return &mockRunner{active: make(map[uuid.UUID]*orchestrator.Run)}
}

func (m *mockRunner) Start(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.Run, error) {
	if m.startErr != nil {
		return nil, m.startErr
	}
	m.started = append(m.started, req)
	return &orchestrator.Run{ID: uuid.New(), JobID: req.JobID, Trigger: req.Trigger}, nil
}

func (m *mockRunner) Resume(ctx context.Context, jobID uuid.UUID) (*orchestrator.Run, error) {
	m.resumed = append(m.resumed, jobID)
	return &orchestrator.Run{ID: uuid.New(), JobID: jobID, Trigger: orchestrator.TriggerResume}, nil
}

func (m *mockRunner) Active(jobID uuid.UUID) (*orchestrator.Run, bool) {
	run, ok := m.active[jobID]
	return run, ok
}

func newJob(status domain.JobStatus) *domain.EnrichmentJob {
	return &domain.EnrichmentJob{ID: uuid.New(), ScriptTitle: "The Lighthouse", Status: status}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestEnrichmentService_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("marks job enriching and starts a run", func(t *testing.T) {
		job := newJob(domain.JobStatusPending)
		jobs := newMockJobRepo(job)
		runner := newMockRunner()
		svc := NewEnrichmentService(jobs, &mockSceneRepo{}, runner, zerolog.Nop())

		run, err := svc.Start(ctx, job.ID, true)
		require.NoError(t, err)
		require.NotNil(t, run)

		assert.Equal(t, []domain.JobStatus{domain.JobStatusEnriching}, jobs.updates)
		require.Len(t, runner.started, 1)
		assert.True(t, runner.started[0].IncludeSecondaryAnalysis)
		assert.Equal(t, orchestrator.TriggerStart, runner.started[0].Trigger)
	})

	t.Run("job flag requests secondary analysis", func(t *testing.T) {
		job := newJob(domain.JobStatusCompleted)
		job.IncludeSecondaryAnalysis = true
		runner := newMockRunner()
		svc := NewEnrichmentService(newMockJobRepo(job), &mockSceneRepo{}, runner, zerolog.Nop())

		_, err := svc.Start(ctx, job.ID, false)
		require.NoError(t, err)
		assert.True(t, runner.started[0].IncludeSecondaryAnalysis)
	})

	t.Run("active run is rejected before any status change", func(t *testing.T) {
		job := newJob(domain.JobStatusEnriching)
		jobs := newMockJobRepo(job)
		runner := newMockRunner()
		runner.active[job.ID] = &orchestrator.Run{}
		svc := NewEnrichmentService(jobs, &mockSceneRepo{}, runner, zerolog.Nop())

		_, err := svc.Start(ctx, job.ID, false)
		assert.ErrorIs(t, err, domain.ErrRunActive)
		assert.Empty(t, jobs.updates)
	})

	t.Run("unknown job", func(t *testing.T) {
		svc := NewEnrichmentService(newMockJobRepo(), &mockSceneRepo{}, newMockRunner(), zerolog.Nop())
		_, err := svc.Start(ctx, uuid.New(), false)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("unknown status is rejected", func(t *testing.T) {
		job := newJob(domain.JobStatus("paused"))
		svc := NewEnrichmentService(newMockJobRepo(job), &mockSceneRepo{}, newMockRunner(), zerolog.Nop())

		_, err := svc.Start(ctx, job.ID, false)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestEnrichmentService_Resume(t *testing.T) {
	ctx := context.Background()

	t.Run("pending scenes resume through the guard", func(t *testing.T) {
		job := newJob(domain.JobStatusFailed)
		jobs := newMockJobRepo(job)
		scenes := &mockSceneRepo{counts: map[uuid.UUID]domain.SceneCounts{job.ID: {Total: 10, Completed: 4}}}
		runner := newMockRunner()
		svc := NewEnrichmentService(jobs, scenes, runner, zerolog.Nop())

		run, err := svc.Resume(ctx, job.ID)
		require.NoError(t, err)
		require.NotNil(t, run)
		assert.Equal(t, []uuid.UUID{job.ID}, runner.resumed)
		assert.Equal(t, []domain.JobStatus{domain.JobStatusEnriching}, jobs.updates)
	})

	t.Run("active run makes resume a no-op", func(t *testing.T) {
		job := newJob(domain.JobStatusEnriching)
		runner := newMockRunner()
		runner.active[job.ID] = &orchestrator.Run{}
		svc := NewEnrichmentService(newMockJobRepo(job), &mockSceneRepo{}, runner, zerolog.Nop())

		run, err := svc.Resume(ctx, job.ID)
		assert.NoError(t, err)
		assert.Nil(t, run)
		assert.Empty(t, runner.resumed)
	})

	t.Run("settled job with nothing pending is left alone", func(t *testing.T) {
		job := newJob(domain.JobStatusCompleted)
		jobs := newMockJobRepo(job)
		scenes := &mockSceneRepo{counts: map[uuid.UUID]domain.SceneCounts{job.ID: {Total: 5, Completed: 5}}}
		runner := newMockRunner()
		svc := NewEnrichmentService(jobs, scenes, runner, zerolog.Nop())

		run, err := svc.Resume(ctx, job.ID)
		assert.NoError(t, err)
		assert.Nil(t, run)
		assert.Empty(t, runner.resumed)
		assert.Empty(t, runner.started)
		assert.Empty(t, jobs.updates)
	})

	t.Run("interrupted chain is replayed", func(t *testing.T) {
		job := newJob(domain.JobStatusFinalizing)
		jobs := newMockJobRepo(job)
		scenes := &mockSceneRepo{counts: map[uuid.UUID]domain.SceneCounts{job.ID: {Total: 5, Completed: 5}}}
		runner := newMockRunner()
		svc := NewEnrichmentService(jobs, scenes, runner, zerolog.Nop())

		run, err := svc.Resume(ctx, job.ID)
		require.NoError(t, err)
		require.NotNil(t, run)
		require.Len(t, runner.started, 1)
		assert.Equal(t, TriggerRecover, runner.started[0].Trigger)
		assert.False(t, runner.started[0].IncludeSecondaryAnalysis)
		assert.Empty(t, runner.started[0].SceneIDs)
	})
}

func TestEnrichmentService_ResumeInterrupted(t *testing.T) {
	ctx := context.Background()

	enriching := newJob(domain.JobStatusEnriching)
	finalizing := newJob(domain.JobStatusFinalizing)
	done := newJob(domain.JobStatusCompleted)
	jobs := newMockJobRepo(enriching, finalizing, done)
	scenes := &mockSceneRepo{counts: map[uuid.UUID]domain.SceneCounts{
		enriching.ID:  {Total: 8, Completed: 2},
		finalizing.ID: {Total: 3, Completed: 3},
		done.ID:       {Total: 4, Completed: 1},
	}}
	runner := newMockRunner()
	svc := NewEnrichmentService(jobs, scenes, runner, zerolog.Nop())

	resumed, err := svc.ResumeInterrupted(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, resumed)
	assert.Equal(t, []uuid.UUID{enriching.ID}, runner.resumed)
	require.Len(t, runner.started, 1)
	assert.Equal(t, finalizing.ID, runner.started[0].JobID)

	t.Run("list failure is returned", func(t *testing.T) {
		jobs := newMockJobRepo()
		jobs.listErr = errors.New("db down")
		svc := NewEnrichmentService(jobs, &mockSceneRepo{}, newMockRunner(), zerolog.Nop())

		_, err := svc.ResumeInterrupted(ctx)
		assert.ErrorContains(t, err, "db down")
	})
}

func TestEnrichmentService_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("marks enriching job cancelled", func(t *testing.T) {
		job := newJob(domain.JobStatusEnriching)
		svc := NewEnrichmentService(newMockJobRepo(job), &mockSceneRepo{}, newMockRunner(), zerolog.Nop())

		got, err := svc.Cancel(ctx, job.ID, "user request")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCancelled, got.Status)
	})

	t.Run("completed job cannot be cancelled", func(t *testing.T) {
		job := newJob(domain.JobStatusCompleted)
		svc := NewEnrichmentService(newMockJobRepo(job), &mockSceneRepo{}, newMockRunner(), zerolog.Nop())

		_, err := svc.Cancel(ctx, job.ID, "user request")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestEnrichmentService_Reset(t *testing.T) {
	ctx := context.Background()

	t.Run("settled job is reset to pending", func(t *testing.T) {
		job := newJob(domain.JobStatusCompleted)
		jobs := newMockJobRepo(job)
		scenes := &mockSceneRepo{resetN: 12}
		svc := NewEnrichmentService(jobs, scenes, newMockRunner(), zerolog.Nop())

		n, err := svc.Reset(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(12), n)
		assert.Equal(t, []domain.JobStatus{domain.JobStatusPending}, jobs.updates)
	})

	t.Run("pending job keeps its status", func(t *testing.T) {
		job := newJob(domain.JobStatusPending)
		jobs := newMockJobRepo(job)
		scenes := &mockSceneRepo{}
		svc := NewEnrichmentService(jobs, scenes, newMockRunner(), zerolog.Nop())

		_, err := svc.Reset(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, scenes.resetHit)
		assert.Empty(t, jobs.updates)
	})

	t.Run("enriching job is refused", func(t *testing.T) {
		job := newJob(domain.JobStatusEnriching)
		scenes := &mockSceneRepo{}
		svc := NewEnrichmentService(newMockJobRepo(job), scenes, newMockRunner(), zerolog.Nop())

		_, err := svc.Reset(ctx, job.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		assert.Equal(t, 0, scenes.resetHit)
	})

	t.Run("active run is refused", func(t *testing.T) {
		job := newJob(domain.JobStatusCancelled)
		runner := newMockRunner()
		runner.active[job.ID] = &orchestrator.Run{}
		svc := NewEnrichmentService(newMockJobRepo(job), &mockSceneRepo{}, runner, zerolog.Nop())

		_, err := svc.Reset(ctx, job.ID)
		assert.ErrorIs(t, err, domain.ErrRunActive)
	})
}

func TestEnrichmentService_Progress(t *testing.T) {
	ctx := context.Background()

	t.Run("idle job uses counts", func(t *testing.T) {
		started := time.Now().Add(-time.Minute)
		job := newJob(domain.JobStatusCompleted)
		job.StartedAt = &started
		scenes := &mockSceneRepo{counts: map[uuid.UUID]domain.SceneCounts{job.ID: {Total: 10, Completed: 10}}}
		svc := NewEnrichmentService(newMockJobRepo(job), scenes, newMockRunner(), zerolog.Nop())

		p, err := svc.Progress(ctx, job.ID)
		require.NoError(t, err)
		assert.False(t, p.RunActive)
		assert.Equal(t, 100, p.Snapshot.Percent)
		assert.Equal(t, orchestrator.PhaseCount, p.Snapshot.Phase)
		assert.Equal(t, domain.JobStatusCompleted, p.Status)
	})

	t.Run("idle job that never started", func(t *testing.T) {
		job := newJob(domain.JobStatusPending)
		scenes := &mockSceneRepo{counts: map[uuid.UUID]domain.SceneCounts{job.ID: {Total: 10, Completed: 0}}}
		svc := NewEnrichmentService(newMockJobRepo(job), scenes, newMockRunner(), zerolog.Nop())

		p, err := svc.Progress(ctx, job.ID)
		require.NoError(t, err)
		assert.False(t, p.RunActive)
		assert.Equal(t, 0, p.Snapshot.Percent)
		assert.Equal(t, orchestrator.PhaseTime, p.Snapshot.Phase)
	})

	t.Run("idle job with nothing completed stays in the time phase", func(t *testing.T) {
		started := time.Now().Add(-time.Minute)
		job := newJob(domain.JobStatusFailed)
		job.StartedAt = &started
		scenes := &mockSceneRepo{counts: map[uuid.UUID]domain.SceneCounts{job.ID: {Total: 10, Completed: 0}}}
		svc := NewEnrichmentService(newMockJobRepo(job), scenes, newMockRunner(), zerolog.Nop())

		p, err := svc.Progress(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, orchestrator.PhaseTime, p.Snapshot.Phase)
		assert.Equal(t, 29, p.Snapshot.Percent)
		assert.False(t, p.Snapshot.HasRemaining)
	})

	t.Run("active run reports through its tracker", func(t *testing.T) {
		job := newJob(domain.JobStatusEnriching)
		scenes := &mockSceneRepo{counts: map[uuid.UUID]domain.SceneCounts{job.ID: {Total: 10, Completed: 0}}}

		release := make(chan struct{})
		orch := newBlockingOrchestrator(release, []uuid.UUID{uuid.New()})
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = orch.Shutdown(ctx)
		}()
		defer close(release)

		run, err := orch.Start(ctx, orchestrator.RunRequest{JobID: job.ID})
		require.NoError(t, err)

		svc := NewEnrichmentService(newMockJobRepo(job), scenes, orch, zerolog.Nop())
		p, err := svc.Progress(ctx, job.ID)
		require.NoError(t, err)

		assert.True(t, p.RunActive)
		assert.Equal(t, run.ID, p.RunID)
		assert.Equal(t, orchestrator.PhaseTime, p.Snapshot.Phase)
		assert.Less(t, p.Snapshot.Percent, 30)
	})

	t.Run("unknown job", func(t *testing.T) {
		svc := NewEnrichmentService(newMockJobRepo(), &mockSceneRepo{}, newMockRunner(), zerolog.Nop())
		_, err := svc.Progress(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

type blockingEnricher struct {
	release <-chan struct{}
}

func (b blockingEnricher) Enrich(ctx context.Context, sceneID, jobID uuid.UUID) error {
	<-b.release
	return nil
}

type staticPending []uuid.UUID

func (p staticPending) ListPending(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error) {
	return p, nil
}

func newBlockingOrchestrator(release <-chan struct{}, pending []uuid.UUID) *orchestrator.Orchestrator {
	sched := orchestrator.NewScheduler(blockingEnricher{release: release}, orchestrator.SchedulerConfig{}, zerolog.Nop(), nil)
	chain := orchestrator.NewChain(nil, nil, time.Second, zerolog.Nop(), nil)
	return orchestrator.New(sched, chain, staticPending(pending), nil, zerolog.Nop(), nil)
}
