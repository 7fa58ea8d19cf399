//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/scene-enrichment-service/internal/domain"
	"github.com/helixir/scene-enrichment-service/internal/repository"
)

// seedJob creates a job with n scenes numbered 1..n and returns the scene IDs in order.
func seedJob(t *testing.T, status domain.JobStatus, n int) (*domain.EnrichmentJob, []uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	jobs := repository.NewPgJobRepository(testPool)
	scenes := repository.NewPgSceneRepository(testPool)

	job := &domain.EnrichmentJob{ID: uuid.New(), ScriptTitle: "The Long Take", Status: status}
	require.NoError(t, jobs.Create(ctx, job))

	ids := make([]uuid.UUID, n)
	// Insert in reverse so ordering comes from scene_number, not insertion.
	for i := n; i >= 1; i-- {
		scene := &domain.Scene{
			ID:          uuid.New(),
			JobID:       job.ID,
			SceneNumber: i,
			Heading:     "INT. STUDIO - NIGHT",
			Content:     "A lamp flickers.",
		}
		require.NoError(t, scenes.Create(ctx, scene))
		ids[i-1] = scene.ID
	}
	return job, ids
}

func TestJobRepository_Lifecycle(t *testing.T) {
	cleanTable(t, "scenes", "enrichment_jobs")
	ctx := context.Background()
	jobs := repository.NewPgJobRepository(testPool)

	job, _ := seedJob(t, domain.JobStatusPending, 0)

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Nil(t, got.StartedAt)

	require.NoError(t, jobs.UpdateStatus(ctx, job.ID, domain.JobStatusEnriching, ""))
	got, err = jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.StartedAt)
	startedAt := *got.StartedAt

	// Re-entering enriching keeps the original start time.
	require.NoError(t, jobs.UpdateStatus(ctx, job.ID, domain.JobStatusEnriching, ""))
	got, err = jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, startedAt.Equal(*got.StartedAt))

	enriching, err := jobs.ListByStatus(ctx, domain.JobStatusEnriching)
	require.NoError(t, err)
	require.Len(t, enriching, 1)
	assert.Equal(t, job.ID, enriching[0].ID)

	halted, err := jobs.IsHalted(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, halted)

	require.NoError(t, jobs.UpdateStatus(ctx, job.ID, domain.JobStatusFailed, "finalize: HTTP 500"))
	got, err = jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "finalize: HTTP 500", got.ErrorMessage)
	assert.NotNil(t, got.CompletedAt)

	halted, err = jobs.IsHalted(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, halted)

	err = jobs.UpdateStatus(ctx, job.ID, domain.JobStatusCompleted, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	err = jobs.UpdateStatus(ctx, uuid.New(), domain.JobStatusEnriching, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSceneRepository_PendingAndCounts(t *testing.T) {
	cleanTable(t, "scenes", "enrichment_jobs")
	ctx := context.Background()
	scenes := repository.NewPgSceneRepository(testPool)

	job, ids := seedJob(t, domain.JobStatusEnriching, 4)

	pending, err := scenes.ListPending(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ids, pending)

	payload := json.RawMessage(`{"summary":"A lamp flickers."}`)
	require.NoError(t, scenes.MarkEnriched(ctx, ids[1], payload))

	pending, err = scenes.ListPending(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{ids[0], ids[2], ids[3]}, pending)

	counts, err := scenes.Counts(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SceneCounts{Total: 4, Completed: 1}, counts)

	scene, err := scenes.Get(ctx, ids[1])
	require.NoError(t, err)
	assert.True(t, scene.Enriched)
	assert.JSONEq(t, string(payload), string(scene.Enrichment))
	assert.NotNil(t, scene.EnrichedAt)

	// A second write never overwrites the first.
	require.NoError(t, scenes.MarkEnriched(ctx, ids[1], json.RawMessage(`{"summary":"other"}`)))
	scene, err = scenes.Get(ctx, ids[1])
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(scene.Enrichment))

	err = scenes.MarkEnriched(ctx, uuid.New(), payload)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSceneRepository_ConcurrentMarkEnriched(t *testing.T) {
	cleanTable(t, "scenes", "enrichment_jobs")
	ctx := context.Background()
	scenes := repository.NewPgSceneRepository(testPool)

	job, ids := seedJob(t, domain.JobStatusEnriching, 10)

	var wg sync.WaitGroup
	for _, id := range ids {
		for range 3 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, scenes.MarkEnriched(ctx, id, nil))
			}()
		}
	}
	wg.Wait()

	counts, err := scenes.Counts(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SceneCounts{Total: 10, Completed: 10}, counts)
}

func TestSceneRepository_ResetEnrichment(t *testing.T) {
	cleanTable(t, "scenes", "enrichment_jobs")
	ctx := context.Background()
	scenes := repository.NewPgSceneRepository(testPool)

	job, ids := seedJob(t, domain.JobStatusCompleted, 3)
	for _, id := range ids[:2] {
		require.NoError(t, scenes.MarkEnriched(ctx, id, json.RawMessage(`{}`)))
	}

	reset, err := scenes.ResetEnrichment(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reset)

	pending, err := scenes.ListPending(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ids, pending)
}
