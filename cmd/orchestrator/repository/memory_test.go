package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/appforge/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func todoFiles() []models.FileChange {
	return []models.FileChange{
		{Path: "app.tsx", Content: "export default function App() {}"},
		{Path: "style.css", Content: "body { margin: 0 }"},
	}
}

func TestMemoryGenerationStore_SingleFlight(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryGenerationStore()

	first, err := store.Create(ctx, "p1", "build a todo app", nil)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationQueued, first.Status)

	_, err = store.Create(ctx, "p1", "again", nil)
	assert.ErrorIs(t, err, models.ErrConcurrentGeneration)

	// Other projects are independent
	_, err = store.Create(ctx, "p2", "other", nil)
	require.NoError(t, err)

	_, err = store.Start(ctx, first.ID)
	require.NoError(t, err)
	_, err = store.Create(ctx, "p1", "while running", nil)
	assert.ErrorIs(t, err, models.ErrConcurrentGeneration)

	_, err = store.Fail(ctx, first.ID, "boom")
	require.NoError(t, err)
	_, err = store.Create(ctx, "p1", "after failure", nil)
	assert.NoError(t, err)
}

func TestMemoryGenerationStore_SingleFlightConcurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryGenerationStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Create(ctx, "p1", "race", nil); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestMemoryGenerationStore_StartOnlyFromQueued(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryGenerationStore()

	rec, err := store.Create(ctx, "p1", "x", nil)
	require.NoError(t, err)

	started, err := store.Start(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationRunning, started.Status)
	assert.NotNil(t, started.StartedAt)

	_, err = store.Start(ctx, rec.ID)
	assert.ErrorIs(t, err, models.ErrAlreadyStarted)

	_, err = store.Start(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryGenerationStore_CompletionInvariant(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryGenerationStore()

	rec, err := store.Create(ctx, "p1", "build a todo app", nil)
	require.NoError(t, err)
	_, err = store.Start(ctx, rec.ID)
	require.NoError(t, err)

	// Completing without files is rejected
	_, err = store.Complete(ctx, rec.ID)
	assert.ErrorIs(t, err, models.ErrNoFiles)

	require.NoError(t, store.SetFileChanges(ctx, rec.ID, todoFiles()))

	// Staged files are invisible until completion
	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, got.FileChanges)
	assert.Equal(t, models.GenerationRunning, got.Status)

	done, err := store.Complete(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationCompleted, done.Status)
	assert.Len(t, done.FileChanges, 2)
	assert.Nil(t, done.Error)
	assert.NotNil(t, done.CompletedAt)

	// Terminal records are final
	_, err = store.Fail(ctx, rec.ID, "late")
	assert.ErrorIs(t, err, models.ErrRecordFinalized)
	assert.ErrorIs(t, store.SetFileChanges(ctx, rec.ID, todoFiles()), models.ErrRecordFinalized)
	_, err = store.AppendPhase(ctx, rec.ID, "late", models.PhaseRunning, "")
	assert.ErrorIs(t, err, models.ErrRecordFinalized)
}

func TestMemoryGenerationStore_FailDiscardsStagedFiles(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryGenerationStore()

	rec, err := store.Create(ctx, "p1", "x", nil)
	require.NoError(t, err)
	require.NoError(t, store.SetFileChanges(ctx, rec.ID, todoFiles()))

	failed, err := store.Fail(ctx, rec.ID, "generator exploded")
	require.NoError(t, err)
	assert.Equal(t, models.GenerationFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "generator exploded", *failed.Error)
	assert.Empty(t, failed.FileChanges)

	_, err = store.GetLatestWithFiles(ctx, "p1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryGenerationStore_SetFileChangesNormalizes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryGenerationStore()

	rec, err := store.Create(ctx, "p1", "x", nil)
	require.NoError(t, err)

	require.NoError(t, store.SetFileChanges(ctx, rec.ID, []models.FileChange{
		{Path: "/src/app.tsx", Content: "v1"},
		{Path: "src/app.tsx", Content: "v2"},
	}))
	done, err := store.Complete(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, done.FileChanges, 1)
	assert.Equal(t, "src/app.tsx", done.FileChanges[0].Path)
	assert.Equal(t, "v2", done.FileChanges[0].Content)
	assert.Equal(t, "typescriptreact", done.FileChanges[0].Language)

	assert.ErrorIs(t, store.SetFileChanges(ctx, rec.ID, nil), models.ErrNoFiles)
}

func TestMemoryGenerationStore_AppendPhase(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryGenerationStore()

	rec, err := store.Create(ctx, "p1", "x", nil)
	require.NoError(t, err)

	_, err = store.AppendPhase(ctx, rec.ID, "analyzing", models.PhaseRunning, "")
	require.NoError(t, err)
	p, err := store.AppendPhase(ctx, rec.ID, "analyzing", models.PhaseCompleted, "done")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCompleted, p.Status)
	_, err = store.AppendPhase(ctx, rec.ID, "generating", models.PhaseRunning, "")
	require.NoError(t, err)

	_, err = store.AppendPhase(ctx, rec.ID, "analyzing", models.PhaseRunning, "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, got.Phases, 2)
	assert.Equal(t, "analyzing", got.Phases[0].Name)
	assert.Equal(t, models.PhaseCompleted, got.Phases[0].Status)
	assert.Equal(t, "done", got.Phases[0].Message)
	assert.Equal(t, "generating", got.Phases[1].Name)
	assert.Equal(t, models.PhaseRunning, got.Phases[1].Status)
}

func TestMemoryGenerationStore_LatestWithFilesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryGenerationStore()

	complete := func(files []models.FileChange) uuid.UUID {
		rec, err := store.Create(ctx, "p1", "x", nil)
		require.NoError(t, err)
		require.NoError(t, store.SetFileChanges(ctx, rec.ID, files))
		_, err = store.Complete(ctx, rec.ID)
		require.NoError(t, err)
		return rec.ID
	}

	complete(todoFiles())
	latestID := complete([]models.FileChange{{Path: "index.html", Content: "<html></html>"}})

	// A newer failed generation is skipped
	failed, err := store.Create(ctx, "p1", "x", nil)
	require.NoError(t, err)
	_, err = store.Fail(ctx, failed.ID, "boom")
	require.NoError(t, err)

	first, err := store.GetLatestWithFiles(ctx, "p1")
	require.NoError(t, err)
	second, err := store.GetLatestWithFiles(ctx, "p1")
	require.NoError(t, err)

	assert.Equal(t, latestID, first.ID)
	assert.Equal(t, first, second)

	// Returned records are copies
	first.FileChanges[0].Content = "mutated"
	third, err := store.GetLatestWithFiles(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", third.FileChanges[0].Content)
}

func TestMemoryGenerationStore_ListByProjectAndStale(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryGenerationStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		rec, err := store.Create(ctx, "p1", "x", nil)
		require.NoError(t, err)
		ids = append(ids, rec.ID)
		if i < 2 {
			_, err = store.Fail(ctx, rec.ID, "boom")
			require.NoError(t, err)
		}
	}
	_, err := store.Create(ctx, "p2", "y", nil)
	require.NoError(t, err)

	list, err := store.ListByProject(ctx, "p1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[1], list[1].ID)

	stale, err := store.ListStale(ctx, base.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, stale, 2)

	stale, err = store.ListStale(ctx, base, 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestMemoryDeploymentStore_FinishIsGuarded(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDeploymentStore()
	genID := uuid.New()

	job := &models.DeploymentJob{
		ID:           uuid.New(),
		GenerationID: genID,
		ProjectID:    "p1",
		Provider:     "vercel",
		Status:       models.DeploymentDeploying,
	}
	require.NoError(t, store.Create(ctx, job))

	ref := "dpl_123"
	require.NoError(t, store.RecordPoll(ctx, job.ID, &ref, 1))

	url := "https://app.example.vercel.app"
	now := time.Now().UTC()
	done := *job
	done.Status = models.DeploymentSucceeded
	done.URL = &url
	done.CompletedAt = &now
	require.NoError(t, store.Finish(ctx, &done))

	assert.ErrorIs(t, store.Finish(ctx, &done), models.ErrRecordFinalized)
	assert.ErrorIs(t, store.RecordPoll(ctx, job.ID, &ref, 2), models.ErrRecordFinalized)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentSucceeded, got.Status)
	assert.Equal(t, url, *got.URL)

	second := &models.DeploymentJob{ID: uuid.New(), GenerationID: genID, Provider: "s3", Status: models.DeploymentDeploying}
	require.NoError(t, store.Create(ctx, second))

	jobs, err := store.ListByGeneration(ctx, genID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)
}
