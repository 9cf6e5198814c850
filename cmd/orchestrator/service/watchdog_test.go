package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/appforge/cmd/orchestrator/repository"
	"github.com/lyzr/appforge/common/events"
	"github.com/lyzr/appforge/common/logger"
	"github.com/lyzr/appforge/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchdog_SweepFailsStaleGenerations(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryGenerationStore()
	hub := events.NewHub(logger.Nop())
	sub := events.NewSubscriber(uuid.NewString(), 16)
	hub.Join("p1", sub)

	queued, err := store.Create(ctx, "p1", "stuck in queue", nil)
	require.NoError(t, err)
	running, err := store.Create(ctx, "p2", "stuck running", nil)
	require.NoError(t, err)
	_, err = store.Start(ctx, running.ID)
	require.NoError(t, err)

	w := NewWatchdog(store, hub, logger.Nop()).WithMaxDuration(time.Minute)

	// Nothing is stale yet
	n, err := w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	w.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
	n, err = w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []uuid.UUID{queued.ID, running.ID} {
		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.GenerationFailed, rec.Status)
		require.NotNil(t, rec.Error)
		assert.Equal(t, "generation timed out after 1m0s", *rec.Error)
	}

	got := nextEvents(t, sub, 1)
	assert.Equal(t, events.GenerationError, got[0].Type)

	// Already failed records are not touched twice
	n, err = w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// The project is free again
	_, err = store.Create(ctx, "p1", "retry", nil)
	assert.NoError(t, err)
}

func TestWatchdog_LeavesCompletedAlone(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryGenerationStore()

	rec, err := store.Create(ctx, "p1", "x", nil)
	require.NoError(t, err)
	_, err = store.Start(ctx, rec.ID)
	require.NoError(t, err)
	require.NoError(t, store.SetFileChanges(ctx, rec.ID, todoApp))
	_, err = store.Complete(ctx, rec.ID)
	require.NoError(t, err)

	w := NewWatchdog(store, events.NewHub(logger.Nop()), logger.Nop()).WithMaxDuration(time.Second)
	w.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }

	n, err := w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationCompleted, got.Status)
}

func TestWatchdog_StartStopsOnCancel(t *testing.T) {
	store := repository.NewMemoryGenerationStore()
	w := NewWatchdog(store, events.NewHub(logger.Nop()), logger.Nop()).WithCheckInterval(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop")
	}
}

func TestWatchdog_SweepFailsAbandonedDeployments(t *testing.T) {
	ctx := context.Background()
	deployments := repository.NewMemoryDeploymentStore()
	hub := events.NewHub(logger.Nop())
	sub := events.NewSubscriber(uuid.NewString(), 16)
	hub.Join("p1", sub)

	ref := "dpl_crashed"
	abandoned := &models.DeploymentJob{
		ID:           uuid.New(),
		GenerationID: uuid.New(),
		ProjectID:    "p1",
		Provider:     "vercel",
		Status:       models.DeploymentDeploying,
		ProviderRef:  &ref,
		PollAttempts: 4,
	}
	require.NoError(t, deployments.Create(ctx, abandoned))

	done := &models.DeploymentJob{
		ID:           uuid.New(),
		GenerationID: abandoned.GenerationID,
		ProjectID:    "p1",
		Provider:     "s3",
		Status:       models.DeploymentDeploying,
	}
	require.NoError(t, deployments.Create(ctx, done))
	url := "https://b.s3/x"
	done.Status = models.DeploymentSucceeded
	done.URL = &url
	require.NoError(t, deployments.Finish(ctx, done))

	w := NewWatchdog(repository.NewMemoryGenerationStore(), hub, logger.Nop()).
		WithDeployments(deployments, time.Minute)

	// Within the timeout the job may still be owned by a live run
	n, err := w.SweepDeployments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	w.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
	n, err = w.SweepDeployments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := deployments.Get(ctx, abandoned.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "deployment timed out after 1m0s", *got.Error)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, 4, got.PollAttempts)

	still, err := deployments.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentSucceeded, still.Status)

	ev := nextEvents(t, sub, 1)[0]
	assert.Equal(t, events.DeploymentError, ev.Type)
	var payload events.DeploymentErrorPayload
	require.NoError(t, ev.Decode(&payload))
	assert.Equal(t, abandoned.ID.String(), payload.DeploymentID)

	n, err = w.SweepDeployments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWatchdog_DeploymentSweepDisabledByDefault(t *testing.T) {
	w := NewWatchdog(repository.NewMemoryGenerationStore(), events.NewHub(logger.Nop()), logger.Nop())
	n, err := w.SweepDeployments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
