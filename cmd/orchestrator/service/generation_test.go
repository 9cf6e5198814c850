package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lyzr/appforge/cmd/orchestrator/generator"
	"github.com/lyzr/appforge/cmd/orchestrator/repository"
	"github.com/lyzr/appforge/common/events"
	"github.com/lyzr/appforge/common/logger"
	"github.com/lyzr/appforge/common/models"
	"github.com/lyzr/appforge/common/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneration_EndToEndTodoApp(t *testing.T) {
	gen := scripted(todoApp,
		phase("analyzing", models.PhaseRunning),
		phase("analyzing", models.PhaseCompleted),
		phase("generating", models.PhaseRunning),
		generator.Event{Kind: generator.EventLog, Message: "writing app.tsx"},
		phase("generating", models.PhaseCompleted),
	)
	h := newHarness(t, gen, time.Minute)
	sub := h.join("p1")

	rec, err := h.svc.StartGeneration(context.Background(), &StartGenerationRequest{ProjectID: "p1", Prompt: "build a todo app"})
	require.NoError(t, err)
	assert.Equal(t, models.GenerationQueued, rec.Status)

	got := nextEvents(t, sub, 7)
	assert.Equal(t, []events.Type{
		events.GenerationStart,
		events.GenerationProgress,
		events.GenerationProgress,
		events.GenerationProgress,
		events.GenerationLog,
		events.GenerationProgress,
		events.GenerationComplete,
	}, eventTypes(got))

	var complete events.CompletePayload
	require.NoError(t, got[6].Decode(&complete))
	assert.Equal(t, rec.ID.String(), complete.GenerationID)
	assert.Len(t, complete.Files, 2)
	assert.ElementsMatch(t, []string{"app.tsx", "style.css"}, complete.Changed)

	final := h.waitTerminal(t, rec.ID)
	assert.Equal(t, models.GenerationCompleted, final.Status)
	assert.Len(t, final.FileChanges, 2)
	assert.Nil(t, final.Error)

	// Client leaves, then resyncs from the store
	h.hub.Remove(sub)
	latest, err := h.svc.GetLatestWithFiles(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, final.FileChanges, latest.FileChanges)
}

func TestGeneration_ProgressEventOrdering(t *testing.T) {
	gen := scripted(todoApp,
		phase("analyzing", models.PhaseRunning),
		phase("analyzing", models.PhaseCompleted),
		phase("generating", models.PhaseRunning),
	)
	h := newHarness(t, gen, time.Minute)
	sub := h.join("p1")

	rec, err := h.svc.StartGeneration(context.Background(), &StartGenerationRequest{ProjectID: "p1", Prompt: "x"})
	require.NoError(t, err)

	got := nextEvents(t, sub, 5)
	want := []struct {
		name   string
		status models.PhaseStatus
	}{
		{"analyzing", models.PhaseRunning},
		{"analyzing", models.PhaseCompleted},
		{"generating", models.PhaseRunning},
	}
	for i, w := range want {
		ev := got[i+1]
		require.Equal(t, events.GenerationProgress, ev.Type)
		var p events.ProgressPayload
		require.NoError(t, ev.Decode(&p))
		assert.Equal(t, w.name, p.Phase.Name)
		assert.Equal(t, w.status, p.Phase.Status)
	}

	final := h.waitTerminal(t, rec.ID)
	require.Len(t, final.Phases, 2)
	assert.Equal(t, "analyzing", final.Phases[0].Name)
	assert.Equal(t, models.PhaseCompleted, final.Phases[0].Status)
	assert.Equal(t, "generating", final.Phases[1].Name)
	assert.Equal(t, models.PhaseRunning, final.Phases[1].Status)
}

func TestGeneration_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	gen := generator.Func(func(ctx context.Context, req generator.Request, emit func(generator.Event)) ([]models.FileChange, error) {
		close(started)
		<-release
		return todoApp, nil
	})
	h := newHarness(t, gen, time.Minute)
	ctx := context.Background()

	first, err := h.svc.StartGeneration(ctx, &StartGenerationRequest{ProjectID: "p1", Prompt: "one"})
	require.NoError(t, err)
	<-started

	_, err = h.svc.StartGeneration(ctx, &StartGenerationRequest{ProjectID: "p1", Prompt: "two"})
	assert.ErrorIs(t, err, models.ErrConcurrentGeneration)

	list, err := h.svc.ListGenerations(ctx, "p1", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	close(release)
	h.waitTerminal(t, first.ID)

	_, err = h.svc.StartGeneration(ctx, &StartGenerationRequest{ProjectID: "p1", Prompt: "three"})
	assert.NoError(t, err)
}

func TestGeneration_GeneratorFailure(t *testing.T) {
	gen := generator.Func(func(ctx context.Context, req generator.Request, emit func(generator.Event)) ([]models.FileChange, error) {
		emit(phase("generating", models.PhaseRunning))
		return nil, &models.GeneratorFailure{Message: "model refused the prompt"}
	})
	h := newHarness(t, gen, time.Minute)
	sub := h.join("p1")

	rec, err := h.svc.StartGeneration(context.Background(), &StartGenerationRequest{ProjectID: "p1", Prompt: "x"})
	require.NoError(t, err)

	got := nextEvents(t, sub, 3)
	assert.Equal(t, []events.Type{events.GenerationStart, events.GenerationProgress, events.GenerationError}, eventTypes(got))

	var payload events.ErrorPayload
	require.NoError(t, got[2].Decode(&payload))
	assert.Equal(t, "model refused the prompt", payload.Error)

	final := h.waitTerminal(t, rec.ID)
	assert.Equal(t, models.GenerationFailed, final.Status)
	require.NotNil(t, final.Error)
	assert.Equal(t, "model refused the prompt", *final.Error)
	assert.Empty(t, final.FileChanges)
}

func TestGeneration_PanicBecomesFailure(t *testing.T) {
	gen := generator.Func(func(ctx context.Context, req generator.Request, emit func(generator.Event)) ([]models.FileChange, error) {
		panic("nil map write")
	})
	h := newHarness(t, gen, time.Minute)

	rec, err := h.svc.StartGeneration(context.Background(), &StartGenerationRequest{ProjectID: "p1", Prompt: "x"})
	require.NoError(t, err)

	final := h.waitTerminal(t, rec.ID)
	assert.Equal(t, models.GenerationFailed, final.Status)
	assert.Contains(t, *final.Error, "generator crashed")
}

func TestGeneration_Timeout(t *testing.T) {
	gen := generator.Func(func(ctx context.Context, req generator.Request, emit func(generator.Event)) ([]models.FileChange, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	h := newHarness(t, gen, 100*time.Millisecond)

	rec, err := h.svc.StartGeneration(context.Background(), &StartGenerationRequest{ProjectID: "p1", Prompt: "x"})
	require.NoError(t, err)

	final := h.waitTerminal(t, rec.ID)
	assert.Equal(t, models.GenerationFailed, final.Status)
	assert.Contains(t, *final.Error, "generation timed out")
}

func TestGeneration_LateSuccessStillTimesOut(t *testing.T) {
	gen := generator.Func(func(ctx context.Context, req generator.Request, emit func(generator.Event)) ([]models.FileChange, error) {
		time.Sleep(300 * time.Millisecond)
		return todoApp, nil
	})
	h := newHarness(t, gen, 100*time.Millisecond)

	rec, err := h.svc.StartGeneration(context.Background(), &StartGenerationRequest{ProjectID: "p1", Prompt: "x"})
	require.NoError(t, err)

	final := h.waitTerminal(t, rec.ID)
	assert.Equal(t, models.GenerationFailed, final.Status)
	assert.Contains(t, *final.Error, "generation timed out")
	assert.Empty(t, final.FileChanges)
}

func TestGeneration_EmptyBatchFails(t *testing.T) {
	h := newHarness(t, scripted(nil), time.Minute)

	rec, err := h.svc.StartGeneration(context.Background(), &StartGenerationRequest{ProjectID: "p1", Prompt: "x"})
	require.NoError(t, err)

	final := h.waitTerminal(t, rec.ID)
	assert.Equal(t, models.GenerationFailed, final.Status)
	assert.Contains(t, *final.Error, "without producing files")
}

func TestGeneration_IncrementalFromLatest(t *testing.T) {
	var seen [][]models.FileChange
	batches := [][]models.FileChange{
		{{Path: "index.html", Content: "v1"}, {Path: "app.js", Content: "a"}},
		{{Path: "index.html", Content: "v2"}, {Path: "about.html", Content: "about"}},
	}
	call := 0
	gen := generator.Func(func(ctx context.Context, req generator.Request, emit func(generator.Event)) ([]models.FileChange, error) {
		seen = append(seen, req.PriorFiles)
		b := batches[call]
		call++
		return b, nil
	})
	h := newHarness(t, gen, time.Minute)
	sub := h.join("p1")
	ctx := context.Background()

	first, err := h.svc.StartGeneration(ctx, &StartGenerationRequest{ProjectID: "p1", Prompt: "site"})
	require.NoError(t, err)
	h.waitTerminal(t, first.ID)
	nextEvents(t, sub, 2)

	second, err := h.svc.StartGeneration(ctx, &StartGenerationRequest{ProjectID: "p1", Prompt: "add about page"})
	require.NoError(t, err)
	final := h.waitTerminal(t, second.ID)

	require.Len(t, seen, 2)
	assert.Empty(t, seen[0])
	assert.Len(t, seen[1], 2)

	// Whole tree is stored: untouched app.js survives
	require.Len(t, final.FileChanges, 3)
	byPath := map[string]string{}
	for _, f := range final.FileChanges {
		byPath[f.Path] = f.Content
	}
	assert.Equal(t, "v2", byPath["index.html"])
	assert.Equal(t, "a", byPath["app.js"])

	got := nextEvents(t, sub, 2)
	var complete events.CompletePayload
	require.NoError(t, got[1].Decode(&complete))
	assert.Equal(t, []string{"about.html", "index.html"}, complete.Changed)
}

func TestGeneration_ExplicitEmptyFilesStartFresh(t *testing.T) {
	var prior []models.FileChange
	gen := generator.Func(func(ctx context.Context, req generator.Request, emit func(generator.Event)) ([]models.FileChange, error) {
		prior = req.PriorFiles
		return todoApp, nil
	})
	h := newHarness(t, gen, time.Minute)
	ctx := context.Background()

	first, err := h.svc.StartGeneration(ctx, &StartGenerationRequest{ProjectID: "p1", Prompt: "x"})
	require.NoError(t, err)
	h.waitTerminal(t, first.ID)

	second, err := h.svc.StartGeneration(ctx, &StartGenerationRequest{ProjectID: "p1", Prompt: "x", Files: []models.FileChange{}})
	require.NoError(t, err)
	h.waitTerminal(t, second.ID)
	assert.Empty(t, prior)
}

type failingQueue struct{}

func (failingQueue) Publish(ctx context.Context, topic, key string, message []byte) error {
	return errors.New("broker down")
}
func (failingQueue) Subscribe(ctx context.Context, topic string, handler queue.MessageHandler) error {
	return nil
}
func (failingQueue) Close() error { return nil }

func TestGeneration_DispatchFailureFailsRecord(t *testing.T) {
	h := newHarness(t, scripted(todoApp), time.Minute)
	svc := NewGenerationService(&GenerationServiceOpts{
		Store:     h.store,
		Publisher: h.hub,
		Queue:     failingQueue{},
		Generator: scripted(todoApp),
		Logger:    logger.Nop(),
	})

	_, err := svc.StartGeneration(context.Background(), &StartGenerationRequest{ProjectID: "p1", Prompt: "x"})
	require.ErrorContains(t, err, "broker down")

	list, err := h.store.ListByProject(context.Background(), "p1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.GenerationFailed, list[0].Status)

	// The failed dispatch does not block the next request
	_, err = h.svc.StartGeneration(context.Background(), &StartGenerationRequest{ProjectID: "p1", Prompt: "x"})
	assert.NoError(t, err)
}

func TestGeneration_ReadsCarryCurrentPhase(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryGenerationStore()
	svc := NewGenerationService(&GenerationServiceOpts{Store: store, Logger: logger.Nop()})

	rec, err := store.Create(ctx, "p1", "x", nil)
	require.NoError(t, err)
	_, err = store.Start(ctx, rec.ID)
	require.NoError(t, err)
	_, err = store.AppendPhase(ctx, rec.ID, "planning", models.PhaseCompleted, "")
	require.NoError(t, err)
	_, err = store.AppendPhase(ctx, rec.ID, "writing-files", models.PhaseRunning, "3 of 7")
	require.NoError(t, err)

	got, err := svc.GetGeneration(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentPhase)
	assert.Equal(t, "writing-files", got.CurrentPhase.Name)

	list, err := svc.ListGenerations(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].CurrentPhase)
	assert.Equal(t, "writing-files", list[0].CurrentPhase.Name)

	fresh, err := store.Create(ctx, "p2", "y", nil)
	require.NoError(t, err)
	got, err = svc.GetGeneration(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CurrentPhase)
}
