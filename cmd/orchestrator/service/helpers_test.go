package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/appforge/cmd/orchestrator/generator"
	"github.com/lyzr/appforge/cmd/orchestrator/repository"
	"github.com/lyzr/appforge/common/events"
	"github.com/lyzr/appforge/common/logger"
	"github.com/lyzr/appforge/common/models"
	"github.com/lyzr/appforge/common/queue"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store *repository.MemoryGenerationStore
	hub   *events.Hub
	queue *queue.MemoryQueue
	svc   *GenerationService
}

func newHarness(t *testing.T, gen generator.Generator, maxDuration time.Duration) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	h := &harness{
		store: repository.NewMemoryGenerationStore(),
		hub:   events.NewHub(logger.Nop()),
		queue: queue.NewMemoryQueue(logger.Nop()),
	}
	h.svc = NewGenerationService(&GenerationServiceOpts{
		Store:       h.store,
		Publisher:   h.hub,
		Queue:       h.queue,
		Generator:   gen,
		Logger:      logger.Nop(),
		MaxDuration: maxDuration,
	})
	require.NoError(t, h.svc.Run(ctx))

	t.Cleanup(func() {
		cancel()
		h.svc.Wait()
		h.queue.Close()
	})
	return h
}

func (h *harness) join(projectID string) *events.Subscriber {
	sub := events.NewSubscriber(uuid.NewString(), 256)
	h.hub.Join(projectID, sub)
	return sub
}

func (h *harness) waitTerminal(t *testing.T, id uuid.UUID) *models.GenerationRecord {
	t.Helper()
	var rec *models.GenerationRecord
	require.Eventually(t, func() bool {
		r, err := h.store.Get(context.Background(), id)
		if err != nil {
			return false
		}
		rec = r
		return r.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return rec
}

// nextEvents reads n events or fails the test
func nextEvents(t *testing.T, sub *events.Subscriber, n int) []events.Event {
	t.Helper()
	out := make([]events.Event, 0, n)
	for len(out) < n {
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok, "subscriber closed")
			out = append(out, ev)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func eventTypes(evs []events.Event) []events.Type {
	out := make([]events.Type, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func phase(name string, status models.PhaseStatus) generator.Event {
	return generator.Event{Kind: generator.EventPhase, Phase: name, Status: status}
}

// scripted replays events and returns files
func scripted(files []models.FileChange, evs ...generator.Event) generator.Func {
	return func(ctx context.Context, req generator.Request, emit func(generator.Event)) ([]models.FileChange, error) {
		for _, ev := range evs {
			emit(ev)
		}
		return files, nil
	}
}

var todoApp = []models.FileChange{
	{Path: "app.tsx", Content: "export default function App() { return null }"},
	{Path: "style.css", Content: "body { margin: 0 }"},
}
