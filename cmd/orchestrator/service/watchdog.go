package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lyzr/appforge/cmd/orchestrator/repository"
	"github.com/lyzr/appforge/common/events"
	"github.com/lyzr/appforge/common/logger"
	"github.com/lyzr/appforge/common/models"
)

// watchdogBatch caps how many stale records one sweep fails
const watchdogBatch = 100

// Watchdog force-fails generations that outlive their duration budget, and
// deployments left deploying by a process that died mid-run
type Watchdog struct {
	store         repository.GenerationStore
	deployments   repository.DeploymentStore
	publisher     events.Publisher
	log           *logger.Logger
	checkInterval time.Duration
	maxDuration   time.Duration
	deployTimeout time.Duration
	now           func() time.Time
}

// NewWatchdog creates a new watchdog
func NewWatchdog(store repository.GenerationStore, publisher events.Publisher, log *logger.Logger) *Watchdog {
	return &Watchdog{
		store:         store,
		publisher:     publisher,
		log:           log,
		checkInterval: 30 * time.Second,
		maxDuration:   15 * time.Minute,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithCheckInterval sets the check interval
func (w *Watchdog) WithCheckInterval(interval time.Duration) *Watchdog {
	w.checkInterval = interval
	return w
}

// WithMaxDuration sets the generation budget, measured from creation
func (w *Watchdog) WithMaxDuration(d time.Duration) *Watchdog {
	w.maxDuration = d
	return w
}

// WithDeployments enables the deployment sweep. A job is stale once it has
// been deploying for longer than timeout plus the finalize window, so a live
// run always records its own outcome first.
func (w *Watchdog) WithDeployments(store repository.DeploymentStore, timeout time.Duration) *Watchdog {
	w.deployments = store
	w.deployTimeout = timeout
	return w
}

// Start runs sweeps until ctx is cancelled
func (w *Watchdog) Start(ctx context.Context) error {
	w.log.Info("generation watchdog starting",
		"check_interval", w.checkInterval,
		"max_duration", w.maxDuration)

	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("generation watchdog shutting down")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.log.Error("failed to sweep stale generations", "error", err)
			}
			if _, err := w.SweepDeployments(ctx); err != nil {
				w.log.Error("failed to sweep stale deployments", "error", err)
			}
		}
	}
}

// Sweep fails every queued or running generation older than the budget
// and returns how many it failed
func (w *Watchdog) Sweep(ctx context.Context) (int, error) {
	cutoff := w.now().Add(-w.maxDuration)
	stale, err := w.store.ListStale(ctx, cutoff, watchdogBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale generations: %w", err)
	}

	reason := fmt.Sprintf("%v after %s", models.ErrGenerationTimeout, w.maxDuration)
	failed := 0
	for _, rec := range stale {
		log := w.log.WithProjectID(rec.ProjectID).WithGenerationID(rec.ID.String())
		log.Warn("detected stale generation",
			"status", rec.Status,
			"created_at", rec.CreatedAt,
			"age", w.now().Sub(rec.CreatedAt))

		if _, err := w.store.Fail(ctx, rec.ID, reason); err != nil {
			if errors.Is(err, models.ErrRecordFinalized) {
				log.Debug("generation finished before the watchdog")
				continue
			}
			log.Error("failed to mark generation as failed", "error", err)
			continue
		}

		if err := w.publisher.Publish(ctx, rec.ProjectID, events.GenerationError, events.ErrorPayload{
			GenerationID: rec.ID.String(),
			Error:        reason,
		}); err != nil {
			log.Warn("failed to publish event", "type", events.GenerationError, "error", err)
		}
		failed++
	}

	if failed > 0 {
		w.log.Info("marked stale generations as failed", "count", failed)
	}
	return failed, nil
}

// SweepDeployments fails every job still deploying past its timeout and
// returns how many it failed
func (w *Watchdog) SweepDeployments(ctx context.Context) (int, error) {
	if w.deployments == nil {
		return 0, nil
	}

	cutoff := w.now().Add(-(w.deployTimeout + finalizeTimeout))
	stale, err := w.deployments.ListStale(ctx, cutoff, watchdogBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale deployments: %w", err)
	}

	reason := fmt.Sprintf("%v after %s", models.ErrDeploymentTimeout, w.deployTimeout)
	failed := 0
	for _, job := range stale {
		log := w.log.WithProjectID(job.ProjectID).WithDeploymentID(job.ID.String())
		log.Warn("detected stale deployment",
			"provider", job.Provider,
			"created_at", job.CreatedAt,
			"age", w.now().Sub(job.CreatedAt))

		now := w.now()
		job.Status = models.DeploymentFailed
		job.Error = &reason
		job.CompletedAt = &now
		if err := w.deployments.Finish(ctx, job); err != nil {
			if errors.Is(err, models.ErrRecordFinalized) {
				log.Debug("deployment finished before the watchdog")
				continue
			}
			log.Error("failed to mark deployment as failed", "error", err)
			continue
		}

		if err := w.publisher.Publish(ctx, job.ProjectID, events.DeploymentError, events.DeploymentErrorPayload{
			DeploymentID: job.ID.String(),
			GenerationID: job.GenerationID.String(),
			Error:        reason,
		}); err != nil {
			log.Warn("failed to publish event", "type", events.DeploymentError, "error", err)
		}
		failed++
	}

	if failed > 0 {
		w.log.Info("marked stale deployments as failed", "count", failed)
	}
	return failed, nil
}
