package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/appforge/cmd/orchestrator/providers"
	"github.com/lyzr/appforge/cmd/orchestrator/repository"
	"github.com/lyzr/appforge/common/events"
	"github.com/lyzr/appforge/common/logger"
	"github.com/lyzr/appforge/common/models"
	"github.com/lyzr/appforge/common/telemetry"
)

// DeploymentService ships completed generations through deploy providers
type DeploymentService struct {
	generations     repository.GenerationStore
	deployments     repository.DeploymentStore
	registry        *providers.Registry
	urlGuard        *providers.URLGuard
	publisher       events.Publisher
	telemetry       *telemetry.Telemetry
	log             *logger.Logger
	pollInterval    time.Duration
	timeout         time.Duration
	maxPollFailures int

	// background submissions run under baseCtx until Close
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// DeploymentServiceOpts contains options for creating a DeploymentService
type DeploymentServiceOpts struct {
	Generations     repository.GenerationStore
	Deployments     repository.DeploymentStore
	Registry        *providers.Registry
	Publisher       events.Publisher
	Telemetry       *telemetry.Telemetry
	Logger          *logger.Logger
	PollInterval    time.Duration
	Timeout         time.Duration
	MaxPollFailures int
}

// NewDeploymentService creates a new deployment service with options pattern
func NewDeploymentService(opts *DeploymentServiceOpts) *DeploymentService {
	s := &DeploymentService{
		generations:     opts.Generations,
		deployments:     opts.Deployments,
		registry:        opts.Registry,
		urlGuard:        providers.NewURLGuard(),
		publisher:       opts.Publisher,
		telemetry:       opts.Telemetry,
		log:             opts.Logger,
		pollInterval:    opts.PollInterval,
		timeout:         opts.Timeout,
		maxPollFailures: opts.MaxPollFailures,
	}
	if s.pollInterval <= 0 {
		s.pollInterval = 3 * time.Second
	}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Minute
	}
	if s.maxPollFailures <= 0 {
		s.maxPollFailures = 3
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	return s
}

// DeployRequest represents a request to deploy a generation
type DeployRequest struct {
	GenerationID uuid.UUID `json:"-"`
	Provider     string    `json:"provider" validate:"required"`
}

// Deploy runs a deployment to a terminal state and returns it. Precondition
// failures (unknown or unconfigured provider, missing files) return an error
// and persist nothing; provider failures come back as a failed job.
func (s *DeploymentService) Deploy(ctx context.Context, req *DeployRequest) (*models.DeploymentJob, error) {
	job, provider, rec, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, job, provider, rec), nil
}

// Submit validates and persists a deploying job, then runs it in the background.
// The terminal state arrives over the event channel or via GetDeployment.
func (s *DeploymentService) Submit(ctx context.Context, req *DeployRequest) (*models.DeploymentJob, error) {
	job, provider, rec, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	accepted := *job
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(s.baseCtx, job, provider, rec)
	}()
	return &accepted, nil
}

// Close cancels background deployments and waits for them to record their outcome
func (s *DeploymentService) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *DeploymentService) prepare(ctx context.Context, req *DeployRequest) (*models.DeploymentJob, providers.Provider, *models.GenerationRecord, error) {
	var provider providers.Provider
	if req.Provider != providers.Auto {
		p, err := s.registry.Get(req.Provider)
		if err != nil {
			return nil, nil, nil, err
		}
		if !p.Configured() {
			return nil, nil, nil, fmt.Errorf("%w: %s", models.ErrNotConfigured, p.Name())
		}
		provider = p
	}

	rec, err := s.generations.Get(ctx, req.GenerationID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !rec.HasFiles() {
		return nil, nil, nil, models.ErrNoFiles
	}

	if provider == nil {
		provider, err = s.registry.Resolve(providers.Auto, rec.FileChanges)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	job := &models.DeploymentJob{
		ID:           uuid.New(),
		GenerationID: rec.ID,
		ProjectID:    rec.ProjectID,
		Provider:     provider.Name(),
		Status:       models.DeploymentDeploying,
	}
	if err := s.deployments.Create(ctx, job); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create deployment: %w", err)
	}

	log := s.jobLogger(job)
	log.Info("deployment created", "files", len(rec.FileChanges))
	s.publish(ctx, log, job.ProjectID, events.DeploymentStart, events.DeploymentStartPayload{
		DeploymentID: job.ID.String(),
		GenerationID: job.GenerationID.String(),
		Provider:     job.Provider,
	})

	return job, provider, rec, nil
}

func (s *DeploymentService) jobLogger(job *models.DeploymentJob) *logger.Logger {
	return s.log.WithProjectID(job.ProjectID).
		WithDeploymentID(job.ID.String()).
		WithFields(map[string]any{"provider": job.Provider, "generation_id": job.GenerationID.String()})
}

// run submits the bundle and polls until a terminal state or the deploy timeout
func (s *DeploymentService) run(ctx context.Context, job *models.DeploymentJob, provider providers.Provider, rec *models.GenerationRecord) *models.DeploymentJob {
	log := s.jobLogger(job)
	start := time.Now()

	dctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	handle, err := provider.Submit(dctx, providers.Bundle{
		DeploymentID: job.ID.String(),
		ProjectID:    job.ProjectID,
		Files:        rec.FileChanges,
	})
	if err == nil && s.expired(ctx, dctx) {
		err = dctx.Err()
	}
	if err != nil {
		return s.finish(ctx, log, start, job, "", s.failureMessage(ctx, dctx, provider, err))
	}

	if handle.Immediate() {
		return s.finish(ctx, log, start, job, handle.URL, "")
	}
	if handle.JobRef == "" {
		return s.finish(ctx, log, start, job, "", (&models.ProviderFailure{
			Provider: provider.Name(),
			Err:      errors.New("provider returned neither a URL nor a job reference"),
		}).Error())
	}

	ref := handle.JobRef
	job.ProviderRef = &ref
	if err := s.deployments.RecordPoll(dctx, job.ID, job.ProviderRef, 0); err != nil {
		log.Warn("failed to record provider reference", "error", err)
	}
	log.Info("deployment submitted", "provider_ref", ref)

	url, err := s.poll(dctx, log, job, provider)
	if err == nil && s.expired(ctx, dctx) {
		err = dctx.Err()
	}
	if err != nil {
		return s.finish(ctx, log, start, job, "", s.failureMessage(ctx, dctx, provider, err))
	}
	return s.finish(ctx, log, start, job, url, "")
}

// poll checks the provider every pollInterval. Consecutive poll errors are
// tolerated up to maxPollFailures before escalating to a ProviderFailure.
func (s *DeploymentService) poll(ctx context.Context, log *logger.Logger, job *models.DeploymentJob, provider providers.Provider) (string, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		job.PollAttempts++
		status, err := provider.Poll(ctx, *job.ProviderRef)
		if recErr := s.deployments.RecordPoll(ctx, job.ID, job.ProviderRef, job.PollAttempts); recErr != nil {
			log.Warn("failed to record poll", "error", recErr)
		}

		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			failures++
			log.Warn("provider poll failed", "attempt", job.PollAttempts, "consecutive_failures", failures, "error", err)
			if failures >= s.maxPollFailures {
				return "", &models.ProviderFailure{
					Provider: provider.Name(),
					Err:      fmt.Errorf("status check failed %d times: %w", failures, err),
				}
			}
			continue
		}
		failures = 0

		switch status.State {
		case providers.StateReady:
			if status.URL == "" {
				return "", &models.ProviderFailure{Provider: provider.Name(), Err: errors.New("deployment ready without a URL")}
			}
			return status.URL, nil
		case providers.StateError:
			msg := status.Error
			if msg == "" {
				msg = "deployment failed"
			}
			return "", &models.ProviderFailure{Provider: provider.Name(), Err: errors.New(msg)}
		default:
			log.Debug("deployment building", "attempt", job.PollAttempts)
		}
	}
}

// expired reports whether the deploy timeout passed while the caller is still live.
// A provider that ignores ctx can still hand back a URL after the deadline.
func (s *DeploymentService) expired(parent, dctx context.Context) bool {
	return parent.Err() == nil && errors.Is(dctx.Err(), context.DeadlineExceeded)
}

// failureMessage turns a submit or poll error into the stored error text
func (s *DeploymentService) failureMessage(parent, dctx context.Context, provider providers.Provider, err error) string {
	switch {
	case parent.Err() != nil:
		return "deployment cancelled"
	case errors.Is(dctx.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("%v after %s", models.ErrDeploymentTimeout, s.timeout)
	}

	var failure *models.ProviderFailure
	if errors.As(err, &failure) {
		return failure.Error()
	}
	return (&models.ProviderFailure{Provider: provider.Name(), Err: err}).Error()
}

// finish persists the terminal state and announces it
func (s *DeploymentService) finish(ctx context.Context, log *logger.Logger, start time.Time, job *models.DeploymentJob, url, errMsg string) *models.DeploymentJob {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if errMsg == "" {
		if err := s.urlGuard.Check(url); err != nil {
			errMsg = (&models.ProviderFailure{
				Provider: job.Provider,
				Err:      fmt.Errorf("rejected deployment url: %w", err),
			}).Error()
		}
	}

	now := time.Now().UTC()
	job.CompletedAt = &now
	if errMsg == "" {
		job.Status = models.DeploymentSucceeded
		job.URL = &url
	} else {
		job.Status = models.DeploymentFailed
		job.Error = &errMsg
	}

	if err := s.deployments.Finish(fctx, job); err != nil {
		if errors.Is(err, models.ErrRecordFinalized) {
			// another writer (the watchdog) settled the job; its outcome stands
			return s.stored(fctx, log, job)
		}
		log.Error("failed to record deployment outcome", "status", job.Status, "error", err)
	}

	if job.Status == models.DeploymentSucceeded {
		log.Info("deployment succeeded", "url", url, "poll_attempts", job.PollAttempts)
		s.publish(fctx, log, job.ProjectID, events.DeploymentComplete, events.DeploymentCompletePayload{
			DeploymentID: job.ID.String(),
			GenerationID: job.GenerationID.String(),
			URL:          url,
		})
	} else {
		log.Warn("deployment failed", "error", errMsg, "poll_attempts", job.PollAttempts)
		s.publish(fctx, log, job.ProjectID, events.DeploymentError, events.DeploymentErrorPayload{
			DeploymentID: job.ID.String(),
			GenerationID: job.GenerationID.String(),
			Error:        errMsg,
		})
	}

	s.telemetry.RecordDuration("deployment", start, "deployment_id", job.ID, "status", job.Status)
	out := *job
	return &out
}

// stored returns the persisted job after a lost finish race, falling back to
// the local view when it cannot be read
func (s *DeploymentService) stored(ctx context.Context, log *logger.Logger, job *models.DeploymentJob) *models.DeploymentJob {
	current, err := s.deployments.Get(ctx, job.ID)
	if err != nil {
		log.Error("failed to reload finalized deployment", "error", err)
		out := *job
		return &out
	}
	log.Warn("deployment already finalized, discarding local outcome",
		"local_status", job.Status,
		"stored_status", current.Status)
	return current
}

func (s *DeploymentService) publish(ctx context.Context, log *logger.Logger, projectID string, eventType events.Type, payload any) {
	if err := s.publisher.Publish(ctx, projectID, eventType, payload); err != nil {
		log.Warn("failed to publish event", "type", eventType, "error", err)
	}
}

// GetDeployment returns one job
func (s *DeploymentService) GetDeployment(ctx context.Context, id uuid.UUID) (*models.DeploymentJob, error) {
	return s.deployments.Get(ctx, id)
}

// ListDeployments returns the jobs of a generation, newest first
func (s *DeploymentService) ListDeployments(ctx context.Context, generationID uuid.UUID) ([]*models.DeploymentJob, error) {
	if _, err := s.generations.Get(ctx, generationID); err != nil {
		return nil, err
	}
	return s.deployments.ListByGeneration(ctx, generationID)
}

// Providers describes every registered provider
func (s *DeploymentService) Providers() []models.ProviderInfo {
	return s.registry.List()
}
