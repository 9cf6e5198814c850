package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/appforge/cmd/orchestrator/generator"
	"github.com/lyzr/appforge/cmd/orchestrator/repository"
	"github.com/lyzr/appforge/common/events"
	"github.com/lyzr/appforge/common/filetree"
	"github.com/lyzr/appforge/common/lifecycle"
	"github.com/lyzr/appforge/common/logger"
	"github.com/lyzr/appforge/common/models"
	"github.com/lyzr/appforge/common/queue"
	"github.com/lyzr/appforge/common/telemetry"
)

// GenerationTopic is the queue topic generation jobs are dispatched on
const GenerationTopic = "generation.requests"

// finalizeTimeout bounds the store writes that close out a generation
const finalizeTimeout = 10 * time.Second

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	defaultConcurrency  = 8
)

// GenerationService drives generations from request to terminal state
type GenerationService struct {
	store       repository.GenerationStore
	publisher   events.Publisher
	queue       queue.Queue
	generator   generator.Generator
	telemetry   *telemetry.Telemetry
	log         *logger.Logger
	maxDuration time.Duration
	history     int

	slots chan struct{}
	wg    sync.WaitGroup
}

// GenerationServiceOpts contains options for creating a GenerationService
type GenerationServiceOpts struct {
	Store        repository.GenerationStore
	Publisher    events.Publisher
	Queue        queue.Queue
	Generator    generator.Generator
	Telemetry    *telemetry.Telemetry
	Logger       *logger.Logger
	MaxDuration  time.Duration
	Concurrency  int // generations executed at once by this instance
	HistoryLimit int
}

// NewGenerationService creates a new generation service with options pattern
func NewGenerationService(opts *GenerationServiceOpts) *GenerationService {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	maxDuration := opts.MaxDuration
	if maxDuration <= 0 {
		maxDuration = 15 * time.Minute
	}
	return &GenerationService{
		store:       opts.Store,
		publisher:   opts.Publisher,
		queue:       opts.Queue,
		generator:   opts.Generator,
		telemetry:   opts.Telemetry,
		log:         opts.Logger,
		maxDuration: maxDuration,
		history:     opts.HistoryLimit,
		slots:       make(chan struct{}, concurrency),
	}
}

// StartGenerationRequest represents a request to start a generation
type StartGenerationRequest struct {
	ProjectID string              `json:"-"`
	Prompt    string              `json:"prompt" validate:"required"`
	PrdID     *string             `json:"prdId,omitempty"`
	Files     []models.FileChange `json:"files,omitempty" validate:"omitempty,dive"`
}

// generationJob is the queue message for one generation
type generationJob struct {
	GenerationID  uuid.UUID           `json:"generationId"`
	ProjectID     string              `json:"projectId"`
	Prompt        string              `json:"prompt"`
	PrdID         *string             `json:"prdId,omitempty"`
	Files         []models.FileChange `json:"files,omitempty"`
	ExplicitFiles bool                `json:"explicitFiles"`
}

// StartGeneration creates a queued record, announces it and dispatches the job.
// A project with a queued or running generation is rejected with
// models.ErrConcurrentGeneration.
func (s *GenerationService) StartGeneration(ctx context.Context, req *StartGenerationRequest) (*models.GenerationRecord, error) {
	log := s.log.WithProjectID(req.ProjectID)

	rec, err := s.store.Create(ctx, req.ProjectID, req.Prompt, req.PrdID)
	if err != nil {
		if errors.Is(err, models.ErrConcurrentGeneration) {
			log.Info("generation rejected, one is already active")
			return nil, err
		}
		return nil, fmt.Errorf("failed to create generation: %w", err)
	}
	log = log.WithGenerationID(rec.ID.String())
	log.Info("generation created", "status", rec.Status)

	s.publish(ctx, log, rec.ProjectID, events.GenerationStart, events.StartPayload{GenerationID: rec.ID.String()})

	job := generationJob{
		GenerationID:  rec.ID,
		ProjectID:     rec.ProjectID,
		Prompt:        rec.Prompt,
		PrdID:         rec.PrdID,
		Files:         req.Files,
		ExplicitFiles: req.Files != nil,
	}
	payload, err := json.Marshal(job)
	if err == nil {
		err = s.queue.Publish(ctx, GenerationTopic, rec.ID.String(), payload)
	}
	if err != nil {
		s.finishFailed(ctx, log, rec.ID, rec.ProjectID, fmt.Sprintf("failed to dispatch generation: %v", err))
		return nil, fmt.Errorf("failed to dispatch generation: %w", err)
	}

	return rec, nil
}

// Run subscribes to the generation topic; jobs execute in the background
// until ctx is cancelled. Call Wait to drain in-flight generations.
func (s *GenerationService) Run(ctx context.Context) error {
	return s.queue.Subscribe(ctx, GenerationTopic, s.handle)
}

// Wait blocks until every in-flight generation has finished
func (s *GenerationService) Wait() {
	s.wg.Wait()
}

func (s *GenerationService) handle(ctx context.Context, key string, value []byte) error {
	var job generationJob
	if err := json.Unmarshal(value, &job); err != nil {
		return fmt.Errorf("decode generation job %s: %w", key, err)
	}

	// Backpressure: hold the queue until a slot frees up
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.slots }()
		s.execute(ctx, &job)
	}()
	return nil
}

// execute runs one generation to a terminal state. Every exit path either
// completes or fails the record; the watchdog covers process crashes.
func (s *GenerationService) execute(ctx context.Context, job *generationJob) {
	log := s.log.WithProjectID(job.ProjectID).WithGenerationID(job.GenerationID.String())
	start := time.Now()

	rec, err := s.store.Start(ctx, job.GenerationID)
	if err != nil {
		if errors.Is(err, models.ErrAlreadyStarted) || errors.Is(err, models.ErrRecordFinalized) || errors.Is(err, models.ErrNotFound) {
			log.Warn("skipping generation job", "error", err)
			return
		}
		log.Error("failed to start generation", "error", err)
		s.finishFailed(ctx, log, job.GenerationID, job.ProjectID, fmt.Sprintf("failed to start generation: %v", err))
		return
	}
	log.Info("generation running")

	// The budget runs from creation so queue wait counts, matching the watchdog
	genCtx, cancel := context.WithDeadline(ctx, rec.CreatedAt.Add(s.maxDuration))
	defer cancel()

	prior, err := s.priorTree(genCtx, job)
	if err != nil {
		s.finishFailed(ctx, log, job.GenerationID, job.ProjectID, err.Error())
		return
	}

	files, err := s.runGenerator(genCtx, log, job, prior.Files())
	if err == nil && ctx.Err() == nil && errors.Is(genCtx.Err(), context.DeadlineExceeded) {
		// a generator that ignores ctx can still report success past the deadline
		err = genCtx.Err()
	}
	if err != nil {
		msg := s.failureMessage(ctx, genCtx, err)
		log.Warn("generation failed", "error", msg)
		s.finishFailed(ctx, log, job.GenerationID, job.ProjectID, msg)
		s.telemetry.RecordDuration("generation", start, "generation_id", job.GenerationID, "status", models.GenerationFailed)
		return
	}

	s.finishCompleted(ctx, log, job, prior, files)
	s.telemetry.RecordDuration("generation", start, "generation_id", job.GenerationID, "status", models.GenerationCompleted)
}

// priorTree is the file tree the generator edits: the request's files, or the
// project's latest completed generation
func (s *GenerationService) priorTree(ctx context.Context, job *generationJob) (*filetree.Tree, error) {
	if job.ExplicitFiles {
		tree, err := filetree.NewTree(job.Files)
		if err != nil {
			return nil, fmt.Errorf("invalid prior files: %w", err)
		}
		return tree, nil
	}

	latest, err := s.store.GetLatestWithFiles(ctx, job.ProjectID)
	if errors.Is(err, models.ErrNotFound) {
		return filetree.NewTree(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load prior files: %w", err)
	}
	return filetree.NewTree(latest.FileChanges)
}

// runGenerator invokes the generator, persisting and publishing each report in order
func (s *GenerationService) runGenerator(ctx context.Context, log *logger.Logger, job *generationJob, prior []models.FileChange) (files []models.FileChange, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("generator panicked", "panic", r)
			err = &models.GeneratorFailure{Message: fmt.Sprintf("generator crashed: %v", r)}
		}
	}()

	id := job.GenerationID.String()
	var mu sync.Mutex
	emit := func(ev generator.Event) {
		mu.Lock()
		defer mu.Unlock()

		switch ev.Kind {
		case generator.EventPhase:
			phase, err := s.store.AppendPhase(ctx, job.GenerationID, ev.Phase, ev.Status, ev.Message)
			if err != nil {
				log.Warn("phase report rejected", "phase", ev.Phase, "status", ev.Status, "error", err)
				return
			}
			log.Debug("phase advanced", "phase", phase.Name, "status", phase.Status)
			s.publish(ctx, log, job.ProjectID, events.GenerationProgress, events.ProgressPayload{GenerationID: id, Phase: *phase})
		case generator.EventLog:
			s.publish(ctx, log, job.ProjectID, events.GenerationLog, events.LogPayload{GenerationID: id, Message: ev.Message})
		}
	}

	return s.generator.Generate(ctx, generator.Request{
		GenerationID: job.GenerationID,
		ProjectID:    job.ProjectID,
		Prompt:       job.Prompt,
		PrdID:        job.PrdID,
		PriorFiles:   prior,
	}, emit)
}

// failureMessage turns a generator error into the stored error text
func (s *GenerationService) failureMessage(parent, genCtx context.Context, err error) string {
	switch {
	case errors.Is(genCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil:
		return fmt.Sprintf("%v after %s", models.ErrGenerationTimeout, s.maxDuration)
	case parent.Err() != nil:
		return "generation cancelled: server shutting down"
	}

	var failure *models.GeneratorFailure
	if errors.As(err, &failure) {
		return failure.Error()
	}
	return err.Error()
}

// finishCompleted merges the batch into the prior tree, stores it and announces completion
func (s *GenerationService) finishCompleted(ctx context.Context, log *logger.Logger, job *generationJob, prior *filetree.Tree, files []models.FileChange) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	batch, err := filetree.NormalizeBatch(files)
	if err != nil {
		s.finishFailed(ctx, log, job.GenerationID, job.ProjectID, fmt.Sprintf("generator produced an invalid file: %v", err))
		return
	}
	if len(batch) == 0 {
		s.finishFailed(ctx, log, job.GenerationID, job.ProjectID, "generator finished without producing files")
		return
	}

	next, err := prior.Apply(batch)
	if err != nil {
		s.finishFailed(ctx, log, job.GenerationID, job.ProjectID, fmt.Sprintf("failed to apply file changes: %v", err))
		return
	}
	changes, err := filetree.Diff(prior, next)
	if err != nil {
		log.Warn("failed to diff file trees", "error", err)
	}

	if err := s.store.SetFileChanges(fctx, job.GenerationID, next.Files()); err != nil {
		s.handleFinalizeError(ctx, log, job, "failed to store file changes", err)
		return
	}

	rec, err := s.store.Complete(fctx, job.GenerationID)
	if err != nil {
		s.handleFinalizeError(ctx, log, job, "failed to complete generation", err)
		return
	}

	log.Info("generation completed",
		"files", len(rec.FileChanges),
		"added", len(changes.Added),
		"modified", len(changes.Modified),
	)
	s.publish(fctx, log, job.ProjectID, events.GenerationComplete, events.CompletePayload{
		GenerationID: rec.ID.String(),
		Files:        rec.FileChanges,
		Changed:      changes.Paths(),
	})
}

func (s *GenerationService) handleFinalizeError(ctx context.Context, log *logger.Logger, job *generationJob, what string, err error) {
	if errors.Is(err, models.ErrRecordFinalized) {
		log.Warn("generation finalized elsewhere", "error", err)
		return
	}
	log.Error(what, "error", err)
	s.finishFailed(ctx, log, job.GenerationID, job.ProjectID, fmt.Sprintf("%s: %v", what, err))
}

// finishFailed fails the record and announces it. A record already finalized
// (for instance by the watchdog) is left alone.
func (s *GenerationService) finishFailed(ctx context.Context, log *logger.Logger, id uuid.UUID, projectID, message string) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if _, err := s.store.Fail(fctx, id, message); err != nil {
		if errors.Is(err, models.ErrRecordFinalized) {
			log.Warn("generation already finalized", "error", err)
		} else {
			log.Error("failed to record generation failure", "error", err)
		}
		return
	}

	s.publish(fctx, log, projectID, events.GenerationError, events.ErrorPayload{GenerationID: id.String(), Error: message})
}

// publish never fails the caller; events are a convenience stream
func (s *GenerationService) publish(ctx context.Context, log *logger.Logger, projectID string, eventType events.Type, payload any) {
	if err := s.publisher.Publish(ctx, projectID, eventType, payload); err != nil {
		log.Warn("failed to publish event", "type", eventType, "error", err)
	}
}

// GetGeneration returns one record
func (s *GenerationService) GetGeneration(ctx context.Context, id uuid.UUID) (*models.GenerationRecord, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.CurrentPhase = lifecycle.CurrentPhase(rec)
	return rec, nil
}

// ListGenerations returns up to limit recent records of a project
func (s *GenerationService) ListGenerations(ctx context.Context, projectID string, limit int) ([]*models.GenerationRecord, error) {
	if limit <= 0 {
		limit = s.history
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	recs, err := s.store.ListByProject(ctx, projectID, limit)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		rec.CurrentPhase = lifecycle.CurrentPhase(rec)
	}
	return recs, nil
}

// GetLatestWithFiles returns the project's last known-good file set
func (s *GenerationService) GetLatestWithFiles(ctx context.Context, projectID string) (*models.GenerationRecord, error) {
	return s.store.GetLatestWithFiles(ctx, projectID)
}
