package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/appforge/common/filetree"
	"github.com/lyzr/appforge/common/lifecycle"
	"github.com/lyzr/appforge/common/models"
)

// MemoryGenerationStore is an in-process GenerationStore for single-instance
// deployments and tests. The single-flight guard only holds within the process.
type MemoryGenerationStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.GenerationRecord
	staged  map[uuid.UUID][]models.FileChange
	order   []uuid.UUID // creation order
	now     func() time.Time
}

// NewMemoryGenerationStore creates an empty store
func NewMemoryGenerationStore() *MemoryGenerationStore {
	return &MemoryGenerationStore{
		records: make(map[uuid.UUID]*models.GenerationRecord),
		staged:  make(map[uuid.UUID][]models.FileChange),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryGenerationStore) Create(ctx context.Context, projectID, prompt string, prdID *string) (*models.GenerationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.ProjectID == projectID && !rec.IsTerminal() {
			return nil, models.ErrConcurrentGeneration
		}
	}

	rec := &models.GenerationRecord{
		ID:          uuid.New(),
		ProjectID:   projectID,
		Status:      models.GenerationQueued,
		Prompt:      prompt,
		PrdID:       prdID,
		Phases:      []models.PhaseRecord{},
		FileChanges: []models.FileChange{},
		CreatedAt:   s.now(),
	}
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return rec.Clone(), nil
}

func (s *MemoryGenerationStore) Get(ctx context.Context, id uuid.UUID) (*models.GenerationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return rec.Clone(), nil
}

// mutable returns the stored record for a non-terminal generation
func (s *MemoryGenerationStore) mutable(id uuid.UUID) (*models.GenerationRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if rec.IsTerminal() {
		return nil, models.ErrRecordFinalized
	}
	return rec, nil
}

func (s *MemoryGenerationStore) Start(ctx context.Context, id uuid.UUID) (*models.GenerationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.mutable(id)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.GenerationQueued {
		return nil, models.ErrAlreadyStarted
	}

	now := s.now()
	rec.Status = models.GenerationRunning
	rec.StartedAt = &now
	return rec.Clone(), nil
}

func (s *MemoryGenerationStore) AppendPhase(ctx context.Context, id uuid.UUID, name string, status models.PhaseStatus, message string) (*models.PhaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, models.ErrNotFound
	}

	// Advance on a copy so a rejected report leaves the stored record untouched
	next := rec.Clone()
	idx, err := lifecycle.Advance(next, name, status, message)
	if err != nil {
		return nil, err
	}
	s.records[id] = next

	phase := next.Phases[idx]
	return &phase, nil
}

func (s *MemoryGenerationStore) SetFileChanges(ctx context.Context, id uuid.UUID, changes []models.FileChange) error {
	files, err := filetree.NormalizeBatch(changes)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return models.ErrNoFiles
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.mutable(id); err != nil {
		return err
	}
	s.staged[id] = files
	return nil
}

func (s *MemoryGenerationStore) Complete(ctx context.Context, id uuid.UUID) (*models.GenerationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.mutable(id)
	if err != nil {
		return nil, err
	}
	files := s.staged[id]
	if len(files) == 0 {
		return nil, models.ErrNoFiles
	}

	now := s.now()
	rec.Status = models.GenerationCompleted
	rec.FileChanges = files
	rec.CompletedAt = &now
	delete(s.staged, id)
	return rec.Clone(), nil
}

func (s *MemoryGenerationStore) Fail(ctx context.Context, id uuid.UUID, message string) (*models.GenerationRecord, error) {
	if message == "" {
		message = "generation failed"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.mutable(id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec.Status = models.GenerationFailed
	rec.Error = &message
	rec.CompletedAt = &now
	delete(s.staged, id)
	return rec.Clone(), nil
}

func (s *MemoryGenerationStore) ListByProject(ctx context.Context, projectID string, limit int) ([]*models.GenerationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*models.GenerationRecord{}
	for i := len(s.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if rec := s.records[s.order[i]]; rec.ProjectID == projectID {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (s *MemoryGenerationStore) GetLatestWithFiles(ctx context.Context, projectID string) (*models.GenerationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.order) - 1; i >= 0; i-- {
		rec := s.records[s.order[i]]
		if rec.ProjectID == projectID && rec.IsTerminal() && rec.HasFiles() {
			return rec.Clone(), nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *MemoryGenerationStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.GenerationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*models.GenerationRecord{}
	for _, id := range s.order {
		if limit > 0 && len(out) >= limit {
			break
		}
		rec := s.records[id]
		if !rec.IsTerminal() && rec.CreatedAt.Before(cutoff) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// MemoryDeploymentStore is an in-process DeploymentStore
type MemoryDeploymentStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.DeploymentJob
	seq  map[uuid.UUID]int
	next int
}

// NewMemoryDeploymentStore creates an empty store
func NewMemoryDeploymentStore() *MemoryDeploymentStore {
	return &MemoryDeploymentStore{
		jobs: make(map[uuid.UUID]*models.DeploymentJob),
		seq:  make(map[uuid.UUID]int),
	}
}

func copyJob(job *models.DeploymentJob) *models.DeploymentJob {
	out := *job
	return &out
}

func (s *MemoryDeploymentStore) Create(ctx context.Context, job *models.DeploymentJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	s.jobs[job.ID] = copyJob(job)
	s.seq[job.ID] = s.next
	s.next++
	return nil
}

func (s *MemoryDeploymentStore) Get(ctx context.Context, id uuid.UUID) (*models.DeploymentJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyJob(job), nil
}

func (s *MemoryDeploymentStore) ListByGeneration(ctx context.Context, generationID uuid.UUID) ([]*models.DeploymentJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := []*models.DeploymentJob{}
	for _, job := range s.jobs {
		if job.GenerationID == generationID {
			jobs = append(jobs, copyJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return s.seq[jobs[i].ID] > s.seq[jobs[j].ID]
	})
	return jobs, nil
}

func (s *MemoryDeploymentStore) RecordPoll(ctx context.Context, id uuid.UUID, providerRef *string, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.ErrNotFound
	}
	if job.Status != models.DeploymentDeploying {
		return models.ErrRecordFinalized
	}
	job.ProviderRef = providerRef
	job.PollAttempts = attempts
	return nil
}

func (s *MemoryDeploymentStore) Finish(ctx context.Context, job *models.DeploymentJob) error {
	if !job.Status.IsTerminal() {
		return fmt.Errorf("finish requires a terminal status, got %s", job.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[job.ID]
	if !ok {
		return models.ErrNotFound
	}
	if current.Status != models.DeploymentDeploying {
		return models.ErrRecordFinalized
	}
	s.jobs[job.ID] = copyJob(job)
	return nil
}

func (s *MemoryDeploymentStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.DeploymentJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := []*models.DeploymentJob{}
	for _, job := range s.jobs {
		if job.Status == models.DeploymentDeploying && job.CreatedAt.Before(cutoff) {
			jobs = append(jobs, copyJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return s.seq[jobs[i].ID] < s.seq[jobs[j].ID]
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}
