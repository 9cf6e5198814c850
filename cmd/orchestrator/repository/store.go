package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/appforge/common/models"
)

// GenerationStore is the durable record of generation attempts.
// Every mutation of one record is applied atomically relative to the others.
type GenerationStore interface {
	// Create inserts a queued record. Fails with models.ErrConcurrentGeneration
	// when the project already has a queued or running generation.
	Create(ctx context.Context, projectID, prompt string, prdID *string) (*models.GenerationRecord, error)

	Get(ctx context.Context, id uuid.UUID) (*models.GenerationRecord, error)

	// Start moves a queued record to running
	Start(ctx context.Context, id uuid.UUID) (*models.GenerationRecord, error)

	// AppendPhase upserts a phase by name and returns its new state
	AppendPhase(ctx context.Context, id uuid.UUID, name string, status models.PhaseStatus, message string) (*models.PhaseRecord, error)

	// SetFileChanges stages the full file set; it becomes visible on Complete
	SetFileChanges(ctx context.Context, id uuid.UUID, changes []models.FileChange) error

	// Complete promotes the staged file set and marks the record completed
	Complete(ctx context.Context, id uuid.UUID) (*models.GenerationRecord, error)

	// Fail marks the record failed and discards any staged files
	Fail(ctx context.Context, id uuid.UUID, message string) (*models.GenerationRecord, error)

	// ListByProject returns the most recent records first
	ListByProject(ctx context.Context, projectID string, limit int) ([]*models.GenerationRecord, error)

	// GetLatestWithFiles returns the newest terminal record with files, or models.ErrNotFound
	GetLatestWithFiles(ctx context.Context, projectID string) (*models.GenerationRecord, error)

	// ListStale returns non-terminal records created before cutoff
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.GenerationRecord, error)
}

// DeploymentStore persists deployment jobs
type DeploymentStore interface {
	// Create inserts a job in the deploying state
	Create(ctx context.Context, job *models.DeploymentJob) error

	Get(ctx context.Context, id uuid.UUID) (*models.DeploymentJob, error)

	ListByGeneration(ctx context.Context, generationID uuid.UUID) ([]*models.DeploymentJob, error)

	// RecordPoll stores the provider reference and poll count of a deploying job
	RecordPoll(ctx context.Context, id uuid.UUID, providerRef *string, attempts int) error

	// Finish writes the terminal state. Fails with models.ErrRecordFinalized
	// if the job already left deploying.
	Finish(ctx context.Context, job *models.DeploymentJob) error

	// ListStale returns deploying jobs created before cutoff, oldest first
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.DeploymentJob, error)
}
