package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lyzr/appforge/common/db"
	"github.com/lyzr/appforge/common/models"
)

const deploymentColumns = `deployment_id, generation_id, project_id, provider, status, url, error, provider_ref, poll_attempts, created_at, completed_at`

// DeploymentRepository handles database operations for deployment jobs
type DeploymentRepository struct {
	db *db.DB
}

// NewDeploymentRepository creates a new deployment repository
func NewDeploymentRepository(database *db.DB) *DeploymentRepository {
	return &DeploymentRepository{db: database}
}

func scanDeployment(row pgx.Row) (*models.DeploymentJob, error) {
	job := &models.DeploymentJob{}
	err := row.Scan(
		&job.ID,
		&job.GenerationID,
		&job.ProjectID,
		&job.Provider,
		&job.Status,
		&job.URL,
		&job.Error,
		&job.ProviderRef,
		&job.PollAttempts,
		&job.CreatedAt,
		&job.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return job, err
}

// Create inserts a new deployment job
func (r *DeploymentRepository) Create(ctx context.Context, job *models.DeploymentJob) error {
	query := `
		INSERT INTO deployment_job (deployment_id, generation_id, project_id, provider, status, poll_attempts)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		job.ID,
		job.GenerationID,
		job.ProjectID,
		job.Provider,
		job.Status,
		job.PollAttempts,
	).Scan(&job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create deployment: %w", err)
	}

	return nil
}

// Get retrieves a deployment job by ID
func (r *DeploymentRepository) Get(ctx context.Context, id uuid.UUID) (*models.DeploymentJob, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployment_job WHERE deployment_id = $1`

	job, err := scanDeployment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}
	return job, nil
}

// ListByGeneration retrieves the deployments of a generation, newest first
func (r *DeploymentRepository) ListByGeneration(ctx context.Context, generationID uuid.UUID) ([]*models.DeploymentJob, error) {
	query := `
		SELECT ` + deploymentColumns + `
		FROM deployment_job
		WHERE generation_id = $1
		ORDER BY created_at DESC
	`

	jobs, err := r.list(ctx, query, generationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	return jobs, nil
}

// ListStale retrieves deploying jobs created before cutoff
func (r *DeploymentRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.DeploymentJob, error) {
	query := `
		SELECT ` + deploymentColumns + `
		FROM deployment_job
		WHERE status = 'deploying' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	jobs, err := r.list(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale deployments: %w", err)
	}
	return jobs, nil
}

func (r *DeploymentRepository) list(ctx context.Context, query string, args ...any) ([]*models.DeploymentJob, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []*models.DeploymentJob{}
	for rows.Next() {
		job, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RecordPoll updates polling progress of a deploying job
func (r *DeploymentRepository) RecordPoll(ctx context.Context, id uuid.UUID, providerRef *string, attempts int) error {
	query := `
		UPDATE deployment_job
		SET provider_ref = $2, poll_attempts = $3
		WHERE deployment_id = $1 AND status = 'deploying'
	`

	tag, err := r.db.Exec(ctx, query, id, providerRef, attempts)
	if err != nil {
		return fmt.Errorf("failed to record poll: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrFinal(ctx, id)
	}
	return nil
}

// Finish writes the terminal state of a deploying job
func (r *DeploymentRepository) Finish(ctx context.Context, job *models.DeploymentJob) error {
	if !job.Status.IsTerminal() {
		return fmt.Errorf("finish requires a terminal status, got %s", job.Status)
	}

	query := `
		UPDATE deployment_job
		SET status = $2, url = $3, error = $4, provider_ref = $5, poll_attempts = $6, completed_at = $7
		WHERE deployment_id = $1 AND status = 'deploying'
	`

	tag, err := r.db.Exec(ctx, query,
		job.ID,
		job.Status,
		job.URL,
		job.Error,
		job.ProviderRef,
		job.PollAttempts,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to finish deployment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrFinal(ctx, job.ID)
	}
	return nil
}

func (r *DeploymentRepository) missingOrFinal(ctx context.Context, id uuid.UUID) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return models.ErrRecordFinalized
}
