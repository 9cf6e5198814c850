package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lyzr/appforge/common/db"
	"github.com/lyzr/appforge/common/filetree"
	"github.com/lyzr/appforge/common/lifecycle"
	"github.com/lyzr/appforge/common/models"
)

// activeGenerationIndex is the partial unique index backing the single-flight guard
const activeGenerationIndex = "generation_one_active_per_project"

const generationColumns = `generation_id, project_id, status, prompt, prd_id, error, created_at, started_at, completed_at`

// querier is satisfied by both the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GenerationRepository handles database operations for generation records
type GenerationRepository struct {
	db *db.DB
}

// NewGenerationRepository creates a new generation repository
func NewGenerationRepository(database *db.DB) *GenerationRepository {
	return &GenerationRepository{db: database}
}

func scanGeneration(row pgx.Row) (*models.GenerationRecord, error) {
	rec := &models.GenerationRecord{}
	err := row.Scan(
		&rec.ID,
		&rec.ProjectID,
		&rec.Status,
		&rec.Prompt,
		&rec.PrdID,
		&rec.Error,
		&rec.CreatedAt,
		&rec.StartedAt,
		&rec.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Phases = []models.PhaseRecord{}
	rec.FileChanges = []models.FileChange{}
	return rec, nil
}

// Create inserts a queued generation. The partial unique index rejects a second
// non-terminal generation for the same project across every server instance.
func (r *GenerationRepository) Create(ctx context.Context, projectID, prompt string, prdID *string) (*models.GenerationRecord, error) {
	query := `
		INSERT INTO generation (generation_id, project_id, status, prompt, prd_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + generationColumns

	rec, err := scanGeneration(r.db.QueryRow(ctx, query, uuid.New(), projectID, models.GenerationQueued, prompt, prdID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == activeGenerationIndex {
			return nil, models.ErrConcurrentGeneration
		}
		return nil, fmt.Errorf("failed to create generation: %w", err)
	}

	return rec, nil
}

// Get retrieves a generation with its phases and promoted files
func (r *GenerationRepository) Get(ctx context.Context, id uuid.UUID) (*models.GenerationRecord, error) {
	query := `SELECT ` + generationColumns + ` FROM generation WHERE generation_id = $1`

	rec, err := scanGeneration(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get generation: %w", err)
	}

	if err := loadDetails(ctx, r.db, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// withLocked runs fn inside a transaction holding the generation row lock
func (r *GenerationRepository) withLocked(ctx context.Context, id uuid.UUID, fn func(tx pgx.Tx, rec *models.GenerationRecord) error) error {
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		query := `SELECT ` + generationColumns + ` FROM generation WHERE generation_id = $1 FOR UPDATE`
		rec, err := scanGeneration(tx.QueryRow(ctx, query, id))
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return err
			}
			return fmt.Errorf("failed to lock generation: %w", err)
		}
		return fn(tx, rec)
	})
}

// Start moves a queued generation to running
func (r *GenerationRepository) Start(ctx context.Context, id uuid.UUID) (*models.GenerationRecord, error) {
	var out *models.GenerationRecord
	err := r.withLocked(ctx, id, func(tx pgx.Tx, rec *models.GenerationRecord) error {
		switch {
		case rec.IsTerminal():
			return models.ErrRecordFinalized
		case rec.Status != models.GenerationQueued:
			return models.ErrAlreadyStarted
		}

		now := time.Now().UTC()
		_, err := tx.Exec(ctx, `UPDATE generation SET status = $2, started_at = $3 WHERE generation_id = $1`,
			id, models.GenerationRunning, now)
		if err != nil {
			return fmt.Errorf("failed to start generation: %w", err)
		}

		rec.Status = models.GenerationRunning
		rec.StartedAt = &now
		out = rec
		return loadDetails(ctx, tx, rec)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendPhase applies one phase report under the row lock
func (r *GenerationRepository) AppendPhase(ctx context.Context, id uuid.UUID, name string, status models.PhaseStatus, message string) (*models.PhaseRecord, error) {
	var out *models.PhaseRecord
	err := r.withLocked(ctx, id, func(tx pgx.Tx, rec *models.GenerationRecord) error {
		if err := loadPhases(ctx, tx, rec); err != nil {
			return err
		}

		idx, err := lifecycle.Advance(rec, name, status, message)
		if err != nil {
			return err
		}
		phase := rec.Phases[idx]

		query := `
			INSERT INTO generation_phase (generation_id, seq, name, status, message, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (generation_id, name) DO UPDATE
			SET status = EXCLUDED.status, message = EXCLUDED.message, updated_at = EXCLUDED.updated_at
		`
		if _, err := tx.Exec(ctx, query, id, idx, phase.Name, phase.Status, phase.Message, phase.UpdatedAt); err != nil {
			return fmt.Errorf("failed to upsert phase: %w", err)
		}

		out = &phase
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetFileChanges replaces the staged file set of a non-terminal generation
func (r *GenerationRepository) SetFileChanges(ctx context.Context, id uuid.UUID, changes []models.FileChange) error {
	files, err := filetree.NormalizeBatch(changes)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return models.ErrNoFiles
	}

	return r.withLocked(ctx, id, func(tx pgx.Tx, rec *models.GenerationRecord) error {
		if rec.IsTerminal() {
			return models.ErrRecordFinalized
		}

		if _, err := tx.Exec(ctx, `DELETE FROM generation_file WHERE generation_id = $1`, id); err != nil {
			return fmt.Errorf("failed to clear staged files: %w", err)
		}

		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"generation_file"},
			[]string{"generation_id", "path", "content", "language", "staged", "seq"},
			pgx.CopyFromSlice(len(files), func(i int) ([]any, error) {
				f := files[i]
				return []any{id, f.Path, f.Content, f.Language, true, i}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to stage files: %w", err)
		}
		return nil
	})
}

// Complete promotes staged files and marks the generation completed in one transaction
func (r *GenerationRepository) Complete(ctx context.Context, id uuid.UUID) (*models.GenerationRecord, error) {
	var out *models.GenerationRecord
	err := r.withLocked(ctx, id, func(tx pgx.Tx, rec *models.GenerationRecord) error {
		if rec.IsTerminal() {
			return models.ErrRecordFinalized
		}

		tag, err := tx.Exec(ctx, `UPDATE generation_file SET staged = false WHERE generation_id = $1 AND staged`, id)
		if err != nil {
			return fmt.Errorf("failed to promote files: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return models.ErrNoFiles
		}

		now := time.Now().UTC()
		_, err = tx.Exec(ctx, `UPDATE generation SET status = $2, completed_at = $3 WHERE generation_id = $1`,
			id, models.GenerationCompleted, now)
		if err != nil {
			return fmt.Errorf("failed to complete generation: %w", err)
		}

		rec.Status = models.GenerationCompleted
		rec.CompletedAt = &now
		out = rec
		return loadDetails(ctx, tx, rec)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Fail marks the generation failed and drops any staged files
func (r *GenerationRepository) Fail(ctx context.Context, id uuid.UUID, message string) (*models.GenerationRecord, error) {
	if message == "" {
		message = "generation failed"
	}

	var out *models.GenerationRecord
	err := r.withLocked(ctx, id, func(tx pgx.Tx, rec *models.GenerationRecord) error {
		if rec.IsTerminal() {
			return models.ErrRecordFinalized
		}

		if _, err := tx.Exec(ctx, `DELETE FROM generation_file WHERE generation_id = $1`, id); err != nil {
			return fmt.Errorf("failed to discard staged files: %w", err)
		}

		now := time.Now().UTC()
		_, err := tx.Exec(ctx, `UPDATE generation SET status = $2, error = $3, completed_at = $4 WHERE generation_id = $1`,
			id, models.GenerationFailed, message, now)
		if err != nil {
			return fmt.Errorf("failed to fail generation: %w", err)
		}

		rec.Status = models.GenerationFailed
		rec.Error = &message
		rec.CompletedAt = &now
		out = rec
		return loadPhases(ctx, tx, rec)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListByProject retrieves the most recent generations of a project
func (r *GenerationRepository) ListByProject(ctx context.Context, projectID string, limit int) ([]*models.GenerationRecord, error) {
	query := `
		SELECT ` + generationColumns + `
		FROM generation
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	records, err := r.list(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}

	for _, rec := range records {
		if err := loadDetails(ctx, r.db, rec); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// GetLatestWithFiles retrieves the newest terminal generation with promoted files
func (r *GenerationRepository) GetLatestWithFiles(ctx context.Context, projectID string) (*models.GenerationRecord, error) {
	query := `
		SELECT ` + generationColumns + `
		FROM generation g
		WHERE g.project_id = $1
		  AND g.status IN ('completed', 'failed')
		  AND EXISTS (
			SELECT 1 FROM generation_file f
			WHERE f.generation_id = g.generation_id AND NOT f.staged
		  )
		ORDER BY g.created_at DESC
		LIMIT 1
	`

	rec, err := scanGeneration(r.db.QueryRow(ctx, query, projectID))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get latest generation: %w", err)
	}

	if err := loadDetails(ctx, r.db, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListStale retrieves queued or running generations created before cutoff
func (r *GenerationRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.GenerationRecord, error) {
	query := `
		SELECT ` + generationColumns + `
		FROM generation
		WHERE status IN ('queued', 'running') AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	records, err := r.list(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale generations: %w", err)
	}
	return records, nil
}

func (r *GenerationRepository) list(ctx context.Context, query string, args ...any) ([]*models.GenerationRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.GenerationRecord
	for rows.Next() {
		rec, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func loadDetails(ctx context.Context, q querier, rec *models.GenerationRecord) error {
	if err := loadPhases(ctx, q, rec); err != nil {
		return err
	}
	return loadFiles(ctx, q, rec)
}

func loadPhases(ctx context.Context, q querier, rec *models.GenerationRecord) error {
	rows, err := q.Query(ctx, `
		SELECT name, status, message, updated_at
		FROM generation_phase
		WHERE generation_id = $1
		ORDER BY seq ASC
	`, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to get phases: %w", err)
	}
	defer rows.Close()

	rec.Phases = []models.PhaseRecord{}
	for rows.Next() {
		var p models.PhaseRecord
		if err := rows.Scan(&p.Name, &p.Status, &p.Message, &p.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan phase: %w", err)
		}
		rec.Phases = append(rec.Phases, p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating phases: %w", err)
	}
	return nil
}

// loadFiles reads promoted files only; staged rows are never visible on a record
func loadFiles(ctx context.Context, q querier, rec *models.GenerationRecord) error {
	rows, err := q.Query(ctx, `
		SELECT path, content, language
		FROM generation_file
		WHERE generation_id = $1 AND NOT staged
		ORDER BY seq ASC
	`, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to get files: %w", err)
	}
	defer rows.Close()

	rec.FileChanges = []models.FileChange{}
	for rows.Next() {
		var f models.FileChange
		if err := rows.Scan(&f.Path, &f.Content, &f.Language); err != nil {
			return fmt.Errorf("failed to scan file: %w", err)
		}
		rec.FileChanges = append(rec.FileChanges, f)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating files: %w", err)
	}
	return nil
}
