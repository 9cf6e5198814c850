package models

import (
	"time"

	"github.com/google/uuid"
)

// GenerationStatus represents the overall status of a generation
type GenerationStatus string

const (
	GenerationQueued    GenerationStatus = "queued"
	GenerationRunning   GenerationStatus = "running"
	GenerationCompleted GenerationStatus = "completed"
	GenerationFailed    GenerationStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible
func (s GenerationStatus) IsTerminal() bool {
	return s == GenerationCompleted || s == GenerationFailed
}

// PhaseStatus represents the status of a single generation phase
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseRunning   PhaseStatus = "running"
	PhaseCompleted PhaseStatus = "completed"
	PhaseFailed    PhaseStatus = "failed"
)

// IsTerminal reports whether the phase has finished
func (s PhaseStatus) IsTerminal() bool {
	return s == PhaseCompleted || s == PhaseFailed
}

// Valid reports whether s is a known phase status
func (s PhaseStatus) Valid() bool {
	switch s {
	case PhasePending, PhaseRunning, PhaseCompleted, PhaseFailed:
		return true
	}
	return false
}

// PhaseRecord is one named step reported by the generator
// Maps to: generation_phase table
type PhaseRecord struct {
	Name      string      `db:"name" json:"name"`
	Status    PhaseStatus `db:"status" json:"status"`
	Message   string      `db:"message" json:"message,omitempty"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}

// FileChange is a whole-file revision produced by a generation
// Maps to: generation_file table
type FileChange struct {
	Path     string `db:"path" json:"path" validate:"required"`
	Content  string `db:"content" json:"content"`
	Language string `db:"language" json:"language,omitempty"`
}

// GenerationRecord is the durable record of one generation attempt
// Maps to: generation table (+ generation_phase, generation_file)
type GenerationRecord struct {
	ID        uuid.UUID        `db:"generation_id" json:"id"`
	ProjectID string           `db:"project_id" json:"project_id"`
	Status    GenerationStatus `db:"status" json:"status"`
	Prompt    string           `db:"prompt" json:"prompt"`
	PrdID     *string          `db:"prd_id" json:"prd_id,omitempty"`

	// Ordered by first report; upserted by name
	Phases []PhaseRecord `json:"phases"`

	// Empty unless Status is completed
	FileChanges []FileChange `json:"file_changes"`

	// Set iff Status is failed
	Error *string `db:"error" json:"error,omitempty"`

	// Derived from Phases when served; never stored
	CurrentPhase *PhaseRecord `db:"-" json:"current_phase,omitempty"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// IsTerminal reports whether the record reached completed or failed
func (g *GenerationRecord) IsTerminal() bool {
	return g.Status.IsTerminal()
}

// HasFiles reports whether the record carries a usable file set
func (g *GenerationRecord) HasFiles() bool {
	return len(g.FileChanges) > 0
}

// Clone returns a deep copy so callers cannot mutate stored state
func (g *GenerationRecord) Clone() *GenerationRecord {
	if g == nil {
		return nil
	}
	out := *g
	out.Phases = append([]PhaseRecord(nil), g.Phases...)
	out.FileChanges = append([]FileChange(nil), g.FileChanges...)
	if g.PrdID != nil {
		v := *g.PrdID
		out.PrdID = &v
	}
	if g.Error != nil {
		v := *g.Error
		out.Error = &v
	}
	if g.StartedAt != nil {
		v := *g.StartedAt
		out.StartedAt = &v
	}
	if g.CompletedAt != nil {
		v := *g.CompletedAt
		out.CompletedAt = &v
	}
	return &out
}
