// Package generator adapts the external code generator. A generator streams
// phase and log events while it runs and finishes with a file batch or an error.
package generator

import (
	"context"

	"github.com/google/uuid"
	"github.com/lyzr/appforge/common/models"
)

// EventKind distinguishes generator stream events
type EventKind string

const (
	EventPhase EventKind = "phase"
	EventLog   EventKind = "log"
)

// Event is one report from a running generator
type Event struct {
	Kind    EventKind
	Phase   string
	Status  models.PhaseStatus
	Message string
}

// Request is the input of one generation
type Request struct {
	GenerationID uuid.UUID           `json:"generationId"`
	ProjectID    string              `json:"projectId"`
	Prompt       string              `json:"prompt"`
	PrdID        *string             `json:"prdId,omitempty"`
	PriorFiles   []models.FileChange `json:"files,omitempty"`
}

// Generator runs one generation. emit is called synchronously in report order;
// a returned error is recorded as the generation's failure cause.
type Generator interface {
	Generate(ctx context.Context, req Request, emit func(Event)) ([]models.FileChange, error)
}

// Func adapts a function to the Generator interface
type Func func(ctx context.Context, req Request, emit func(Event)) ([]models.FileChange, error)

func (f Func) Generate(ctx context.Context, req Request, emit func(Event)) ([]models.FileChange, error) {
	return f(ctx, req, emit)
}
