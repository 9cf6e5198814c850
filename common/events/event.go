// Package events fans generation and deployment events out to every client
// viewing a project. Rooms are in-memory and rebuilt as clients rejoin; the
// record store, not this channel, is the source of truth.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lyzr/appforge/common/models"
)

// Type names an event on the wire
type Type string

const (
	GenerationStart    Type = "generation:start"
	GenerationProgress Type = "generation:progress"
	GenerationComplete Type = "generation:complete"
	GenerationError    Type = "generation:error"
	GenerationLog      Type = "generation:log"

	DeploymentStart    Type = "deployment:start"
	DeploymentComplete Type = "deployment:complete"
	DeploymentError    Type = "deployment:error"
)

// Event is the envelope delivered to subscribers
type Event struct {
	Type      Type            `json:"type"`
	ProjectID string          `json:"projectId"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// New builds an event, encoding payload as its data
func New(projectID string, eventType Type, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Event{
		Type:      eventType,
		ProjectID: projectID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the event data into v
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Publisher delivers events to a project's room
type Publisher interface {
	Publish(ctx context.Context, projectID string, eventType Type, payload any) error
}

// StartPayload is sent with generation:start
type StartPayload struct {
	GenerationID string `json:"generationId"`
}

// ProgressPayload is sent with generation:progress
type ProgressPayload struct {
	GenerationID string             `json:"generationId"`
	Phase        models.PhaseRecord `json:"phase"`
}

// CompletePayload is sent with generation:complete
type CompletePayload struct {
	GenerationID string              `json:"generationId"`
	Files        []models.FileChange `json:"files"`
	Changed      []string            `json:"changed,omitempty"`
}

// ErrorPayload is sent with generation:error
type ErrorPayload struct {
	GenerationID string `json:"generationId"`
	Error        string `json:"error"`
}

// LogPayload is sent with generation:log
type LogPayload struct {
	GenerationID string `json:"generationId"`
	Message      string `json:"message"`
}

// DeploymentStartPayload is sent with deployment:start
type DeploymentStartPayload struct {
	DeploymentID string `json:"deploymentId"`
	GenerationID string `json:"generationId"`
	Provider     string `json:"provider"`
}

// DeploymentCompletePayload is sent with deployment:complete
type DeploymentCompletePayload struct {
	DeploymentID string `json:"deploymentId"`
	GenerationID string `json:"generationId"`
	URL          string `json:"url"`
}

// DeploymentErrorPayload is sent with deployment:error
type DeploymentErrorPayload struct {
	DeploymentID string `json:"deploymentId"`
	GenerationID string `json:"generationId"`
	Error        string `json:"error"`
}
