package models

import (
	"time"

	"github.com/google/uuid"
)

// DeploymentStatus represents the status of a deployment job
type DeploymentStatus string

const (
	DeploymentPending   DeploymentStatus = "pending"
	DeploymentDeploying DeploymentStatus = "deploying"
	DeploymentSucceeded DeploymentStatus = "succeeded"
	DeploymentFailed    DeploymentStatus = "failed"
)

// IsTerminal reports whether the job reached succeeded or failed
func (s DeploymentStatus) IsTerminal() bool {
	return s == DeploymentSucceeded || s == DeploymentFailed
}

// DeploymentJob is one attempt to publish a generation's files
// Maps to: deployment_job table
type DeploymentJob struct {
	ID           uuid.UUID        `db:"deployment_id" json:"id"`
	GenerationID uuid.UUID        `db:"generation_id" json:"generation_id"`
	ProjectID    string           `db:"project_id" json:"project_id"`
	Provider     string           `db:"provider" json:"provider"`
	Status       DeploymentStatus `db:"status" json:"status"`

	// Set iff Status is succeeded
	URL *string `db:"url" json:"url,omitempty"`

	// Set iff Status is failed
	Error *string `db:"error" json:"error,omitempty"`

	// Provider-side deployment id, when the adapter returned a job handle
	ProviderRef *string `db:"provider_ref" json:"provider_ref,omitempty"`

	PollAttempts int        `db:"poll_attempts" json:"poll_attempts"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// ProviderInfo describes a deploy provider to clients
type ProviderInfo struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
}
