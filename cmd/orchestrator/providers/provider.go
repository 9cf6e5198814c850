// Package providers holds the deploy provider adapters. Every adapter satisfies
// one Submit/Poll contract and is looked up by name in a Registry.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lyzr/appforge/common/clients"
	"github.com/lyzr/appforge/common/models"
)

// Auto asks the registry to pick a provider from the file set
const Auto = "auto"

// Bundle is what gets shipped to a provider
type Bundle struct {
	DeploymentID string
	ProjectID    string
	Files        []models.FileChange
}

// Handle is the result of a submission: an immediate URL or a job reference to poll
type Handle struct {
	URL    string
	JobRef string
}

// Immediate reports whether the deployment is already live
func (h Handle) Immediate() bool {
	return h.URL != "" && h.JobRef == ""
}

// State is a provider-side deployment state normalized across providers
type State string

const (
	StateBuilding State = "building"
	StateReady    State = "ready"
	StateError    State = "error"
)

// Status is the result of one poll
type Status struct {
	State State
	URL   string
	Error string
}

// Provider publishes a file bundle to an external host
type Provider interface {
	Name() string
	Configured() bool
	Submit(ctx context.Context, bundle Bundle) (Handle, error)
	Poll(ctx context.Context, jobRef string) (Status, error)
}

// apiError is a non-2xx response from a provider API
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

// doJSON sends a request and decodes a JSON response into out
func doJSON(ctx context.Context, client *clients.HTTPClient, method, url, token, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(clients.WithToken(ctx, token), method, url, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &apiError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func jsonBody(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}
