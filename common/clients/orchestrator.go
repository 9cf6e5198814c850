package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/appforge/common/models"
)

// OrchestratorClient handles communication with the orchestrator API
// It uses context to pass authentication and other metadata
type OrchestratorClient struct {
	baseURL string
	token   string
	http    *HTTPClient
	logger  Logger
}

// NewOrchestratorClient creates a new orchestrator client
func NewOrchestratorClient(cfg *ClientConfig, logger Logger) *OrchestratorClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	return &OrchestratorClient{
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		token:   cfg.Token,
		http:    NewHTTPClient(httpClient, logger),
		logger:  logger,
	}
}

// WithHTTPClient replaces the underlying client, for long waits or tests
func (c *OrchestratorClient) WithHTTPClient(client *http.Client) *OrchestratorClient {
	c.http = NewHTTPClient(client, c.logger)
	return c
}

// BaseURL returns the API root
func (c *OrchestratorClient) BaseURL() string {
	return c.baseURL
}

// APIError is a non-2xx API response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d: %s", e.StatusCode, e.Message)
}

// Is maps status codes back to the domain sentinels
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusNotFound:
		return target == models.ErrNotFound
	case http.StatusConflict:
		return target == models.ErrConcurrentGeneration
	case http.StatusPreconditionFailed:
		return target == models.ErrNoFiles
	}
	return false
}

// do sends body as JSON and decodes a 2xx response into out
func (c *OrchestratorClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	if c.token != "" {
		ctx = WithToken(ctx, c.token)
	}

	resp, err := c.http.DoRequest(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// StartGenerationInput is the body of a generation request
type StartGenerationInput struct {
	Prompt string              `json:"prompt"`
	PrdID  *string             `json:"prdId,omitempty"`
	Files  []models.FileChange `json:"files,omitempty"`
}

// StartGeneration queues a generation and returns its id
func (c *OrchestratorClient) StartGeneration(ctx context.Context, projectID string, in StartGenerationInput) (uuid.UUID, error) {
	c.logger.Debug("starting generation", "project_id", projectID)

	var resp struct {
		GenerationID uuid.UUID `json:"generationId"`
	}
	path := fmt.Sprintf("/projects/%s/generations", url.PathEscape(projectID))
	if err := c.do(ctx, http.MethodPost, path, in, &resp); err != nil {
		return uuid.Nil, err
	}
	return resp.GenerationID, nil
}

// ListGenerations returns up to limit recent generations, newest first.
// A zero limit uses the server default.
func (c *OrchestratorClient) ListGenerations(ctx context.Context, projectID string, limit int) ([]*models.GenerationRecord, error) {
	path := fmt.Sprintf("/projects/%s/generations", url.PathEscape(projectID))
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}

	var resp struct {
		Generations []*models.GenerationRecord `json:"generations"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Generations, nil
}

// GetLatest returns the project's last generation with files.
// errors.Is(err, models.ErrNotFound) when there is none.
func (c *OrchestratorClient) GetLatest(ctx context.Context, projectID string) (*models.GenerationRecord, error) {
	var rec models.GenerationRecord
	path := fmt.Sprintf("/projects/%s/generations/latest", url.PathEscape(projectID))
	if err := c.do(ctx, http.MethodGet, path, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetGeneration returns one generation
func (c *OrchestratorClient) GetGeneration(ctx context.Context, id uuid.UUID) (*models.GenerationRecord, error) {
	var rec models.GenerationRecord
	if err := c.do(ctx, http.MethodGet, "/generations/"+id.String(), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Deploy starts a deployment. With wait the call returns the terminal job,
// otherwise the job comes back as deploying.
func (c *OrchestratorClient) Deploy(ctx context.Context, generationID uuid.UUID, provider string, wait bool) (*models.DeploymentJob, error) {
	path := "/generations/" + generationID.String() + "/deployments"
	if wait {
		path += "?wait=true"
	}

	var job models.DeploymentJob
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"provider": provider}, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetDeployment returns one deployment job
func (c *OrchestratorClient) GetDeployment(ctx context.Context, id uuid.UUID) (*models.DeploymentJob, error) {
	var job models.DeploymentJob
	if err := c.do(ctx, http.MethodGet, "/deployments/"+id.String(), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListDeployments returns a generation's deployments, newest first
func (c *OrchestratorClient) ListDeployments(ctx context.Context, generationID uuid.UUID) ([]*models.DeploymentJob, error) {
	var resp struct {
		Deployments []*models.DeploymentJob `json:"deployments"`
	}
	if err := c.do(ctx, http.MethodGet, "/generations/"+generationID.String()+"/deployments", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Deployments, nil
}

// Providers lists deploy providers and whether each is configured
func (c *OrchestratorClient) Providers(ctx context.Context) ([]models.ProviderInfo, error) {
	var resp struct {
		Providers []models.ProviderInfo `json:"providers"`
	}
	if err := c.do(ctx, http.MethodGet, "/providers", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Providers, nil
}

// WaitForGeneration polls until the generation is terminal
func (c *OrchestratorClient) WaitForGeneration(ctx context.Context, id uuid.UUID, interval time.Duration) (*models.GenerationRecord, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		rec, err := c.GetGeneration(ctx, id)
		if err != nil && !isTransient(err) {
			return nil, err
		}
		if err == nil && rec.IsTerminal() {
			return rec, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func isTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return true
}
