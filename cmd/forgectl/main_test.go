package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/appforge/common/models"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestGenerate_RequiresProject(t *testing.T) {
	_, err := execute(t, "generate", "build a todo app", "--api-url", "http://127.0.0.1:1")
	assert.ErrorIs(t, err, errMissingProject)
}

func TestGenerate_WaitPrintsFiles(t *testing.T) {
	id := uuid.New()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>hi</h1>"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/projects/p1/generations":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "add an about page", body["prompt"])
			assert.Len(t, body["files"], 1)
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]any{"generationId": id, "status": "queued"})
		case r.URL.Path == "/generations/"+id.String():
			json.NewEncoder(w).Encode(models.GenerationRecord{
				ID:        id,
				ProjectID: "p1",
				Status:    models.GenerationCompleted,
				Phases:    []models.PhaseRecord{{Name: "generating", Status: models.PhaseCompleted}},
				FileChanges: []models.FileChange{
					{Path: "index.html", Content: "<h1>hi</h1>"},
					{Path: "about.html", Content: "<h1>about</h1>"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out, err := execute(t, "generate", "add an about page",
		"--api-url", srv.URL, "-p", "p1", "--from", dir, "--wait", "--interval", "5ms")
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "about.html")
	assert.Contains(t, out, "generating")
}

func TestLatest_WritesTree(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/p1/generations/latest", r.URL.Path)
		json.NewEncoder(w).Encode(models.GenerationRecord{
			ID:          uuid.New(),
			ProjectID:   "p1",
			Status:      models.GenerationCompleted,
			FileChanges: []models.FileChange{{Path: "src/app.tsx", Content: "export default 1"}},
		})
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := execute(t, "latest", "--api-url", srv.URL, "-p", "p1", "-o", dir)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "src", "app.tsx"))
	require.NoError(t, err)
	assert.Equal(t, "export default 1", string(data))
}

func TestLatest_NoHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
	}))
	defer srv.Close()

	_, err := execute(t, "latest", "--api-url", srv.URL, "-p", "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no completed generation")
}

func TestDeploy_FailedJobIsError(t *testing.T) {
	genID := uuid.New()
	msg := "vercel: build failed"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("wait"))
		json.NewEncoder(w).Encode(models.DeploymentJob{
			ID:           uuid.New(),
			GenerationID: genID,
			Provider:     "vercel",
			Status:       models.DeploymentFailed,
			Error:        &msg,
		})
	}))
	defer srv.Close()

	_, err := execute(t, "deploy", genID.String(), "--api-url", srv.URL, "--provider", "vercel", "--wait")
	require.Error(t, err)
	assert.Contains(t, err.Error(), msg)
}

func TestDeploy_InvalidID(t *testing.T) {
	_, err := execute(t, "deploy", "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid id")
}

func TestProviders_Table(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"providers": []models.ProviderInfo{
			{Name: "netlify", Configured: true},
			{Name: "railway", Configured: false},
		}})
	}))
	defer srv.Close()

	out, err := execute(t, "providers", "--api-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "PROVIDER")
	assert.Contains(t, out, "netlify")
	assert.Contains(t, out, "railway")
}

func TestHistory_ShowsCurrentPhase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/p1/generations", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(map[string]any{"generations": []models.GenerationRecord{
			{
				ID:           uuid.New(),
				ProjectID:    "p1",
				Status:       models.GenerationRunning,
				Prompt:       "add dark mode",
				CurrentPhase: &models.PhaseRecord{Name: "writing-files", Status: models.PhaseRunning},
			},
			{ID: uuid.New(), ProjectID: "p1", Status: models.GenerationQueued, Prompt: "later"},
		}})
	}))
	defer srv.Close()

	out, err := execute(t, "history", "-p", "p1", "-n", "5", "--api-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "PHASE")
	assert.Contains(t, out, "writing-files (running)")
	assert.Contains(t, out, "add dark mode")
}

func TestInvalidAPIURL(t *testing.T) {
	_, err := execute(t, "providers", "--api-url", "localhost:8080")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api url")
}

func TestPhaseLabel(t *testing.T) {
	assert.Equal(t, "-", phaseLabel(nil))
	assert.Equal(t, "deploy (failed)", phaseLabel(&models.PhaseRecord{Name: "deploy", Status: models.PhaseFailed}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
