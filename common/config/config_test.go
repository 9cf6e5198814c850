package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("orchestrator")
	require.NoError(t, err)

	assert.Equal(t, "orchestrator", cfg.Service.Name)
	assert.Equal(t, 8080, cfg.Service.Port)
	assert.Equal(t, "memory", cfg.Queue.Type)
	assert.Equal(t, "local", cfg.Events.Backend)
	assert.Equal(t, 15*time.Minute, cfg.Generation.MaxDuration)
	assert.Equal(t, 3*time.Second, cfg.Deploy.PollInterval)
	assert.Equal(t, 3, cfg.Deploy.MaxPollFailures)
	assert.Empty(t, cfg.Deploy.AutoRules)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9191")
	t.Setenv("GENERATION_MAX_DURATION", "2m")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("DEPLOY_AUTO_RULES", `railway=files.exists(f, f.path == "Dockerfile"); vercel = true ;bogus`)

	cfg, err := Load("orchestrator")
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Service.Port)
	assert.Equal(t, 2*time.Minute, cfg.Generation.MaxDuration)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, map[string]string{
		"railway": `files.exists(f, f.path == "Dockerfile")`,
		"vercel":  "true",
	}, cfg.Deploy.AutoRules)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "appforge.yaml")
	require.NoError(t, os.WriteFile(file, []byte("VERCEL_TOKEN: tok\nDEPLOY_TIMEOUT: 90s\n"), 0o600))
	t.Setenv("CONFIG_FILE", file)

	cfg, err := Load("orchestrator")
	require.NoError(t, err)
	assert.Equal(t, "tok", cfg.Providers.VercelToken)
	assert.Equal(t, 90*time.Second, cfg.Deploy.Timeout)
}

func TestValidate(t *testing.T) {
	t.Setenv("QUEUE_TYPE", "kafka")
	_, err := Load("orchestrator")
	assert.ErrorContains(t, err, "unknown queue type")

	t.Setenv("QUEUE_TYPE", "memory")
	t.Setenv("AUTH_REQUIRED", "true")
	_, err = Load("orchestrator")
	assert.ErrorContains(t, err, "AUTH_JWT_SECRET")
}
