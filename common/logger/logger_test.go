package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestWithContext(t *testing.T) {
	log := Nop()
	assert.Same(t, log, log.WithContext(context.Background()))

	ctx := ContextWithRequestID(context.Background(), "req-1")
	assert.NotSame(t, log, log.WithContext(ctx))
}

func TestScopedLoggers(t *testing.T) {
	log := New("debug", "json")
	assert.NotNil(t, log.WithProjectID("p1").WithGenerationID("g1").WithDeploymentID("d1"))
}
