package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/lyzr/appforge/common/config"
	"github.com/lyzr/appforge/common/db"
	"github.com/lyzr/appforge/common/logger"
	"github.com/lyzr/appforge/common/queue"
	rediscommon "github.com/lyzr/appforge/common/redis"
	"github.com/lyzr/appforge/common/telemetry"
)

// Components are the process-wide backends shared by the orchestrator
type Components struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *db.DB              // nil with the memory store
	Redis     *rediscommon.Client // nil with local events
	Queue     queue.Queue
	Telemetry *telemetry.Telemetry // nil when skipped

	cleanups []func() error
}

// Shutdown releases components in reverse order of initialization.
// It is safe to call more than once.
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errs []error
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		if err := c.cleanups[i](); err != nil {
			c.Logger.Error("cleanup error", "error", err)
			errs = append(errs, err)
		}
	}
	c.cleanups = nil

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	c.Logger.Info("shutdown complete")
	return nil
}

// Health checks the backends the process depends on
func (c *Components) Health(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}
	return nil
}

func (c *Components) addCleanup(fn func() error) {
	c.cleanups = append(c.cleanups, fn)
}
