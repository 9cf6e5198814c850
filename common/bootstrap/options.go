package bootstrap

import (
	"github.com/lyzr/appforge/common/config"
	"github.com/lyzr/appforge/common/db"
	"github.com/lyzr/appforge/common/logger"
)

// Option configures Setup
type Option func(*options)

type options struct {
	skipTelemetry bool
	customLogger  *logger.Logger
	customConfig  *config.Config
	dbInitHook    func(*db.DB) error
}

// WithoutTelemetry skips the pprof listener
func WithoutTelemetry() Option {
	return func(o *options) { o.skipTelemetry = true }
}

// WithCustomLogger uses log instead of building one from config
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) { o.customLogger = log }
}

// WithCustomConfig uses cfg instead of loading from the environment
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) { o.customConfig = cfg }
}

// WithDBInitHook runs hook once the pool is up, e.g. to apply the schema
func WithDBInitHook(hook func(*db.DB) error) Option {
	return func(o *options) { o.dbInitHook = hook }
}
