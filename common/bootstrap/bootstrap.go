package bootstrap

import (
	"context"
	"fmt"

	"github.com/lyzr/appforge/common/config"
	"github.com/lyzr/appforge/common/db"
	"github.com/lyzr/appforge/common/logger"
	"github.com/lyzr/appforge/common/queue"
	rediscommon "github.com/lyzr/appforge/common/redis"
	"github.com/lyzr/appforge/common/telemetry"
)

// stage initializes one component and registers its cleanup
type stage struct {
	name string
	run  func(ctx context.Context, c *Components, o *options) error
}

// stages run in order; Shutdown unwinds them in reverse
var stages = []stage{
	{"database", setupDB},
	{"redis", setupRedis},
	{"queue", setupQueue},
	{"telemetry", setupTelemetry},
}

// Setup loads configuration and brings up the backends it selects:
// Postgres for the postgres store, Redis for redis events, and the
// generation dispatch queue
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.customConfig
	if cfg == nil {
		var err error
		if cfg, err = config.Load(serviceName); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	log := o.customLogger
	if log == nil {
		log = logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)
	}

	c := &Components{Config: cfg, Logger: log}
	log.Info("initializing service",
		"service", serviceName,
		"environment", cfg.Service.Environment,
		"store", cfg.Store.Backend,
		"events", cfg.Events.Backend,
		"queue", cfg.Queue.Type,
	)

	for _, s := range stages {
		if err := s.run(ctx, c, o); err != nil {
			c.Shutdown(ctx)
			return nil, fmt.Errorf("failed to initialize %s: %w", s.name, err)
		}
	}

	log.Info("service initialization complete",
		"service", serviceName,
		"db", c.DB != nil,
		"redis", c.Redis != nil,
		"pprof", cfg.Telemetry.PprofPort != 0,
	)
	return c, nil
}

func setupDB(ctx context.Context, c *Components, o *options) error {
	if c.Config.Store.Backend != "postgres" {
		return nil
	}

	database, err := db.New(ctx, c.Config, c.Logger)
	if err != nil {
		return err
	}
	c.DB = database
	c.addCleanup(func() error {
		database.Close()
		return nil
	})

	if o.dbInitHook != nil {
		if err := o.dbInitHook(database); err != nil {
			return fmt.Errorf("init hook: %w", err)
		}
	}
	return nil
}

func setupRedis(ctx context.Context, c *Components, _ *options) error {
	if c.Config.Events.Backend != "redis" {
		return nil
	}

	client, err := rediscommon.Connect(ctx, rediscommon.Options{
		Addr:     c.Config.RedisAddr(),
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	}, c.Logger)
	if err != nil {
		return err
	}
	c.Redis = client
	c.addCleanup(func() error {
		c.Logger.Info("closing redis")
		return client.Close()
	})
	return nil
}

func setupQueue(_ context.Context, c *Components, _ *options) error {
	var (
		q   queue.Queue
		err error
	)
	switch c.Config.Queue.Type {
	case "memory":
		q = queue.NewMemoryQueue(c.Logger)
	case "rabbitmq":
		if q, err = queue.NewRabbitMQQueue(c.Config.Queue.RabbitMQURL, c.Config.Queue.Exchange, c.Logger); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown queue type: %s", c.Config.Queue.Type)
	}

	c.Queue = q
	c.addCleanup(func() error {
		c.Logger.Info("closing queue")
		return q.Close()
	})
	return nil
}

// setupTelemetry never fails startup; a busy pprof port is only logged
func setupTelemetry(ctx context.Context, c *Components, o *options) error {
	if o.skipTelemetry {
		return nil
	}

	t := telemetry.New(c.Config.Telemetry.PprofPort, c.Logger)
	if err := t.Start(ctx); err != nil {
		c.Logger.Warn("failed to start telemetry", "error", err)
	}
	c.Telemetry = t
	c.addCleanup(func() error {
		return t.Stop(context.Background())
	})
	return nil
}
