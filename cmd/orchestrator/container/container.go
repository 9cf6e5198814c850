package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lyzr/appforge/cmd/orchestrator/generator"
	"github.com/lyzr/appforge/cmd/orchestrator/providers"
	"github.com/lyzr/appforge/cmd/orchestrator/repository"
	"github.com/lyzr/appforge/cmd/orchestrator/service"
	"github.com/lyzr/appforge/common/bootstrap"
	"github.com/lyzr/appforge/common/clients"
	"github.com/lyzr/appforge/common/config"
	"github.com/lyzr/appforge/common/events"
	"github.com/lyzr/appforge/common/ratelimit"
)

// providerTimeout bounds a single provider API call; the deploy timeout bounds the job
const providerTimeout = 2 * time.Minute

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components

	// Event Channel: local rooms, plus the publisher services write to
	Hub       *events.Hub
	Publisher events.Publisher

	// Repositories
	Generations repository.GenerationStore
	Deployments repository.DeploymentStore

	// Deploy providers
	Registry *providers.Registry

	// Services
	GenerationService *service.GenerationService
	DeploymentService *service.DeploymentService
	Watchdog          *service.Watchdog

	// RateLimiter is nil unless redis is available and GENERATION_RATE_LIMIT > 0
	RateLimiter ratelimit.Checker
}

// NewContainer initializes all services and repositories once
func NewContainer(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	// Initialize repositories
	var generations repository.GenerationStore
	var deployments repository.DeploymentStore
	switch {
	case components.DB != nil:
		generations = repository.NewGenerationRepository(components.DB)
		deployments = repository.NewDeploymentRepository(components.DB)
	case cfg.Store.Backend == "memory":
		log.Warn("using in-memory record store; records are lost on restart")
		generations = repository.NewMemoryGenerationStore()
		deployments = repository.NewMemoryDeploymentStore()
	default:
		return nil, fmt.Errorf("store backend %s needs a database connection", cfg.Store.Backend)
	}

	// Events go through redis when configured so every instance's hub sees them
	hub := events.NewHub(log)
	var publisher events.Publisher = hub
	if components.Redis != nil {
		publisher = events.NewRedisPublisher(components.Redis)
	}

	registry, err := newRegistry(ctx, cfg, clients.NewHTTPClient(&http.Client{Timeout: providerTimeout}, log))
	if err != nil {
		return nil, err
	}

	gen := generator.NewHTTPGenerator(cfg.Generation.GeneratorURL, &http.Client{}, log)

	// Initialize services (bottom-up: dependencies first)
	generationService := service.NewGenerationService(&service.GenerationServiceOpts{
		Store:        generations,
		Publisher:    publisher,
		Queue:        components.Queue,
		Generator:    gen,
		Telemetry:    components.Telemetry,
		Logger:       log,
		MaxDuration:  cfg.Generation.MaxDuration,
		Concurrency:  cfg.Generation.Concurrency,
		HistoryLimit: cfg.Generation.HistoryLimit,
	})

	deploymentService := service.NewDeploymentService(&service.DeploymentServiceOpts{
		Generations:     generations,
		Deployments:     deployments,
		Registry:        registry,
		Publisher:       publisher,
		Telemetry:       components.Telemetry,
		Logger:          log,
		PollInterval:    cfg.Deploy.PollInterval,
		Timeout:         cfg.Deploy.Timeout,
		MaxPollFailures: cfg.Deploy.MaxPollFailures,
	})

	watchdog := service.NewWatchdog(generations, publisher, log).
		WithCheckInterval(cfg.Generation.WatchdogInterval).
		WithMaxDuration(cfg.Generation.MaxDuration).
		WithDeployments(deployments, cfg.Deploy.Timeout)

	c := &Container{
		Components:        components,
		Hub:               hub,
		Publisher:         publisher,
		Generations:       generations,
		Deployments:       deployments,
		Registry:          registry,
		GenerationService: generationService,
		DeploymentService: deploymentService,
		Watchdog:          watchdog,
	}
	if components.Redis != nil && cfg.Generation.RateLimit > 0 {
		c.RateLimiter = ratelimit.NewRateLimiter(components.Redis.Raw(), log)
	}
	return c, nil
}

// newRegistry registers every provider in auto-selection order and installs
// the selection rules, with DEPLOY_AUTO_RULES overriding the defaults
func newRegistry(ctx context.Context, cfg *config.Config, hc *clients.HTTPClient) (*providers.Registry, error) {
	p := cfg.Providers

	s3, err := providers.NewS3(ctx, p.S3Bucket, p.S3Region, p.S3Prefix, p.S3AccessKeyID, p.S3SecretAccessKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 provider: %w", err)
	}

	registry := providers.NewRegistry(
		providers.NewNetlify(p.NetlifyToken, p.NetlifySiteID, hc),
		providers.NewVercel(p.VercelToken, p.VercelTeamID, hc),
		providers.NewRailway(p.RailwayToken, p.RailwayProjectID, p.RailwayEnvironment, p.RailwayServiceID, hc),
		s3,
	)

	rules := make(map[string]string, len(providers.DefaultRules))
	for name, expr := range providers.DefaultRules {
		rules[name] = expr
	}
	for name, expr := range cfg.Deploy.AutoRules {
		rules[name] = expr
	}
	selector, err := providers.NewSelector(rules)
	if err != nil {
		return nil, fmt.Errorf("invalid deploy auto rules: %w", err)
	}
	registry.SetSelector(selector)

	return registry, nil
}

// Start launches the background workers: the generation queue subscription,
// the watchdog and, with redis events, the cross-instance subscriber
func (c *Container) Start(ctx context.Context) error {
	log := c.Components.Logger

	if c.Components.Redis != nil {
		if err := events.NewRedisSubscriber(c.Components.Redis, c.Hub, log).Start(ctx); err != nil {
			return fmt.Errorf("failed to start event subscriber: %w", err)
		}
	}

	if err := c.GenerationService.Run(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to generation jobs: %w", err)
	}

	go func() {
		if err := c.Watchdog.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error("watchdog stopped", "error", err)
		}
	}()

	return nil
}

// Stop drains in-flight work. Call after cancelling the context passed to Start.
func (c *Container) Stop() {
	c.DeploymentService.Close()
	c.GenerationService.Wait()
}
