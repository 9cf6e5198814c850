package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lyzr/appforge/cmd/orchestrator/container"
	"github.com/lyzr/appforge/cmd/orchestrator/routes"
	"github.com/lyzr/appforge/common/bootstrap"
	"github.com/lyzr/appforge/common/db"
	commonmw "github.com/lyzr/appforge/common/middleware"
	"github.com/lyzr/appforge/common/server"
	"github.com/lyzr/appforge/common/validation"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bootstrap common components (DB, logger, redis, queue, telemetry)
	components, err := bootstrap.Setup(ctx, "orchestrator",
		bootstrap.WithDBInitHook(func(database *db.DB) error {
			return db.Migrate(ctx, database)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to bootstrap: %w", err)
	}
	defer components.Shutdown(context.Background())

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(ctx, components)
	if err != nil {
		return fmt.Errorf("failed to initialize service container: %w", err)
	}

	// Background workers stop before components shut down
	workCtx, cancelWork := context.WithCancel(ctx)
	defer func() {
		cancelWork()
		serviceContainer.Stop()
	}()
	if err := serviceContainer.Start(workCtx); err != nil {
		return err
	}

	e := setupEcho()
	setupMiddleware(e)
	registerRoutes(e, serviceContainer)

	port := components.Config.Service.Port
	return server.New("orchestrator", port, e, components.Logger).Start(ctx)
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
	e.Use(commonmw.RequestContext())
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterGenerationRoutes(e, serviceContainer)
	routes.RegisterDeploymentRoutes(e, serviceContainer)
	routes.RegisterRealtimeRoutes(e, serviceContainer)
}
