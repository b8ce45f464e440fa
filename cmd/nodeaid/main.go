package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/nodeai/nodeai/cmd/nodeaid/container"
	"github.com/nodeai/nodeai/cmd/nodeaid/routes"
	"github.com/nodeai/nodeai/common/bootstrap"
	"github.com/nodeai/nodeai/common/db"
	"github.com/nodeai/nodeai/common/repository"
	"github.com/nodeai/nodeai/common/server"
)

func main() {
	ctx := context.Background()

	// Bootstrap common components (config, logger, DB, Redis, cache,
	// telemetry)
	components, err := bootstrap.Setup(ctx, "nodeaid",
		bootstrap.WithDBInitHook(func(database *db.DB) error {
			return repository.Migrate(ctx, database)
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap nodeaid: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, serviceContainer)
	registerRoutes(e, serviceContainer)

	startServer(e, serviceContainer)
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

// setupHealthCheck registers the health and metrics endpoints
func setupHealthCheck(e *echo.Echo, c *container.Container) {
	e.GET("/healthz", func(ec echo.Context) error {
		if err := c.Components.Health(ec.Request().Context()); err != nil {
			return ec.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return ec.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "nodeaid",
		})
	})

	if c.Components.Telemetry != nil && c.Components.Config.Telemetry.EnableMetrics {
		e.GET("/metrics", echo.WrapHandler(c.Components.Telemetry.MetricsHandler()))
	}
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, c *container.Container) {
	routes.RegisterDraftRoutes(e, c)
	routes.RegisterExecutionRoutes(e, c)
	routes.RegisterNodeRoutes(e, c)
}

// startServer starts the HTTP server with graceful shutdown. Running
// executions are canceled once in-flight requests drain; the engine
// finishes dispatched nodes before sealing each one.
func startServer(e *echo.Echo, c *container.Container) {
	components := c.Components
	srv := server.New("nodeaid", components.Config.Service.Port, e, components.Logger)

	srv.RegisterOnShutdown(func(shutdownCtx context.Context) {
		canceled := c.Executions.CancelAll()
		if canceled == 0 {
			return
		}
		components.Logger.Info("waiting for executions to drain", "count", canceled)
		for c.Executions.ActiveCount() > 0 {
			select {
			case <-shutdownCtx.Done():
				components.Logger.Warn("shutdown deadline hit with executions still draining",
					"remaining", c.Executions.ActiveCount())
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	})

	if err := srv.Start(); err != nil {
		components.Logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}
