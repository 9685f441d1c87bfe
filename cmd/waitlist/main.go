package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/hellocng/deepstack-sub002/cmd/waitlist/container"
	"github.com/hellocng/deepstack-sub002/cmd/waitlist/routes"
	"github.com/hellocng/deepstack-sub002/common/bootstrap"
	"github.com/hellocng/deepstack-sub002/common/config"
	"github.com/hellocng/deepstack-sub002/common/db"
	"github.com/hellocng/deepstack-sub002/common/logger"
	"github.com/hellocng/deepstack-sub002/common/server"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load("waitlist")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid waitlist configuration: %v\n", err)
		os.Exit(1)
	}

	opts := []bootstrap.Option{bootstrap.WithCustomConfig(cfg)}
	if cfg.Database.AutoMigrate {
		opts = append(opts, bootstrap.WithDBInitHook(func(database *db.DB) error {
			return database.Migrate(ctx)
		}))
	}

	// Bootstrap common components (DB, Redis, logger, queue, cache, telemetry)
	components, err := bootstrap.Setup(ctx, "waitlist", opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap waitlist: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		components.Logger.Error("failed to initialize service container", "error", err)
		os.Exit(1)
	}

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, components)
	registerRoutes(e, serviceContainer)

	startBackground(ctx, serviceContainer)

	srv := server.New("waitlist", components.Config.Service.Port, e, components.Logger)
	if err := srv.Start(ctx); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, requestID string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logger.WithRequestID(req.Context(), requestID)))
		},
	}))
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status":  "degraded",
				"service": "waitlist",
				"error":   err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "waitlist",
		})
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterWaitlistRoutes(e, serviceContainer)
	routes.RegisterStaffRoutes(e, serviceContainer)
}

// startBackground runs the expiry sweep and the partition auditor until ctx ends
func startBackground(ctx context.Context, c *container.Container) {
	log := c.Components.Logger

	if c.Sweeper != nil {
		go func() {
			if err := c.Sweeper.Start(ctx); err != nil && ctx.Err() == nil {
				log.Error("expiry sweeper stopped", "error", err)
			}
		}()
	}

	if c.Auditor != nil {
		if err := c.Auditor.Start(ctx); err != nil {
			log.Warn("partition auditor not started", "error", err)
		}
	}
}
