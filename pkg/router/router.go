package router

import (
	"time"

	"crewtext/backend/internal/api"
	"crewtext/backend/pkg/config"
	"crewtext/backend/pkg/di"
	"crewtext/backend/pkg/errors"
	"crewtext/backend/pkg/logger"
	"crewtext/backend/pkg/metrics"
	"crewtext/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// Track server start time for uptime calculations
var startTime = time.Now()

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Config    *config.Config
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	// Use the container's logger
	logger.SetGlobal(container.Logger)

	// Load configuration
	cfg := config.New()

	// Configure Gin mode based on environment
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize Gin router
	engine := gin.New()

	// Use the logger middleware first to capture all requests
	engine.Use(logger.Middleware(container.Logger))

	// Propagate a request ID through handlers and logs
	engine.Use(middleware.RequestIDMiddleware())

	// Add custom error handler middleware
	engine.Use(errors.ErrorHandler())

	// Add custom recovery middleware with structured logging instead of default
	engine.Use(errors.RecoveryWithLogger())

	// Create rate limiter with default options
	rateLimiter := middleware.NewRateLimiter(container.Logger)

	// Apply rate limiting to all routes
	engine.Use(rateLimiter.Middleware())

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Config:    cfg,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	// Add CORS middleware
	r.Engine.Use(corsMiddleware())

	// Create JWT auth middleware
	jwtAuth := middleware.JWTAuthMiddleware(r.Container.JWTService, r.Logger)

	// Initialize controllers
	sendController := api.NewSendController(r.Container.IntakeService)
	reminderController := api.NewReminderController(r.Container.Scheduler)
	webhookController := api.NewWebhookController(r.Container.Processor, r.Container.Ingestion, r.Logger)

	// Authenticated API surface
	sendController.RegisterRoutes(r.Engine, jwtAuth)
	reminderController.RegisterRoutes(r.Engine, jwtAuth)

	// Provider callbacks; the provider cannot carry our JWTs
	webhookController.RegisterRoutes(r.Engine)

	// Operational endpoints
	r.setupHealthRoutes()
	r.Engine.GET("/metrics", metrics.Handler())
}

// corsMiddleware handles cross-origin requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
