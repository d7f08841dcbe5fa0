package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crewtext/backend/internal/models"
	"crewtext/backend/pkg/config"
	"crewtext/backend/pkg/di"
	"crewtext/backend/pkg/logger"
	"crewtext/backend/pkg/router"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		stdlog.Println("No .env file found")
	}

	// Initialize structured logger
	logConfig := logger.DefaultConfig()
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		logConfig.Level = level
	}
	logConfig.JSON = os.Getenv("LOG_FORMAT") != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting application", "version", os.Getenv("APP_VERSION"))

	cfg := config.New()

	// Initialize database
	db, err := config.NewDB()
	if err != nil {
		log.LogError(err, "Failed to initialize database")
		os.Exit(1)
	}

	// Auto-migrate the schema
	if err := db.AutoMigrate(
		&models.Associate{},
		&models.Conversation{},
		&models.Message{},
		&models.MessageEvent{},
		&models.ReminderAssignment{},
		&models.CredentialBinding{},
	); err != nil {
		log.LogError(err, "Failed to migrate database")
		os.Exit(1)
	}

	// Create indexes for better query performance
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_messages_conv_direction ON messages(conversation_id, direction, created_at)").Error; err != nil {
		log.LogError(err, "Failed to create message index", "index", "idx_messages_conv_direction")
	}
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_assignments_job_date ON reminder_assignments(job_id, work_date)").Error; err != nil {
		log.LogError(err, "Failed to create assignment index", "index", "idx_assignments_job_date")
	}

	// Initialize dependency injection container
	container, err := di.New(db, cfg, log)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}

	// Start the background send worker
	if err := container.Worker.Start(); err != nil {
		log.LogError(err, "Failed to start send worker")
		os.Exit(1)
	}

	// Start the reminder cron
	if err := container.CronRunner.Start(); err != nil {
		log.LogError(err, "Failed to start reminder cron")
		os.Exit(1)
	}

	// Initialize and setup router
	r := router.New(container)
	r.SetupRoutes()

	// Get port from environment
	port := cfg.Server.Port
	if port == "" {
		port = "8080"
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r.Engine,
	}

	// Start the server in a goroutine
	go func() {
		log.Info("Server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogError(err, "Server failed to start")
			os.Exit(1)
		}
	}()

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Block until we receive a signal
	<-quit
	log.Info("Shutting down server...")

	// Stop intake first so nothing new enters the pipeline, then drain
	container.CronRunner.Stop()
	container.Worker.Shutdown()

	// Create a deadline to wait for
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown the server
	if err := srv.Shutdown(ctx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}

	if err := container.Publisher.Close(); err != nil {
		log.LogError(err, "Failed to close queue publisher")
	}

	log.Info("Server exited gracefully")
}
