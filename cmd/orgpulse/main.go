package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"gorm.io/gorm/logger"

	"github.com/orgpulse/orgpulse/internal/alerting"
	"github.com/orgpulse/orgpulse/internal/alerting/channels"
	"github.com/orgpulse/orgpulse/internal/config"
	"github.com/orgpulse/orgpulse/internal/database"
	"github.com/orgpulse/orgpulse/internal/detection"
	"github.com/orgpulse/orgpulse/internal/handlers"
	"github.com/orgpulse/orgpulse/internal/jobs"
	"github.com/orgpulse/orgpulse/internal/services"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it (this is fine if using environment variables): %v", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting OrgPulse signal detection service...")

	// Initialize database connection
	if err := database.Connect(cfg.DatabaseURL, dbLogLevel(cfg.DBLogLevel)); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Run database migrations
	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Initialize default database records
	if err := database.InitializeDefaults(); err != nil {
		log.Fatalf("Failed to initialize database defaults: %v", err)
	}

	db := database.GetDB()

	// Detection pipeline
	collector := detection.NewCollector(db)
	detectionJob := jobs.NewDetectionJob(db, collector, nil)
	log.Printf("Detection pipeline initialized")

	// Alerting pipeline
	engine := alerting.NewEngine(db, alerting.NewStoreMetricReader(db))
	limiter := alerting.NewLimiter(db, cfg.Limits)

	dispatcher := alerting.NewDispatcher(db, cfg.ChannelTimeout)
	dispatcher.RegisterChannel(channels.NewEmailChannel(cfg.ResendAPIKey, cfg.EmailFrom))
	dispatcher.RegisterChannel(channels.NewWebhookChannel())
	if cfg.ResendAPIKey == "" {
		log.Printf("RESEND_API_KEY not set, email channel will report unconfigured")
	}

	alertJob := jobs.NewAlertJob(db, engine, limiter, dispatcher)
	cleanupJob := jobs.NewCleanupJob(db)
	log.Printf("Alerting pipeline initialized")

	// Services and HTTP API
	signalService := services.NewSignalService(db)
	statsService := services.NewStatsService(db, dispatcher, cfg.Limits)

	apiHandler := handlers.NewAPIHandler(db, signalService, statsService, detectionJob, alertJob)

	mux := http.NewServeMux()
	apiHandler.SetupRoutes(mux)

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: mux,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Start background jobs
	stopDetection := make(chan struct{})
	stopAlerts := make(chan struct{})
	stopCleanup := make(chan struct{})
	go detectionJob.Start(stopDetection)
	go alertJob.Start(stopAlerts)
	go cleanupJob.Start(stopCleanup)
	log.Printf("Background jobs started")

	// Set up graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Received shutdown signal, cleaning up...")

	close(stopDetection)
	close(stopAlerts)
	close(stopCleanup)

	log.Println("Shutting down HTTP server...")
	if err := httpServer.Close(); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	if err := database.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}

	log.Println("Shutdown complete")
}

func dbLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
