package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warit/csvmatch/internal/api"
	"github.com/warit/csvmatch/internal/config"
	"github.com/warit/csvmatch/internal/logger"
	"github.com/warit/csvmatch/internal/repository"
	"github.com/warit/csvmatch/internal/service"
	"github.com/warit/csvmatch/internal/storage"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(logger.LoadFromEnv())
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	// Initialize object storage (local filesystem or S3-compatible)
	objectStorage, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}

	// Initialize repositories
	taskRepo := repository.NewTaskRepository(db)
	fileRepo := repository.NewSourceFileRepository(db)
	historyRepo := repository.NewHistoryRepository(db)
	recordStore := repository.NewRecordSetStore(objectStorage)

	// Initialize services
	var notifier service.Notifier = service.NoopNotifier{}
	if cfg.Notify.Enabled && cfg.Notify.WebhookURL != "" {
		notifier = service.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout, appLogger)
	}

	lifecycle := service.NewTaskLifecycle(taskRepo, notifier, appLogger, service.LifecycleConfig{
		MaxAttempts:     cfg.Worker.MaxAttempts,
		StalenessWindow: cfg.Worker.StalenessWindow,
	})
	intake := service.NewIntake(fileRepo, objectStorage, appLogger)
	matcher := service.NewMatcher(service.MatcherConfig{
		DefaultAlgorithm: cfg.Match.DefaultAlgorithm,
		DefaultThreshold: cfg.Match.DefaultThreshold,
		MaxBulkQueries:   cfg.Match.MaxBulkQueries,
		MaxResults:       cfg.Match.MaxResults,
	}, appLogger)
	tracker := service.NewSearchTracker(historyRepo, appLogger)
	searchService := service.NewSearchService(taskRepo, recordStore, matcher, tracker, appLogger, cfg.Match.Timeout)

	// Setup router
	router := api.SetupRouter(api.Deps{
		DB:        db,
		Intake:    intake,
		Lifecycle: lifecycle,
		Search:    searchService,
		Tracker:   tracker,
		Tasks:     taskRepo,
		Logger:    appLogger,
	}, &cfg.Server)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Fatal("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
