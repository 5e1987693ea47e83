package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/warit/csvmatch/internal/config"
	"github.com/warit/csvmatch/internal/logger"
	"github.com/warit/csvmatch/internal/repository"
	"github.com/warit/csvmatch/internal/service"
	"github.com/warit/csvmatch/internal/storage"
)

func main() {
	// Initialize logger first (with defaults)
	cfg := logger.LoadFromEnv()
	cfg.ServiceName = "csvmatch-worker"
	appLogger := logger.New(cfg)
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Load configuration
	appCfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	appLogger.WithFields(logger.Fields{
		"pool_size":     appCfg.Worker.PoolSize,
		"poll_interval": appCfg.Worker.PollInterval.String(),
	}).Info("Starting worker")

	// Initialize database
	db, err := repository.InitDB(&appCfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	// Initialize object storage
	objectStorage, err := storage.NewStorage(&appCfg.Storage)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}

	// Initialize repositories
	taskRepo := repository.NewTaskRepository(db)
	fileRepo := repository.NewSourceFileRepository(db)
	recordStore := repository.NewRecordSetStore(objectStorage)

	// Initialize services
	var notifier service.Notifier = service.NoopNotifier{}
	if appCfg.Notify.Enabled && appCfg.Notify.WebhookURL != "" {
		notifier = service.NewWebhookNotifier(appCfg.Notify.WebhookURL, appCfg.Notify.Timeout, appLogger)
	}

	lifecycle := service.NewTaskLifecycle(taskRepo, notifier, appLogger, service.LifecycleConfig{
		MaxAttempts:     appCfg.Worker.MaxAttempts,
		StalenessWindow: appCfg.Worker.StalenessWindow,
	})
	converter := service.NewConverter(fileRepo, taskRepo, recordStore, objectStorage, appLogger, appCfg.Worker.BatchSize)
	scheduler := service.NewScheduler(taskRepo, lifecycle, converter, appLogger, service.SchedulerConfig{
		PoolSize:     appCfg.Worker.PoolSize,
		PollInterval: appCfg.Worker.PollInterval,
	})

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	scheduler.Run(ctx)
	appLogger.Info("Worker exited")
}
