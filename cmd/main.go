package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"foresight/internal/adapters/config"
	"foresight/internal/adapters/errors/noop"
	"foresight/internal/adapters/errors/sentry"
	"foresight/internal/bootstrap"
	"foresight/pkg/errors"
	"foresight/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()
	log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)

	container, err := bootstrap.NewContainer(cfg, errorTracker)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := container.Start(ctx); err != nil {
		log.Fatalf("Failed to start background workers: %v", err)
	}

	// HTTP server blocks; run it alongside signal handling
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- container.Server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infof("Received signal %v, shutting down", sig)
	case err := <-serverErr:
		if err != nil {
			log.Errorf("HTTP server error: %v", err)
		}
	}

	cancel()
	bootstrap.NewLifecycle().Shutdown(container)
}

// initErrorTracker initializes error tracking (Sentry or no-op)
func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}
