package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/erp/channelsync/internal/infrastructure/config"
	"github.com/erp/channelsync/internal/infrastructure/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		Service:    cfg.App.Name,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting channel sync",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("platform_a", cfg.Platforms.A.Name),
		zap.String("platform_b", cfg.Platforms.B.Name),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := buildDependencies(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to build dependencies", zap.Error(err))
		os.Exit(1)
	}

	if err := deps.Start(ctx); err != nil {
		log.Error("Failed to start", zap.Error(err))
		shutdown(deps, log)
		os.Exit(1)
	}
	log.Info("Channel sync running")

	<-ctx.Done()
	log.Info("Shutting down...")
	shutdown(deps, log)
	log.Info("Channel sync exited gracefully")
}

func shutdown(deps *Dependencies, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := deps.Shutdown(ctx); err != nil {
		log.Error("Shutdown finished with errors", zap.Error(err))
	}
}
