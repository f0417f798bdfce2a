package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/turfgrid/turfgrid/internal/di"
	"github.com/turfgrid/turfgrid/pkg/config"
	"github.com/turfgrid/turfgrid/pkg/logger"
	"github.com/turfgrid/turfgrid/pkg/telemetry"
	"go.uber.org/zap"
)

// sweep-worker runs the authoritative expiration sweep on its own, for
// deployments that keep the timer queue out of the API process.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: cfg.App.Name + "-sweep",
		Development: cfg.IsDevelopment(),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName + "-sweep",
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		log.Fatal("failed to init telemetry", zap.Error(err))
	}

	container, err := di.New(ctx, cfg)
	if err != nil {
		log.Fatal("failed to build dependency graph", zap.Error(err))
	}

	if err := container.Scheduler.Start(ctx); err != nil {
		log.Fatal("failed to start expiration scheduler", zap.Error(err))
	}
	log.Info("sweep worker started",
		zap.Duration("interval", cfg.Reservation.SweepInterval),
		zap.Int("batch", cfg.Reservation.SweepBatch),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	container.Close(context.Background())
	log.Info("shutdown complete")
}
