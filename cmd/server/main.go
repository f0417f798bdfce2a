package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/turfgrid/turfgrid/internal/di"
	"github.com/turfgrid/turfgrid/internal/handler"
	"github.com/turfgrid/turfgrid/pkg/config"
	"github.com/turfgrid/turfgrid/pkg/logger"
	"github.com/turfgrid/turfgrid/pkg/telemetry"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: cfg.App.Name,
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
		ServiceName:    cfg.OTel.ServiceName,
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

	container.Broker.Start(ctx)
	if err := container.Scheduler.Start(ctx); err != nil {
		log.Fatal("failed to start expiration scheduler", zap.Error(err))
	}

	handlers := &handler.Handlers{
		Reservation:  handler.NewReservationHandler(container.Coordinator),
		Webhook:      handler.NewWebhookHandler(container.Ingester),
		Admin:        handler.NewAdminHandler(container.BlockSvc, container.Reconciliation),
		Availability: handler.NewAvailabilityHandler(container.Availability),
		Health:       handler.NewHealthHandler(container.DB, container.Redis),
	}
	router := handler.NewRouter(cfg, handlers, container.Gateway)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("server listening",
			zap.String("addr", server.Addr),
			zap.String("environment", cfg.App.Environment),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}

	container.Close(shutdownCtx)

	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		log.Warn("telemetry shutdown error", zap.Error(err))
	}

	log.Info("shutdown complete")
}
