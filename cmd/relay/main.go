package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/adapters/handler"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/adapters/outbox"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/adapters/rest"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/config"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/services"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/logger"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/metrics"
)

func main() {
	cfg := config.LoadRelayConfig()

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, "bed-outbox-relay")
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	log.Info("Starting outbox relay service")

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := outbox.NewPostgresStore(db, log)
	if err := store.Migrate(ctx); err != nil {
		log.Warn("Outbox migration failed, circuit breaker will validate on first operation", zap.Error(err))
	}

	api := rest.New(cfg.APIBaseURL, rest.Options{Timeout: cfg.HTTPTimeout, Log: log})
	api.SetTokenSource(rest.StaticToken(cfg.Token))
	api.OnUnauthorized(func() {
		log.Error("API rejected AGENT_TOKEN, replays will keep failing until it is rotated")
	})

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// The relay has no replica of its own; the store only absorbs the
	// applied results.
	applier := services.NewBedService(api, services.NewStateStore(nil), nil, services.NewConnectivity(), log)
	relayWorker := outbox.NewRelay(store, applier, outbox.RelayOptions{
		Rate:            cfg.ReplayRate,
		BatchSize:       cfg.BatchSize,
		CatchUpInterval: cfg.CatchUpPeriod,
		Log:             log,
		Metrics:         m,
	})

	healthHandler := handler.NewHealthHandler("outbox-relay", log)
	healthHandler.AddCheck("relay", func(context.Context) error {
		if !relayWorker.IsReady() {
			return errors.New("relay has not completed a pass recently")
		}
		return nil
	})
	healthHandler.AddCheck("database", db.PingContext)
	healthHandler.AddCheck("api", func(context.Context) error {
		if api.BreakerState() == gobreaker.StateOpen {
			return domain.ErrTransport
		}
		return nil
	})

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("GET /health", healthHandler.Health)
	healthMux.HandleFunc("GET /health/live", healthHandler.Live)
	healthMux.HandleFunc("GET /health/ready", healthHandler.Ready)
	healthMux.Handle("GET /metrics", m.Handler())

	healthServer := &http.Server{
		Addr:              ":" + cfg.HealthPort,
		Handler:           healthMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Starting health check server", zap.String("port", cfg.HealthPort))
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Health server error", zap.Error(err))
		}
	}()

	// Channel to capture fatal errors from relay workers
	errChan := make(chan error, 2)

	go func() {
		if err := relayWorker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- err
		}
	}()
	go func() {
		if err := relayWorker.ListenPostgres(ctx, cfg.DatabaseURL); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal or fatal error
	select {
	case sig := <-sigChan:
		log.Info("Received signal, initiating shutdown", zap.String("signal", sig.String()))
	case err := <-errChan:
		log.Error("Fatal error, shutting down", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down health server", zap.Error(err))
	}

	log.Info("Shutdown complete")
}
