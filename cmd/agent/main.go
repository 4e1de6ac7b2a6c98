package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/adapters/cache"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/adapters/channel"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/adapters/handler"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/adapters/messaging"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/adapters/middleware"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/adapters/outbox"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/adapters/rest"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/config"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/services"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/logger"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/metrics"
)

var (
	bedWriters   = []domain.Role{domain.RoleWardStaff, domain.RoleManager, domain.RoleHospitalAdmin}
	erCreators   = []domain.Role{domain.RoleERStaff, domain.RoleHospitalAdmin}
	reviewers    = []domain.Role{domain.RoleManager, domain.RoleHospitalAdmin, domain.RoleWardStaff}
	analysts     = []domain.Role{domain.RoleManager, domain.RoleHospitalAdmin}
	anySignedIn  = []domain.Role{}
	accountAdmin = []domain.Role{domain.RoleHospitalAdmin}
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, "bed-sync-agent")
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	kv, kvPing := openKV(ctx, cfg, log)

	api := rest.New(cfg.APIBaseURL, rest.Options{
		Timeout:    cfg.HTTPTimeout,
		RetryCount: cfg.HTTPRetryCount,
		Log:        log,
	})
	store := services.NewStateStore(m)
	connectivity := services.NewConnectivity()

	auth := services.NewAuthService(api, kv, store, log)
	api.SetTokenSource(auth)
	api.OnUnauthorized(auth.HandleUnauthorized)
	accounts := services.NewRegistrationService(api, auth, log)

	// Offline write queue, only when an outbox database is configured.
	var (
		queue  *services.WriteQueue
		relay  *outbox.Relay
		db     *sql.DB
		replay ports.ReplayTrigger
	)
	if cfg.OutboxDatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.OutboxDatabaseURL)
		if err != nil {
			log.Fatal("Failed to open outbox database", zap.Error(err))
		}
		defer db.Close()

		ob := outbox.NewPostgresStore(db, log)
		if err := ob.Migrate(ctx); err != nil {
			log.Fatal("Failed to migrate outbox", zap.Error(err))
		}
		queue = services.NewWriteQueue(ob, log, m)
		log.Info("Outbox enabled")

		// The replay applier has no queue of its own; a failed replay stays
		// in the outbox.
		applier := services.NewBedService(api, store, nil, connectivity, log)
		relay = outbox.NewRelay(ob, applier, outbox.RelayOptions{
			Rate:    cfg.ReplayRate,
			Log:     log,
			Metrics: m,
		})
		queue.SetTrigger(relay)
		replay = relay

		go func() {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Outbox relay stopped", zap.Error(err))
			}
		}()
	}

	beds := services.NewBedService(api, store, queue, connectivity, log)
	alerts := services.NewAlertService(api, store)
	requests := services.NewRequestService(api, store, log)

	var publisher ports.NotificationPublisher = messaging.NewLogNotifier(log)
	if cfg.RabbitMQURL != "" {
		rmq, err := messaging.NewRabbitMQNotifier(cfg.RabbitMQURL, cfg.NotificationQueue, log)
		if err != nil {
			log.Warn("RabbitMQ unavailable, notifications will be logged only", zap.Error(err))
		} else {
			defer rmq.Close()
			publisher = rmq
		}
	}
	notifier := services.NewNotifier(publisher, services.ParsePermission(cfg.NotificationPermission), log, m)

	ch := channel.NewManager(cfg.ChannelURL, channel.Options{
		Log:            log.Named("channel"),
		OnUnauthorized: auth.HandleUnauthorized,
	})

	engine := services.NewSyncEngine(services.EngineDeps{
		Channel:      ch,
		Relay:        services.NewEventRelay(store, notifier, log, m),
		Poller:       services.NewPoller(log, m),
		Store:        store,
		Beds:         api,
		Alerts:       api,
		Requests:     api,
		Health:       api,
		Cache:        services.NewOfflineCache(kv, connectivity, log),
		Connectivity: connectivity,
		Replay:       replay,
		Log:          log,
		Metrics:      m,
	})

	views, err := services.ParseViews(cfg.Views)
	if err != nil {
		log.Fatal("Invalid AGENT_VIEWS", zap.Error(err))
	}
	auth.OnStart(func(user domain.User, token string) {
		if user.Ward == "" {
			user.Ward = cfg.Ward
		}
		if err := engine.Start(ctx, user, token, views); err != nil {
			log.Error("Failed to start sync", zap.Error(err))
		}
	})
	auth.OnEnd(engine.Stop)

	if err := startSession(ctx, cfg, auth, log); err != nil {
		log.Warn("No session yet, waiting for a local sign-in", zap.Error(err))
	}

	healthHandler := handler.NewHealthHandler("bed-sync-agent", log)
	healthHandler.AddCheck("storage", kvPing)
	healthHandler.AddCheck("api", func(context.Context) error {
		if api.BreakerState() == gobreaker.StateOpen {
			return domain.ErrTransport
		}
		return nil
	})
	healthHandler.AddCheck("channel", func(context.Context) error {
		if _, ok := auth.User(); ok && !ch.Connected() {
			return errors.New("channel disconnected")
		}
		return nil
	})
	if db != nil {
		healthHandler.AddCheck("outbox", db.PingContext)
	}

	syncDeps := handler.SyncDeps{
		Store:        store,
		Beds:         beds,
		Alerts:       alerts,
		Requests:     requests,
		Connectivity: connectivity,
		Channel:      ch,
		Log:          log,
	}
	if queue != nil {
		syncDeps.Queue = queue
	}
	syncHandler := handler.NewSyncHandler(syncDeps)
	analyticsHandler := handler.NewAnalyticsHandler(api, log)
	sessionHandler := handler.NewSessionHandler(auth, accounts, log)
	authMiddleware := middleware.NewAuthMiddleware(auth, log)

	mux := http.NewServeMux()

	// Health endpoints (OpenShift compatible)
	mux.HandleFunc("GET /health", healthHandler.Health)
	mux.HandleFunc("GET /health/ready", healthHandler.Ready)
	mux.HandleFunc("GET /health/live", healthHandler.Live)
	mux.Handle("GET /metrics", m.Handler())

	// Replica snapshots and the change stream
	mux.HandleFunc("GET /beds", syncHandler.Beds)
	mux.HandleFunc("GET /alerts", syncHandler.Alerts)
	mux.HandleFunc("GET /emergency-requests", syncHandler.Requests)
	mux.HandleFunc("GET /state", syncHandler.State)
	mux.HandleFunc("GET /events", syncHandler.Events)

	// Session
	mux.HandleFunc("POST /session", sessionHandler.Login)
	mux.HandleFunc("GET /session", sessionHandler.Current)
	mux.HandleFunc("DELETE /session", authMiddleware.RequireRole(anySignedIn, sessionHandler.Logout))
	mux.HandleFunc("POST /register", authMiddleware.RequireRole(accountAdmin, sessionHandler.Register))
	mux.HandleFunc("DELETE /account", authMiddleware.RequireRole(anySignedIn, sessionHandler.DeleteAccount))

	// Live reads not held in the replica
	mux.HandleFunc("GET /beds/cleaning-queue", authMiddleware.RequireRole(anySignedIn, syncHandler.CleaningQueue))
	mux.HandleFunc("GET /beds/occupied", authMiddleware.RequireRole(anySignedIn, syncHandler.OccupiedBeds))
	mux.HandleFunc("GET /analytics/occupancy-summary", authMiddleware.RequireRole(analysts, analyticsHandler.OccupancySummary))
	mux.HandleFunc("GET /analytics/occupancy-by-ward", authMiddleware.RequireRole(analysts, analyticsHandler.OccupancyByWard))
	mux.HandleFunc("GET /analytics/forecasting", authMiddleware.RequireRole(analysts, analyticsHandler.Forecasting))

	// Actions forwarded to the API
	mux.HandleFunc("PATCH /beds/{bedId}/status", authMiddleware.RequireRole(bedWriters, syncHandler.UpdateBedStatus))
	mux.HandleFunc("PATCH /beds/{bedId}/discharge-time", authMiddleware.RequireRole(bedWriters, syncHandler.SetDischargeTime))
	mux.HandleFunc("PUT /beds/{bedId}/cleaning/mark-complete", authMiddleware.RequireRole(bedWriters, syncHandler.MarkCleaningComplete))
	mux.HandleFunc("PATCH /alerts/{id}/dismiss", authMiddleware.RequireRole(anySignedIn, syncHandler.DismissAlert))
	mux.HandleFunc("POST /emergency-requests", authMiddleware.RequireRole(erCreators, syncHandler.CreateRequest))
	mux.HandleFunc("POST /emergency-requests/batch", authMiddleware.RequireRole(erCreators, syncHandler.BookBeds))
	mux.HandleFunc("PATCH /emergency-requests/{id}", authMiddleware.RequireRole(reviewers, syncHandler.UpdateRequestStatus))
	mux.HandleFunc("PATCH /emergency-requests/{id}/approve", authMiddleware.RequireRole(reviewers, syncHandler.ApproveRequest))
	mux.HandleFunc("PATCH /emergency-requests/{id}/reject", authMiddleware.RequireRole(reviewers, syncHandler.RejectRequest))

	cors := middleware.CORSMiddleware(cfg.AllowedOrigins)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           middleware.RequestLogger(log)(cors(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	case err := <-errChan:
		log.Error("Server error, shutting down", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down server", zap.Error(err))
	}
	engine.Stop()
	notifier.Wait()
	log.Info("Shutdown complete")
}

// openKV returns Redis when configured and reachable, otherwise process memory.
func openKV(ctx context.Context, cfg *config.Config, log *zap.Logger) (ports.KVStore, handler.CheckFunc) {
	if cfg.RedisAddress == "" {
		log.Info("REDIS_ADDR not set, session and offline cache kept in memory")
		mem := cache.NewMemoryKV()
		return mem, mem.Ping
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("Failed to connect to redis", zap.Error(err))
	}
	log.Info("Connected to Redis", zap.String("addr", cfg.RedisAddress))

	kv := cache.NewRedisKV(client, cfg.Ward, log)
	return kv, kv.Ping
}

// startSession resumes a stored session, then falls back to the configured
// token and finally to the configured credentials.
func startSession(ctx context.Context, cfg *config.Config, auth *services.AuthService, log *zap.Logger) error {
	restored, err := auth.Restore(ctx)
	if err != nil {
		log.Warn("Failed to restore session", zap.Error(err))
	}
	if restored {
		return nil
	}

	if cfg.Token != "" {
		if _, err := auth.Adopt(ctx, cfg.Token); err == nil {
			return nil
		} else if cfg.Email == "" {
			return err
		}
	}
	_, err = auth.Login(ctx, cfg.Email, cfg.Password)
	return err
}
