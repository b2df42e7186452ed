package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"

	"github.com/tollgate-io/tollgate/pkg/audit"
	"github.com/tollgate-io/tollgate/pkg/config"
	"github.com/tollgate-io/tollgate/pkg/engine"
	"github.com/tollgate-io/tollgate/pkg/navigation"
	"github.com/tollgate-io/tollgate/pkg/observability"
	"github.com/tollgate-io/tollgate/pkg/permissions"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("tollgate: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	metrics := observability.NewMetrics(nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store
	var store permissions.Store
	var db *sql.DB
	switch cfg.Store.Driver {
	case "postgres":
		db, err = sql.Open("postgres", cfg.Store.PostgresURL)
		if err != nil {
			logger.WithError(err).Error("Failed to open database")
			os.Exit(1)
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Store.PostgresMaxConns)
		if err := db.PingContext(ctx); err != nil {
			logger.WithError(err).Error("Failed to ping database")
			os.Exit(1)
		}
		if err := permissions.EnsureSchema(ctx, db); err != nil {
			logger.WithError(err).Error("Failed to apply schema migrations")
			os.Exit(1)
		}
		store = permissions.NewSQLStore(db)
		logger.Info("Using postgres permission store")
	default:
		store = permissions.NewMemoryStore()
		logger.Info("Using in-memory permission store")
	}

	// Cache, with an optional Redis second tier
	cache := permissions.NewCache(cfg.Cache.Size, cfg.Cache.TTL)
	if cfg.Cache.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Error("Failed to ping redis")
			os.Exit(1)
		}
		cache = cache.WithRemote(permissions.NewRedisTier(client, cfg.Cache.RedisPrefix, cfg.Cache.TTL))
		logger.WithField("addr", cfg.Cache.RedisAddr).Info("Redis cache tier enabled")
	}

	// Module catalog
	var gate permissions.Gate = permissions.AllowAllGate{}
	if cfg.Catalog.Path != "" {
		fileGate, err := permissions.NewFileGate(cfg.Catalog.Path)
		if err != nil {
			logger.WithError(err).Error("Failed to load module catalog")
			os.Exit(1)
		}
		if cfg.Catalog.Watch {
			if err := fileGate.Watch(ctx, func(err error) {
				logger.WithError(err).Warn("Module catalog reload failed, keeping previous catalog")
			}); err != nil {
				logger.WithError(err).Warn("Module catalog watch unavailable")
			}
		}
		gate = fileGate
		logger.WithField("path", cfg.Catalog.Path).Info("Module catalog loaded")
	}

	// Navigation menu
	registry := navigation.NewRegistry(nil)
	if cfg.Catalog.MenuPath != "" {
		registry, err = navigation.LoadRegistry(cfg.Catalog.MenuPath)
		if err != nil {
			logger.WithError(err).Error("Failed to load navigation menu")
			os.Exit(1)
		}
	}

	// Audit sink
	var auditLogger audit.Logger
	switch cfg.Audit.Backend {
	case "postgres":
		dbLogger, err := audit.NewDBLogger(db)
		if err != nil {
			logger.WithError(err).Error("Failed to initialize audit table")
			os.Exit(1)
		}
		policy := audit.RetentionPolicy{
			RetentionDays: cfg.Audit.RetentionDays,
			MaxEntries:    cfg.Audit.MaxEntries,
		}
		if err := dbLogger.StartSweeper(cfg.Audit.SweepSchedule, policy, func(err error) {
			logger.WithError(err).Warn("Audit retention sweep failed")
		}); err != nil {
			logger.WithError(err).Error("Failed to start audit sweeper")
			os.Exit(1)
		}
		defer dbLogger.StopSweeper()
		auditLogger = dbLogger
		logger.Info("Using postgres audit log")
	default:
		ring := audit.NewRingStore(audit.MaxEntries)
		metrics.RegisterCounterFunc(
			"tollgate_audit_evictions_total",
			"Total audit entries evicted by the ring cap",
			func() float64 { return float64(ring.Stats().Evictions) },
		)
		auditLogger = ring
		logger.Info("Using in-memory audit ring")
	}

	eng, err := engine.New(engine.Options{
		Store:    store,
		Cache:    cache,
		Gate:     gate,
		Registry: registry,
		Audit:    auditLogger,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to build engine")
		os.Exit(1)
	}

	registerCacheCollectors(metrics, eng)

	router := mux.NewRouter()
	engine.NewHandlers(eng).RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := newHealthServer(cfg, metrics)

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("Starting health server")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	go func() {
		logger.WithField("addr", server.Addr).Info("Starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Server shutdown incomplete")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Health server shutdown incomplete")
	}
}

// newHealthServer serves liveness and metrics on a separate port so probes
// never compete with tenant traffic.
func newHealthServer(cfg *config.Config, metrics *observability.Metrics) *http.Server {
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	return &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
}

// registerCacheCollectors exposes counters maintained inside the permission
// cache without double counting against the engine metrics.
func registerCacheCollectors(metrics *observability.Metrics, eng *engine.Engine) {
	metrics.RegisterGaugeFunc(
		"tollgate_cache_entries",
		"Resolved permission sets currently cached",
		func() float64 { return float64(eng.CacheStats().Entries) },
	)
	metrics.RegisterCounterFunc(
		"tollgate_cache_evictions_total",
		"Resolved permission sets evicted from the cache",
		func() float64 { return float64(eng.CacheStats().Evictions) },
	)
	metrics.RegisterCounterFunc(
		"tollgate_permission_cache_hits_total",
		"Total permission cache hits",
		func() float64 { return float64(eng.CacheStats().Hits) },
	)
	metrics.RegisterCounterFunc(
		"tollgate_permission_cache_misses_total",
		"Total permission cache misses",
		func() float64 { return float64(eng.CacheStats().Misses) },
	)
}
