// Package main is the entry point for the Cantus deletion engine API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cantus/internal/core/security"
	"cantus/internal/core/tx"
	"cantus/internal/domain/anomaly"
	"cantus/internal/domain/audit"
	"cantus/internal/domain/auth"
	"cantus/internal/domain/cascade"
	"cantus/internal/domain/guard"
	"cantus/internal/domain/impact"
	"cantus/internal/domain/integrity"
	"cantus/internal/domain/orphan"
	"cantus/internal/domain/rollback"
	"cantus/internal/domain/schema"
	v1 "cantus/internal/infrastructure/http/v1"
	"cantus/internal/infrastructure/http/v1/middleware"
	"cantus/internal/infrastructure/storage/memory"
	"cantus/internal/infrastructure/storage/postgres"
	"cantus/pkg/logger"
)

func main() {
	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting cantus server")

	sch := schema.Default()

	// --- Storage ---
	// STORE=memory runs the full engine on the in-process store, which is
	// enough for demos and local development. Production runs on Postgres.
	var (
		store      schema.Store
		snapshots  rollback.Store
		auditStore audit.Store
		alertSink  security.AlertSink
		pool       *postgres.Pool
		txm        tx.ReadOnlyManager
	)

	switch storeKind := getEnv("STORE", "postgres"); storeKind {
	case "memory":
		store = memory.NewStore()
		snapshots = memory.NewSnapshotStore()
		auditStore = memory.NewAuditStore()
		txm = tx.Nop{}
		alertSink = security.AlertFunc(func(ctx context.Context, v security.Violation) {
			log.WithContext(ctx).Warnw("security alert",
				"type", v.Type, "severity", v.Severity, "description", v.Description,
				"actor_id", v.ActorID, "origin", v.Origin,
			)
		})
		log.Info("running on in-memory store")

	case "postgres":
		pool, err = postgres.NewPool(ctx, postgres.DefaultPoolConfig(mustEnv("DATABASE_URL")))
		if err != nil {
			log.Fatalw("failed to connect to database", "error", err)
		}
		defer pool.Close()
		log.Info("database connection established")

		if err := postgres.Migrate(ctx, pool, sch); err != nil {
			log.Fatalw("failed to run migrations", "error", err)
		}

		txManager := postgres.NewTxManager(pool)
		txm = txManager
		store = postgres.NewDataset(txManager, sch)

		snapRepo, err := postgres.NewSnapshotRepo(txManager)
		if err != nil {
			log.Fatalw("failed to create snapshot repo", "error", err)
		}
		snapshots = snapRepo
		auditStore = postgres.NewAuditRepo(txManager)

		outbox := postgres.NewAlertOutbox(txManager)
		alertSink = outbox

		relay := postgres.NewAlertRelay(pool.Unwrap(), 50, postgres.LogAlertHandler{})
		go relay.Run(ctx, getEnvDuration("ALERT_RELAY_INTERVAL", 15*time.Second))

	default:
		log.Fatalw("unknown STORE", "store", storeKind)
	}

	// --- Security: violations, guard, anomaly detector ---
	violations := security.NewViolationLog(getEnvDuration("VIOLATION_WINDOW", time.Hour), alertSink)

	limiter := guard.NewRateLimiter(guard.DefaultLimiterConfig())
	limiter.Start(ctx)

	admissionGuard, err := guard.New(guard.DefaultRules(), limiter, violations)
	if err != nil {
		log.Fatalw("failed to compile guard rules", "error", err)
	}

	detector := anomaly.New(anomaly.DefaultHeuristics(anomaly.DefaultConfig()), violations, anomaly.DefaultDetectorConfig())
	detector.Start(ctx)

	// --- Audit ---
	recorder := audit.NewRecorder(auditStore, alertSink)

	// The admission gate fronts the API routes and doubles as the
	// mid-operation screener for the deletion and orphan engines.
	admission := middleware.NewAdmission(admissionGuard, detector, recorder)

	// --- Deletion engine ---
	registry := cascade.NewRegistry()
	analyzer := impact.New(store, sch, registry, impact.DefaultConfig())
	orphans := orphan.NewEngine(store, sch, txm, admission, recorder, log, orphan.DefaultConfig())

	executorCfg := cascade.DefaultConfig()
	executorCfg.Timeout = getEnvDuration("DELETION_TIMEOUT", executorCfg.Timeout)
	executor := cascade.NewExecutor(store, sch, analyzer, snapshots, registry, recorder, txm, orphans, admission, log, executorCfg)

	validator := integrity.NewValidator(store, sch, txm, recorder, log)
	repairer := integrity.NewRepairer(store, sch, snapshots, recorder, log)
	rollbackService := rollback.NewService(store, snapshots, txm, registry, recorder, log)

	// --- Auth ---
	jwtService := auth.NewJWTService(auth.DefaultJWTConfig(mustEnv("JWT_SECRET")))

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Pool:           pool,
		Logger:         log,
		TokenValidator: jwtService,
		Admission:      admission,
		Analyzer:       analyzer,
		Executor:       executor,
		Orphans:        orphans,
		Validator:      validator,
		Repairer:       repairer,
		Rollback:       rollbackService,
		Recorder:       recorder,
	})

	// --- HTTP Server ---
	port := getEnv("APP_PORT", "8080")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()

	log.Info("shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		fmt.Printf("required environment variable %s not set\n", key)
		os.Exit(1)
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
