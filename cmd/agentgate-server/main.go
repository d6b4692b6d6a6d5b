package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agentgate/internal/auth"
	"agentgate/internal/config"
	"agentgate/internal/logging"
	"agentgate/internal/observability"
	"agentgate/internal/orchestrator"
	"agentgate/internal/pipeline"
	serverHTTP "agentgate/internal/server/http"
	"agentgate/internal/storage"
)

func main() {
	cfg, err := config.Load(config.SnapshotProcessEnv())
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	obs := observability.New(observability.Config{
		Logging: observability.LogConfig{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		},
		Metrics: observability.MetricsConfig{Enabled: cfg.Metrics.Enabled},
	})
	logging.SetBackend(obs.Logger)
	logger := logging.NewComponentLogger("Main")

	logger.Info("Starting agentgate server...")
	logger.Info("Environment: %s, addr: %s", cfg.Server.Environment, cfg.Server.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore := buildStore(ctx, cfg.Database, logger)
	defer closeStore()

	verifier, err := auth.NewVerifier(cfg.Auth, logging.NewComponentLogger("TokenVerifier"))
	if err != nil {
		log.Fatalf("Token verifier: %v", err)
	}

	orch := orchestrator.New(ctx, cfg.Agents, orchestrator.DefaultBuilders(cfg.Agents),
		orchestrator.WithMetrics(obs.Metrics))
	logger.Info("Available agents: %v", orch.ListAvailable())

	p := pipeline.New(verifier, orch, store, pipeline.WithMetrics(obs.Metrics))

	router := serverHTTP.NewRouter(serverHTTP.RouterConfig{
		Pipeline:       p,
		Orchestrator:   orch,
		Verifier:       verifier,
		Store:          store,
		Metrics:        obs.Metrics,
		Environment:    cfg.Server.Environment,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Observability shutdown: %v", err)
	}
	logger.Info("Server stopped")
}

// buildStore selects durable or in-memory persistence. A database that
// cannot be reached degrades to in-memory storage with a warning so the
// gateway still answers requests.
func buildStore(ctx context.Context, cfg config.DatabaseConfig, logger logging.Logger) (storage.Store, func()) {
	if cfg.URL == "" {
		logger.Info("No database configured; using in-memory storage")
		return storage.NewMemoryStore(), func() {}
	}

	pgStore, err := storage.NewPostgresStore(ctx, cfg.URL)
	if err != nil {
		logger.Warn("Database unavailable, falling back to in-memory storage: %v", err)
		return storage.NewMemoryStore(), func() {}
	}
	if err := pgStore.EnsureSchema(ctx); err != nil {
		logger.Warn("Schema setup failed, falling back to in-memory storage: %v", err)
		pgStore.Close()
		return storage.NewMemoryStore(), func() {}
	}
	logger.Info("Postgres storage initialized")
	return pgStore, pgStore.Close
}
