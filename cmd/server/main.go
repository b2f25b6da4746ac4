package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/arcstore/migrator/internal/config"
	"github.com/arcstore/migrator/internal/logging"
	"github.com/arcstore/migrator/internal/migration"
	"github.com/arcstore/migrator/internal/storage"
	"github.com/arcstore/migrator/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"max_concurrent_jobs", cfg.Migration.MaxConcurrentJobs,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()
	pool, err := storage.NewPool(ctx, cfg.Database.URL, storage.PoolOptions{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	if err := storage.Migrate(cfg.Database.URL); err != nil {
		slog.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}

	store := migration.NewStore(pool)
	tracker := migration.NewStepTracker()
	limiter := migration.NewJobLimiter(cfg.Migration.MaxConcurrentJobs, cfg.Migration.MaxWaitTime)
	orch := migration.NewOrchestrator(store, tracker, limiter)

	server := web.NewServer(cfg, orch, pool)

	// Graceful shutdown: stop accepting requests, then wait for running
	// migration jobs to drain.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		if active := limiter.ActiveCount(); active > 0 {
			slog.Info("waiting for migration jobs to complete", "active", active)
		}
		if err := orch.Shutdown(shutdownCtx); err != nil {
			slog.Warn("migration jobs did not complete in time", "error", err)
		} else {
			slog.Info("all migration jobs completed")
		}
	}()

	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
