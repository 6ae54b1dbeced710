package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/rosterflow/rosterflow/internal/config"
	"github.com/rosterflow/rosterflow/internal/importer"
	"github.com/rosterflow/rosterflow/internal/logging"
	"github.com/rosterflow/rosterflow/internal/roster"
	"github.com/rosterflow/rosterflow/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"demo_mode", cfg.Database.DemoMode(),
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"similarity_threshold", cfg.Import.SimilarityThreshold,
	)

	ctx := context.Background()

	// Pick the roster backend: Postgres when a URL is configured, otherwise
	// an in-memory roster for demos and local development.
	var students roster.Roster
	if cfg.Database.DemoMode() {
		slog.Warn("no DATABASE_URL configured, running with an in-memory roster; imported data is not persisted")
		students = roster.NewMemory()
	} else {
		poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			slog.Error("failed to parse database URL", "error", err)
			os.Exit(1)
		}
		poolConfig.MaxConns = int32(cfg.Database.MaxConns)
		poolConfig.MinConns = int32(cfg.Database.MinConns)
		poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
		poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			slog.Error("failed to ping database", "error", err)
			os.Exit(1)
		}

		// Log which database we connected to
		if u, err := url.Parse(cfg.Database.URL); err == nil {
			slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
		} else {
			slog.Info("connected to database")
		}

		students = roster.NewPostgres(pool)
	}

	// Session store with background expiry
	store := importer.NewStore(cfg.Import.SessionTTL)
	store.StartJanitor(cfg.Import.JanitorInterval)
	defer store.Close()

	service := importer.NewService(students, store, importer.Options{
		MaxFileSize:         cfg.Import.MaxFileSize,
		MaxRows:             cfg.Import.MaxRows,
		SimilarityThreshold: cfg.Import.SimilarityThreshold,
		CommitTimeout:       cfg.Import.CommitTimeout,
		PreviewRows:         cfg.Import.PreviewRows,
		MaxConcurrent:       cfg.Import.MaxConcurrent,
		SlotWait:            cfg.Import.SlotWait,
	})

	server := web.NewServer(service, cfg.Server, cfg.Import.MaxFileSize)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for in-flight import sessions to finish (with timeout)
		if active := service.ActiveSessions(); active > 0 {
			slog.Info("waiting for imports to complete", "active", active)
			if err := service.Drain(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time", "error", err)
			} else {
				slog.Info("all imports completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
