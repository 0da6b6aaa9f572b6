// Package main provides the CLI entry point for the chat backend: a
// human-in-the-loop agent streaming server over SSE, with approval-gated SQL
// execution and run-scoped tabular artifacts.
//
// # Basic Usage
//
// Start the server:
//
//	server serve --config config.yaml
//
// # Environment Variables
//
//   - OPENAI_API_KEY: OpenAI API key
//   - OPENAI_BASE_URL: override the OpenAI endpoint (optional)
//   - DATABASE_URL: Postgres connection string
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/kzinmr/tanstack-ai-demo/internal/adapter"
	"github.com/kzinmr/tanstack-ai-demo/internal/agent"
	"github.com/kzinmr/tanstack-ai-demo/internal/agent/providers"
	"github.com/kzinmr/tanstack-ai-demo/internal/artifacts"
	"github.com/kzinmr/tanstack-ai-demo/internal/config"
	"github.com/kzinmr/tanstack-ai-demo/internal/continuation"
	"github.com/kzinmr/tanstack-ai-demo/internal/db"
	"github.com/kzinmr/tanstack-ai-demo/internal/httpapi"
	"github.com/kzinmr/tanstack-ai-demo/internal/observability"
	"github.com/kzinmr/tanstack-ai-demo/internal/runstore"
	"github.com/kzinmr/tanstack-ai-demo/internal/tools"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "server",
		Short: "HITL agent streaming backend",
	}
	rootCmd.AddCommand(newServeCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Printf("server %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the streaming chat server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (optional)")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if database != nil {
		defer database.Close()
	}

	store, err := buildRunStore(ctx, cfg, database)
	if err != nil {
		return err
	}
	artifactStore, err := buildArtifactStore(ctx, cfg)
	if err != nil {
		return err
	}

	hub := continuation.NewHub()
	provider := providers.NewOpenAIProvider(cfg.LLM.APIKey, cfg.LLM.BaseURL)
	registry := tools.DefaultRegistry()
	runner := agent.NewRunner(provider, registry, logger)

	adp := adapter.New(runner, store, hub, artifactStore, database, adapter.Options{
		DefaultModel:   cfg.LLM.DefaultModel,
		MaxSQLLimit:    cfg.Tools.SQLMaxLimit,
		HubWaitEnabled: cfg.Continuation.HubWaitEnabled,
		HubWaitTimeout: cfg.Continuation.HubWaitTimeout,
		Metrics:        metrics,
	}, logger)

	handler := httpapi.NewHandler(&httpapi.Config{
		Adapter:        adp,
		Store:          store,
		Hub:            hub,
		Artifacts:      artifactStore,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Model:          cfg.LLM.DefaultModel,
		Metrics:        metrics,
		Logger:         logger,
	})

	if cfg.Runs.CleanupInterval > 0 {
		go runCleanup(ctx, cfg.Runs.CleanupInterval, store, artifactStore, metrics, logger)
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler.Mount(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", "addr", server.Addr, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", "error", err)
	}
	return nil
}

func openDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	if cfg.Database.URL == "" {
		logger.Warn("no database configured; SQL tools will report failures")
		return nil, nil
	}

	database, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	database.SetMaxOpenConns(cfg.Database.MaxConnections)
	database.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := db.EnsureSchema(ctx, database); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	logger.Info("database ready")
	return database, nil
}

func buildRunStore(ctx context.Context, cfg *config.Config, database *sql.DB) (runstore.Store, error) {
	opts := runstore.Options{
		TTLMinutes:  cfg.Runs.TTLMinutes,
		MaxMessages: cfg.Runs.MaxMessages,
	}
	switch cfg.Runs.Backend {
	case "postgres":
		if database == nil {
			return nil, fmt.Errorf("runs backend postgres requires a database")
		}
		return runstore.NewPostgresStore(ctx, database, opts)
	default:
		return runstore.NewMemoryStore(opts), nil
	}
}

func buildArtifactStore(ctx context.Context, cfg *config.Config) (artifacts.Store, error) {
	switch cfg.Artifacts.Backend {
	case "s3":
		return artifacts.NewS3Store(ctx, &artifacts.S3StoreConfig{
			Bucket:          cfg.Artifacts.S3.Bucket,
			Region:          cfg.Artifacts.S3.Region,
			Endpoint:        cfg.Artifacts.S3.Endpoint,
			Prefix:          cfg.Artifacts.S3.Prefix,
			AccessKeyID:     cfg.Artifacts.S3.AccessKeyID,
			SecretAccessKey: cfg.Artifacts.S3.SecretAccessKey,
			UsePathStyle:    cfg.Artifacts.S3.UsePathStyle,
			URLExpiry:       cfg.Artifacts.S3.URLExpiry,
			PreviewRows:     cfg.Artifacts.PreviewRows,
		})
	default:
		return artifacts.NewMemoryStore(*cfg.Artifacts.TTL, cfg.Artifacts.PreviewRows), nil
	}
}

// runCleanup sweeps expired run state and in-memory artifacts.
func runCleanup(
	ctx context.Context,
	interval time.Duration,
	store runstore.Store,
	artifactStore artifacts.Store,
	metrics *observability.Metrics,
	logger *slog.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.CleanupExpired(ctx)
			if err != nil {
				logger.Warn("run cleanup failed", "error", err)
			} else if removed > 0 {
				logger.Info("expired runs removed", "count", removed)
				metrics.RecordExpired("runs", removed)
			}
			if mem, ok := artifactStore.(*artifacts.MemoryStore); ok {
				if n := mem.CleanupExpired(); n > 0 {
					logger.Info("expired artifacts removed", "count", n)
					metrics.RecordExpired("artifacts", n)
				}
			}
		}
	}
}
