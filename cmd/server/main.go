// Package main is the entrypoint for the driftd API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftai/driftd/internal/api"
	"github.com/driftai/driftd/internal/api/handler"
	mw "github.com/driftai/driftd/internal/api/middleware"
	"github.com/driftai/driftd/internal/cache"
	"github.com/driftai/driftd/internal/config"
	"github.com/driftai/driftd/internal/export"
	"github.com/driftai/driftd/internal/extract"
	"github.com/driftai/driftd/internal/metrics"
	"github.com/driftai/driftd/internal/store"
	"github.com/driftai/driftd/pkg/upload"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "extract_provider", cfg.Extract.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	extractor, err := extract.NewExtractor(cfg.Extract)
	if err != nil {
		return fmt.Errorf("create extraction provider: %w", err)
	}
	slog.Info("extraction provider initialized", "provider", extractor.Name())

	if err := os.MkdirAll(cfg.Upload.Dir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	metrics.MustRegister()

	pgStore := store.NewPostgresStore(pool)
	extractSvc := extract.NewExtractionService(extractor, pgStore, redisCache, cfg.Extract.Timeout)
	exportSvc := export.NewService(pgStore, redisCache, cfg.Export)

	uploadDeps := handler.UploadDeps{
		Service:    extractSvc,
		Gate:       upload.NewGate(nil, cfg.Upload.MaxSizeBytes),
		StagingDir: cfg.Upload.Dir,
		MaxBytes:   cfg.Upload.MaxSizeBytes,
	}

	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, 60),

		HealthHandler: handler.NewHealthHandler(pgStore, redisCache),

		UploadContractHandler:  handler.NewUploadContractHandler(uploadDeps),
		ReplaceContractHandler: handler.NewReplaceContractUploadHandler(uploadDeps),
		GetJobHandler:          handler.NewGetJobHandler(pgStore, redisCache),

		ConfirmCreateHandler:  handler.NewConfirmCreateHandler(pgStore),
		ConfirmReplaceHandler: handler.NewConfirmReplaceHandler(pgStore),
		CheckNameHandler:      handler.NewCheckNameHandler(pgStore),
		ListVendorsHandler:    handler.NewListVendorsHandler(pgStore),
		GetVendorHandler:      handler.NewGetVendorHandler(pgStore),

		DownloadExportHandler: handler.NewDownloadExportHandler(exportSvc),
		ExportProgressHandler: handler.NewExportProgressHandler(exportSvc),
		CancelExportHandler:   handler.NewCancelExportHandler(exportSvc),
		ValidateExportHandler: handler.NewValidateExportHandler(exportSvc),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
