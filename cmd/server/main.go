package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/companyimport/internal/config"
	"github.com/JonMunkholm/companyimport/internal/core"
	"github.com/JonMunkholm/companyimport/internal/logging"
	"github.com/JonMunkholm/companyimport/internal/store"
	"github.com/JonMunkholm/companyimport/internal/web"
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
		"store", cfg.Store.Driver,
		"duplicate_policy", cfg.Ingest.DuplicatePolicy,
		"reconcile_mode", cfg.Ingest.ReconcileMode,
		"ingest_max_concurrent", cfg.Ingest.MaxConcurrent,
	)

	ctx := context.Background()
	records, err := store.Open(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer records.Close()

	if err := records.Migrate(ctx); err != nil {
		slog.Error("failed to migrate store", "error", err)
		os.Exit(1)
	}

	service, err := core.NewService(records, cfg)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(service, cfg)

	// Background jobs stop when jobCtx is cancelled.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	var jobs sync.WaitGroup

	jobs.Add(1)
	go func() {
		defer jobs.Done()
		if err := service.RunReconcileWorkers(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("reconcile workers stopped", "error", err)
		}
	}()

	if cfg.Reconcile.SweepEnabled {
		jobs.Add(1)
		go func() {
			defer jobs.Done()
			service.StartSweepScheduler(jobCtx, core.SweepConfig{Interval: cfg.Reconcile.SweepInterval})
		}()
	}

	server.StartCleanup(jobCtx)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active ingestions so their batches get reconciled.
		if status := service.IngestStatus(); status.Active > 0 {
			slog.Info("waiting for ingestions to complete", "active", status.Active)
			if err := service.WaitForIngestions(shutdownCtx); err != nil {
				slog.Warn("ingestions did not complete in time", "error", err)
			} else {
				slog.Info("all ingestions completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		cancelJobs()
		jobs.Wait()
	}()

	if err := server.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}
