package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/exigo-bridge/internal/api"
	"github.com/ignite/exigo-bridge/internal/app"
	"github.com/ignite/exigo-bridge/internal/config"
	"github.com/ignite/exigo-bridge/internal/pkg/logger"
	"github.com/ignite/exigo-bridge/internal/worker"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	app.ConfigureLogger(cfg.Log)
	if cfg.Sync.DryRun {
		logger.Warn("dry run enabled: no tiers, mirrors, audit rows, or snapshots will be written")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// Manual triggers share the worker's per-company lock, so a triggered
	// run never overlaps a scheduled one.
	scheduler := worker.NewScheduler(worker.JobsFor(a.Registry), a.Locker, a.Alerter, worker.SchedulerConfig{
		Interval:    cfg.Scheduler.Interval(),
		RunTimeout:  cfg.Scheduler.RunTimeout(),
		Concurrency: cfg.Scheduler.CompanyConcurrency,
	})

	deps := api.Deps{
		Companies:   a.Registry,
		Snapshots:   a.Snapshots,
		Transitions: a.Transitions,
		Trigger:     scheduler,
		Health:      api.NewHealthChecker(a.DB, a.Redis),
		AdminToken:  cfg.Server.AdminToken,
	}
	if deps.AdminToken == "" {
		logger.Warn("no admin token configured, /api routes will reject every request")
	}
	server := api.NewServer(deps)

	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr(), "companies", len(a.Registry.All()))
		if err := server.ListenAndServe(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			cancel()
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	select {
	case <-done:
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}
