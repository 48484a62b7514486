package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/exigo-bridge/internal/app"
	"github.com/ignite/exigo-bridge/internal/config"
	"github.com/ignite/exigo-bridge/internal/fanout"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	scheduler := worker.NewScheduler(worker.JobsFor(a.Registry), a.Locker, a.Alerter, worker.SchedulerConfig{
		Interval:    cfg.Scheduler.Interval(),
		RunTimeout:  cfg.Scheduler.RunTimeout(),
		Concurrency: cfg.Scheduler.CompanyConcurrency,
	})
	go scheduler.Start(ctx)
	logger.Info("sync scheduler started",
		"interval", cfg.Scheduler.Interval().String(),
		"companies", len(a.Registry.Syncable()),
		"dry_run", cfg.Sync.DryRun)

	var consumer *worker.PageConsumer
	if cfg.Fanout.Mode == fanout.ModeSQS {
		if a.Redis == nil || a.SQS == nil {
			logger.Error("fanout mode sqs needs redis and aws.page_queue_url")
			os.Exit(1)
		}
		consumer = worker.NewPageConsumer(a.SQS, cfg.AWS.PageQueueURL, a.Registry, a.Redis, cfg.Fanout.SetTTL())
		consumer.Start(ctx)
	}

	if retention := cfg.Sync.AuditRetention(); retention > 0 {
		go worker.NewAuditRetentionWorker(a.Transitions, retention).Start(ctx)
		logger.Info("audit retention enabled", "retention_days", cfg.Sync.AuditRetentionDays)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker")
	if consumer != nil {
		consumer.Stop()
	}
	cancel()

	// Give in-flight runs a moment to release their locks.
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}
