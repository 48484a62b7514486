package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/exigo-bridge/internal/alert"
	"github.com/ignite/exigo-bridge/internal/pkg/distlock"
	"github.com/ignite/exigo-bridge/internal/pkg/logger"
	"github.com/ignite/exigo-bridge/internal/reconcile"
	"github.com/ignite/exigo-bridge/internal/tenant"
)

// Synchronizer runs one company's delta sync.
type Synchronizer interface {
	Synchronize(ctx context.Context) (reconcile.Outcome, error)
}

// Job is one company's scheduled sync.
type Job struct {
	CompanyID string
	Sync      Synchronizer
}

// JobsFor lists a job per syncable company in reg.
func JobsFor(reg *tenant.Registry) func() []Job {
	return func() []Job {
		companies := reg.Syncable()
		jobs := make([]Job, len(companies))
		for i, c := range companies {
			jobs[i] = Job{CompanyID: c.ID, Sync: c.Engine}
		}
		return jobs
	}
}

// Locker serializes runs per company across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
	Go(ctx context.Context, key string, fn func(ctx context.Context)) error
}

// SchedulerConfig controls cadence and parallelism.
type SchedulerConfig struct {
	Interval    time.Duration
	RunTimeout  time.Duration
	Concurrency int
}

// Scheduler runs every company's sync on a fixed interval. Companies run
// in parallel up to Concurrency; a single company never overlaps itself
// because each run holds the company lock.
type Scheduler struct {
	jobs    func() []Job
	locker  Locker
	alerter alert.Alerter
	cfg     SchedulerConfig
}

// NewScheduler creates a scheduler. alerter may be nil.
func NewScheduler(jobs func() []Job, locker Locker, alerter alert.Alerter, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 6 * time.Hour
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if alerter == nil {
		alerter = alert.LogAlerter{}
	}
	return &Scheduler{jobs: jobs, locker: locker, alerter: alerter, cfg: cfg}
}

// Start runs all companies now and then on every tick. It blocks until
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	logger.Info("sync scheduler starting", "interval", s.cfg.Interval.String(),
		"concurrency", s.cfg.Concurrency, "run_timeout", s.cfg.RunTimeout.String())

	s.RunAll(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("sync scheduler stopping")
			return
		case <-ticker.C:
			s.RunAll(ctx)
		}
	}
}

// RunAll runs one cycle over every job and waits for it to finish.
func (s *Scheduler) RunAll(ctx context.Context) {
	jobs := s.jobs()
	start := time.Now()
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			_, _ = s.RunCompany(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	logger.Info("sync cycle complete", "companies", len(jobs), "elapsed", time.Since(start).Round(time.Millisecond).String())
}

// RunCompany runs job under its company lock with the run timeout. A run
// skipped because the lock is held returns distlock.ErrLockHeld and is
// not alerted.
func (s *Scheduler) RunCompany(ctx context.Context, job Job) (reconcile.Outcome, error) {
	var out reconcile.Outcome
	err := s.locker.WithLock(ctx, distlock.CompanySyncKey(job.CompanyID), func(ctx context.Context) error {
		var err error
		out, err = s.run(ctx, job)
		return err
	})
	if errors.Is(err, distlock.ErrLockHeld) {
		logger.Info("sync already running elsewhere, skipping", "company_id", job.CompanyID)
	}
	return out, err
}

// Trigger starts job in the background and returns immediately. It
// returns distlock.ErrLockHeld when the company is already running.
func (s *Scheduler) Trigger(job Job) error {
	return s.locker.Go(context.Background(), distlock.CompanySyncKey(job.CompanyID), func(ctx context.Context) {
		_, _ = s.run(ctx, job)
	})
}

func (s *Scheduler) run(ctx context.Context, job Job) (reconcile.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	out, err := job.Sync.Synchronize(ctx)
	if err == nil {
		return out, nil
	}
	logger.Error("company sync failed", "company_id", job.CompanyID, "mode", string(out.Mode), "error", err)

	if errors.Is(err, context.Canceled) {
		return out, err
	}
	alertCtx, alertCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer alertCancel()
	if aerr := s.alerter.Notify(alertCtx, alert.Alert{
		CompanyID: job.CompanyID,
		Subject:   failureSubject(err),
		Detail:    fmt.Sprintf("mode=%s promoted=%d demoted=%d failed=%d", out.Mode, out.PromotedCount, out.DemotedCount, out.FailedCount),
		Err:       err,
		At:        time.Now(),
	}); aerr != nil {
		logger.Warn("alert delivery failed", "company_id", job.CompanyID, "error", aerr)
	}
	return out, err
}

func failureSubject(err error) string {
	switch {
	case errors.Is(err, reconcile.ErrFetchAutoship):
		return "autoship fetch failed"
	case errors.Is(err, reconcile.ErrSnapshotRead):
		return "snapshot read failed"
	case errors.Is(err, reconcile.ErrSnapshotWrite):
		return "snapshot write failed"
	case errors.Is(err, context.DeadlineExceeded):
		return "run timed out"
	}
	return "sync failed"
}
