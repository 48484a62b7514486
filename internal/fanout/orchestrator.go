package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/exigo-bridge/internal/domain"
	"github.com/ignite/exigo-bridge/internal/metrics"
	"github.com/ignite/exigo-bridge/internal/pkg/logger"
)

// Dispatch modes.
const (
	ModeLocal = "local"
	ModeSQS   = "sqs"
)

// ErrIncomplete means some pages failed or never reported, so the
// snapshot was left untouched.
var ErrIncomplete = errors.New("page run incomplete")

// Baseline is the engine side the orchestrator needs: today's set and
// the single snapshot write.
type Baseline interface {
	ActiveAutoship(ctx context.Context) (domain.IDSet, error)
	CommitSnapshot(ctx context.Context, ids domain.IDSet) (*domain.AutoshipSnapshot, error)
}

// Publisher hands tasks to remote workers.
type Publisher interface {
	Publish(ctx context.Context, tasks []PageTask) (int, error)
}

// Config wires an Orchestrator for one company.
type Config struct {
	CompanyID string
	Baseline  Baseline
	Pager     CustomerPager
	Processor PageProcessor
	Redis     redis.Cmdable

	Mode      string
	Queue     Publisher // required in ModeSQS
	PageSize  int
	Workers   int
	SetTTL    time.Duration
	PollEvery time.Duration
}

// Outcome summarizes one fan-out run.
type Outcome struct {
	CompanyID   string        `json:"company_id"`
	RunID       string        `json:"run_id"`
	Mode        string        `json:"mode"`
	ActiveCount int           `json:"active_count"`
	Pages       int           `json:"pages"`
	PagesDone   int           `json:"pages_done"`
	PagesFailed int           `json:"pages_failed"`
	Processed   int           `json:"processed"`
	Skipped     int           `json:"skipped"`
	Failed      int           `json:"failed"`
	Total       int           `json:"total"`
	SnapshotID  string        `json:"snapshot_id,omitempty"`
	Success     bool          `json:"success"`
	Duration    time.Duration `json:"duration"`
}

// Orchestrator runs the page-oriented sync for one company.
type Orchestrator struct {
	cfg     Config
	handler *PageHandler
	log     *logger.Logger
}

// NewOrchestrator validates cfg and fills defaults.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.CompanyID == "" || cfg.Baseline == nil || cfg.Pager == nil || cfg.Processor == nil || cfg.Redis == nil {
		return nil, fmt.Errorf("fanout: company, baseline, pager, processor and redis are required")
	}
	switch cfg.Mode {
	case "", ModeLocal:
		cfg.Mode = ModeLocal
	case ModeSQS:
		if cfg.Queue == nil {
			return nil, fmt.Errorf("fanout: sqs mode needs a queue")
		}
	default:
		return nil, fmt.Errorf("fanout: unknown mode %q", cfg.Mode)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.SetTTL <= 0 {
		cfg.SetTTL = 12 * time.Hour
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 5 * time.Second
	}
	return &Orchestrator{
		cfg:     cfg,
		handler: NewPageHandler(cfg.Pager, cfg.Processor),
		log:     logger.With("component", "fanout", "company_id", cfg.CompanyID),
	}, nil
}

// Run computes the active set, processes every customer page, and
// commits the snapshot only when all pages reported success. A fetch
// failure before dispatch is fatal; ErrIncomplete means customers were
// processed but the baseline did not move.
func (o *Orchestrator) Run(ctx context.Context) (Outcome, error) {
	start := time.Now()
	out := Outcome{CompanyID: o.cfg.CompanyID, RunID: uuid.NewString(), Mode: o.cfg.Mode}
	defer func() { out.Duration = time.Since(start) }()

	ids, err := o.cfg.Baseline.ActiveAutoship(ctx)
	if err != nil {
		return out, err
	}
	out.ActiveCount = ids.Len()

	key := ActiveSetKey(o.cfg.CompanyID, out.RunID)
	set, err := PublishActiveSet(ctx, o.cfg.Redis, key, ids, o.cfg.SetTTL)
	if err != nil {
		return out, err
	}

	first, err := o.cfg.Pager.ListCustomers(ctx, 1, o.cfg.PageSize)
	if err != nil {
		_ = set.Delete(ctx)
		return out, fmt.Errorf("list first customer page: %w", err)
	}
	pages := first.TotalPages
	if pages < 1 && len(first.Customers) > 0 {
		pages = 1
	}
	out.Pages = pages

	tasks := make([]PageTask, pages)
	for i := range tasks {
		tasks[i] = PageTask{
			RunID:     out.RunID,
			CompanyID: o.cfg.CompanyID,
			SetKey:    key,
			Page:      i + 1,
			PerPage:   o.cfg.PageSize,
		}
	}
	o.log.Info("starting page run", "run_id", out.RunID, "mode", o.cfg.Mode,
		"active", out.ActiveCount, "pages", pages, "page_size", o.cfg.PageSize)

	var progress Progress
	switch o.cfg.Mode {
	case ModeSQS:
		progress, err = o.dispatchQueue(ctx, key, tasks)
	default:
		progress = RunLocal(ctx, o.cfg.Workers, tasks, o.handler, set)
	}
	out.PagesDone = progress.PagesDone
	out.PagesFailed = progress.PagesFailed
	out.Processed = progress.Result.Processed
	out.Skipped = progress.Result.Skipped
	out.Failed = progress.Result.Failed
	out.Total = progress.Result.Total
	if err != nil {
		return out, err
	}

	if progress.PagesFailed > 0 || progress.PagesDone < pages {
		o.log.Warn("page run incomplete, snapshot not written", "run_id", out.RunID,
			"pages", pages, "done", progress.PagesDone, "failed", progress.PagesFailed)
		metrics.SyncRunsTotal.WithLabelValues(o.cfg.CompanyID, "pages", "failure").Inc()
		return out, fmt.Errorf("%w: %d of %d pages done", ErrIncomplete, progress.PagesDone, pages)
	}
	_ = set.Delete(ctx)

	snap, err := o.cfg.Baseline.CommitSnapshot(ctx, ids)
	if err != nil {
		metrics.SyncRunsTotal.WithLabelValues(o.cfg.CompanyID, "pages", "failure").Inc()
		return out, err
	}
	out.SnapshotID = snap.ID
	out.Success = true
	metrics.SyncRunsTotal.WithLabelValues(o.cfg.CompanyID, "pages", "success").Inc()
	o.log.Info("page run complete", "run_id", out.RunID, "processed", out.Processed,
		"skipped", out.Skipped, "failed", out.Failed, "total", out.Total)
	return out, nil
}

// dispatchQueue publishes tasks and polls the shared counters until every
// page has reported or ctx ends.
func (o *Orchestrator) dispatchQueue(ctx context.Context, key string, tasks []PageTask) (Progress, error) {
	sent, err := o.cfg.Queue.Publish(ctx, tasks)
	if err != nil {
		return Progress{}, fmt.Errorf("publish page tasks (%d sent): %w", sent, err)
	}

	ticker := time.NewTicker(o.cfg.PollEvery)
	defer ticker.Stop()
	var last Progress
	for {
		p, err := ReadProgress(ctx, o.cfg.Redis, key)
		if err != nil {
			if ctx.Err() != nil {
				return last, nil
			}
			return last, err
		}
		last = p
		if p.Reported() >= len(tasks) {
			return p, nil
		}
		select {
		case <-ctx.Done():
			o.log.Warn("stopped waiting for page results", "reported", p.Reported(), "pages", len(tasks))
			return p, nil
		case <-ticker.C:
		}
	}
}
