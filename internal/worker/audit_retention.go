package worker

import (
	"context"
	"time"

	"github.com/ignite/exigo-bridge/internal/pkg/logger"
)

const (
	// DefaultRetentionInterval is how often old transitions are swept.
	DefaultRetentionInterval = 6 * time.Hour

	// retentionBatchSize limits each DELETE to avoid long locks.
	retentionBatchSize = 10000
)

// TransitionPruner deletes audit rows by age.
type TransitionPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time, batch int) (int64, error)
}

// AuditRetentionWorker removes tier transitions past the retention
// window, in batches.
type AuditRetentionWorker struct {
	store     TransitionPruner
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

// NewAuditRetentionWorker creates a worker keeping retention worth of
// transitions.
func NewAuditRetentionWorker(store TransitionPruner, retention time.Duration) *AuditRetentionWorker {
	return &AuditRetentionWorker{
		store:     store,
		retention: retention,
		interval:  DefaultRetentionInterval,
		now:       time.Now,
	}
}

// Start sweeps now and then on every tick. It blocks until ctx is
// cancelled.
func (w *AuditRetentionWorker) Start(ctx context.Context) {
	logger.Info("audit retention starting", "retention", w.retention.String(), "interval", w.interval.String())

	w.Sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("audit retention stopping")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep deletes everything older than the window and returns the count.
func (w *AuditRetentionWorker) Sweep(ctx context.Context) int64 {
	cutoff := w.now().Add(-w.retention)
	var total int64
	for {
		if ctx.Err() != nil {
			break
		}
		n, err := w.store.DeleteOlderThan(ctx, cutoff, retentionBatchSize)
		if err != nil {
			logger.Error("audit retention batch failed", "error", err, "deleted_so_far", total)
			break
		}
		total += n
		if n < retentionBatchSize {
			break
		}
	}
	if total > 0 {
		logger.Info("removed old tier transitions", "deleted", total, "cutoff", cutoff.Format(time.RFC3339))
	}
	return total
}
