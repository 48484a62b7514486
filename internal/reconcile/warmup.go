package reconcile

import "github.com/ignite/exigo-bridge/internal/domain"

// warmupPlan is the capped slice of new IDs one warmup run may touch.
type warmupPlan struct {
	batch    []string
	deferred int
	// baseline is the snapshot to persist: the previous IDs plus the
	// batch. Unprocessed new IDs stay out so the next run sees them as
	// new again. Lost IDs stay in so their demotion waits for a delta run.
	baseline domain.IDSet
}

// planWarmup picks the first limit new IDs in canonical order.
func planWarmup(yesterday, newIDs domain.IDSet, limit int) warmupPlan {
	ordered := newIDs.Sorted()
	n := len(ordered)
	if limit < n {
		n = limit
	}
	batch := ordered[:n]
	return warmupPlan{
		batch:    batch,
		deferred: len(ordered) - n,
		baseline: yesterday.Union(domain.NewIDSet(batch...)),
	}
}
