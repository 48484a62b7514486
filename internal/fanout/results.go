package fanout

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/exigo-bridge/internal/reconcile"
)

func resultKey(setKey string) string { return setKey + ":result" }

// Progress is the aggregate of all pages reported so far.
type Progress struct {
	Result      reconcile.PageResult
	PagesDone   int
	PagesFailed int
}

// Reported is the number of pages that have finished either way.
func (p Progress) Reported() int { return p.PagesDone + p.PagesFailed }

// RecordPageResult adds one page's outcome to the run's counters. Queue
// consumers call it so the orchestrator can aggregate across processes.
func RecordPageResult(ctx context.Context, rdb redis.Cmdable, setKey string, res reconcile.PageResult, pageErr error, ttl time.Duration) error {
	key := resultKey(setKey)
	pipe := rdb.TxPipeline()
	if pageErr != nil {
		pipe.HIncrBy(ctx, key, "pages_failed", 1)
	} else {
		pipe.HIncrBy(ctx, key, "pages_done", 1)
		pipe.HIncrBy(ctx, key, "processed", int64(res.Processed))
		pipe.HIncrBy(ctx, key, "skipped", int64(res.Skipped))
		pipe.HIncrBy(ctx, key, "failed", int64(res.Failed))
		pipe.HIncrBy(ctx, key, "total", int64(res.Total))
	}
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record page result %s: %w", key, err)
	}
	return nil
}

// ReadProgress returns the counters recorded for setKey.
func ReadProgress(ctx context.Context, rdb redis.Cmdable, setKey string) (Progress, error) {
	vals, err := rdb.HGetAll(ctx, resultKey(setKey)).Result()
	if err != nil {
		return Progress{}, fmt.Errorf("read page results: %w", err)
	}
	n := func(field string) int {
		v, _ := strconv.Atoi(vals[field])
		return v
	}
	return Progress{
		Result: reconcile.PageResult{
			Processed: n("processed"),
			Skipped:   n("skipped"),
			Failed:    n("failed"),
			Total:     n("total"),
		},
		PagesDone:   n("pages_done"),
		PagesFailed: n("pages_failed"),
	}, nil
}
