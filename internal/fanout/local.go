package fanout

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/exigo-bridge/internal/pkg/logger"
	"github.com/ignite/exigo-bridge/internal/reconcile"
)

// RunLocal processes tasks on at most workers goroutines. A failed page
// does not stop the others.
func RunLocal(ctx context.Context, workers int, tasks []PageTask, handler *PageHandler, set reconcile.ActiveSet) Progress {
	if workers < 1 {
		workers = 1
	}
	var (
		mu       sync.Mutex
		progress Progress
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, task := range tasks {
		g.Go(func() error {
			res, err := handler.Handle(gctx, task, set)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				progress.PagesFailed++
				logger.Error("page failed", "company_id", task.CompanyID, "run_id", task.RunID,
					"page", task.Page, "error", err)
				return nil
			}
			progress.PagesDone++
			progress.Result.Add(res)
			return nil
		})
	}
	_ = g.Wait()
	return progress
}
