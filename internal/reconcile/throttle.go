package reconcile

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle spaces outbound mutations by a fixed delay. The first call
// passes immediately. It is safe for concurrent use, so pages sharing a
// Throttle share the company's rate budget.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle returns a throttle allowing one call per delay. A delay of
// zero or less disables throttling.
func NewThrottle(delay time.Duration) *Throttle {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Throttle{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next call may proceed or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}
