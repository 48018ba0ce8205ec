package task

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle spaces out engine dispatches from one orchestrator: at most one
// call per interval, each delayed by a random jitter. It is advisory and
// does not coordinate across processes.
type Throttle struct {
	limiter *rate.Limiter
	jitter  time.Duration
	sleep   sleepFunc
}

// NewThrottle creates a throttle. A non-positive interval disables the
// rate limit; a non-positive jitter disables the jitter.
func NewThrottle(interval, jitter time.Duration) *Throttle {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Throttle{
		limiter: rate.NewLimiter(limit, 1),
		jitter:  jitter,
		sleep:   sleepCtx,
	}
}

// Wait blocks until the next dispatch is allowed or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	if t.jitter > 0 {
		return t.sleep(ctx, jitter(t.jitter))
	}
	return nil
}
