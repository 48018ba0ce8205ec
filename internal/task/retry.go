package task

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/phrazzld/mediascribe/internal/engine"
)

// Retry defaults.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 2 * time.Second
)

// RetryPolicy bounds how often a transient engine failure is retried.
// An engine is called at most 1+MaxRetries times per task.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Classifier *engine.Classifier
}

// DefaultRetryPolicy returns the standard policy with the built-in
// transient phrase list.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		Classifier: engine.NewClassifier(),
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Classifier == nil {
		p.Classifier = engine.NewClassifier()
	}
	return p
}

// Backoff returns the wait before retry n (1-based): BaseDelay doubled for
// each earlier retry plus uniform jitter in [0, BaseDelay).
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 || p.BaseDelay <= 0 {
		return 0
	}
	shift := min(n-1, 16)
	return p.BaseDelay<<shift + jitter(p.BaseDelay)
}

// IsRetryable reports whether err is worth another attempt.
func (p RetryPolicy) IsRetryable(err error) bool {
	return p.Classifier.IsTransient(err)
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit)
}

// sleepFunc waits for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
