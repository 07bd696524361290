// Package resilience decides how to keep calling upstreams that fail:
// transient failures retry under a paced policy, and an upstream that keeps
// failing gets cut off by a breaker until it recovers.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Policy paces repeated attempts at one operation. The sleep between
// attempts doubles each time, capped at MaxDelay, and Jitter smears it so
// concurrent crawls do not retry in lockstep.
type Policy struct {
	// Attempts is the total number of tries, the first one included.
	Attempts int

	// BaseDelay is the sleep before the second attempt.
	BaseDelay time.Duration

	// MaxDelay caps the doubled sleep.
	MaxDelay time.Duration

	// Jitter is the fraction of each sleep randomized up or down,
	// clamped to [0, 1]. Zero means exact sleeps.
	Jitter float64

	// Classify decides whether an error is worth another attempt.
	// Nil means Retryable.
	Classify func(err error) bool

	// OnRetry runs before each sleep with the number of the attempt that
	// just failed.
	OnRetry func(attempt int, err error)
}

// Do runs fn until it succeeds, the attempts run out, a non-retryable error
// surfaces, or ctx ends. The last error seen is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for operations that produce a value. The value from the
// succeeding attempt is returned; exhaustion returns the zero value with the
// last error.
func DoVal[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()
	classify := p.Classify
	if classify == nil {
		classify = Retryable
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !classify(err) || attempt == p.Attempts-1 {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err)
		}

		timer := time.NewTimer(p.sleep(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}

func (p Policy) normalized() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	return p
}

// sleep is the pause after the given zero-based attempt.
func (p Policy) sleep(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d *= 1 + p.Jitter*(2*rand.Float64()-1)
	}
	return time.Duration(d)
}
