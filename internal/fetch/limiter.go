package fetch

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Pacing self-tunes from what the marketplace sends back: every success
// nudges the rate up, every 429 or block page halves it. The tuned rate
// floats between a quarter of and twice the configured base.
const (
	paceGrowth  = 1.2
	paceCeiling = 2.0
	paceFloor   = 0.25
)

// AdaptiveLimiter paces requests around a configured base rate.
type AdaptiveLimiter struct {
	limiter *rate.Limiter

	mu   sync.Mutex
	base rate.Limit
	cur  rate.Limit
}

// NewAdaptiveLimiter returns a limiter tuned to base requests per second.
func NewAdaptiveLimiter(base rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(base, burst),
		base:    base,
		cur:     base,
	}
}

// Wait blocks until the next request may go out.
func (l *AdaptiveLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// OnSuccess speeds up by 20%, capped at twice the base rate.
func (l *AdaptiveLimiter) OnSuccess() {
	l.retune(paceGrowth)
}

// OnRateLimit halves the rate after a 429 or a detected block page.
func (l *AdaptiveLimiter) OnRateLimit() {
	l.retune(0.5)
}

func (l *AdaptiveLimiter) retune(factor float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.cur * rate.Limit(factor)
	if hi := l.base * paceCeiling; next > hi {
		next = hi
	}
	if lo := l.base * paceFloor; next < lo {
		next = lo
	}
	if next < l.cur {
		zap.L().Warn("fetch: slowing request rate",
			zap.Float64("per_sec", float64(next)))
	}
	l.cur = next
	l.limiter.SetLimit(next)
}

// Limit reports the current tuned rate.
func (l *AdaptiveLimiter) Limit() rate.Limit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cur
}
