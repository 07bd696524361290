package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrBreakerOpen is returned by Allow while the upstream is cooling down.
var ErrBreakerOpen = eris.New("resilience: breaker open")

// Breaker cuts an upstream off after consecutive failures. While open, Allow
// refuses every call; once the cooldown has passed, probes go through and
// the first recorded outcome decides between closing again and a fresh
// cooldown. Callers report outcomes through Record.
type Breaker struct {
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	failures int
	openedAt time.Time

	now func() time.Time
}

// NewBreaker returns a closed breaker that opens after threshold consecutive
// failures and re-tests the upstream every cooldown.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a call may go out. ErrBreakerOpen means the upstream
// is cooling down and the caller should skip the call entirely.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.threshold {
		return nil
	}
	if b.now().Sub(b.openedAt) < b.cooldown {
		return ErrBreakerOpen
	}
	return nil
}

// Record feeds back the outcome of an allowed call. A nil error closes the
// breaker; a failure counts toward the threshold and, past it, starts a
// fresh cooldown.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.openedAt = b.now()
	}
}

// State names the current state for logs: closed, open, or half_open.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.failures < b.threshold:
		return "closed"
	case b.now().Sub(b.openedAt) < b.cooldown:
		return "open"
	default:
		return "half_open"
	}
}
