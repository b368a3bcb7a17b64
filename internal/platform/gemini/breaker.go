package gemini

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// breaker opens after maxFailures consecutive failures and rejects calls
// until resetAfter has passed, then lets a single probe through.
type breaker struct {
	mu          sync.Mutex
	state       breakerState
	failures    int
	maxFailures int
	resetAfter  time.Duration
	openedAt    time.Time
	now         func() time.Time
}

func newBreaker(maxFailures int, resetAfter time.Duration) *breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &breaker{
		maxFailures: maxFailures,
		resetAfter:  resetAfter,
		now:         time.Now,
	}
}

// allow reports whether a call may proceed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		if b.now().Sub(b.openedAt) >= b.resetAfter {
			b.state = breakerHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// record updates the breaker with the outcome of an allowed call. Only
// failures that say something about service health should be reported as
// failed; a blocked prompt is a success from the breaker's point of view.
func (b *breaker) record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !failed {
		b.failures = 0
		b.state = breakerClosed
		return
	}

	b.failures++
	if b.state == breakerHalfOpen || b.failures >= b.maxFailures {
		b.state = breakerOpen
		b.openedAt = b.now()
	}
}
