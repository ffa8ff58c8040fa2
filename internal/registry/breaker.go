package registry

import (
	"errors"
	"sync"
	"time"
)

// ErrRegistryDown is returned while the breaker is open and calls are being
// shed instead of sent to an unresponsive registry.
var ErrRegistryDown = errors.New("registry unavailable")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// breaker sheds registry calls after repeated failures so a dead registry
// does not stall every discovery. Closed passes calls through, open rejects
// them, half-open lets a single probe decide.
type breaker struct {
	mu          sync.Mutex
	state       breakerState
	failures    int
	threshold   int
	resetAfter  time.Duration
	lastFailure time.Time
	now         func() time.Time
}

func newBreaker(threshold int, resetAfter time.Duration) *breaker {
	return &breaker{
		threshold:  threshold,
		resetAfter: resetAfter,
		now:        time.Now,
	}
}

func (b *breaker) execute(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case breakerOpen:
		if b.now().Sub(b.lastFailure) < b.resetAfter {
			b.mu.Unlock()
			return ErrRegistryDown
		}
		b.state = breakerHalfOpen
	case breakerHalfOpen:
		// One probe in flight is enough.
		b.mu.Unlock()
		return ErrRegistryDown
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		b.lastFailure = b.now()
		if b.state == breakerHalfOpen || b.failures >= b.threshold {
			b.state = breakerOpen
		}
		return err
	}
	b.state = breakerClosed
	b.failures = 0
	return nil
}
