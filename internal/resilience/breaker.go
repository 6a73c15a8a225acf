// Package resilience guards the engine's outbound inference calls.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without invoking the call when the breaker
// is rejecting traffic.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker is a consecutive-failure circuit breaker sitting in front of
// the inference client. Once maxFailures calls in a row have failed it
// rejects everything for the cooldown; after that exactly one probe call
// is admitted at a time, and its outcome decides whether the circuit
// closes again or the cooldown restarts.
type Breaker struct {
	mu          sync.Mutex
	maxFailures int
	cooldown    time.Duration

	failures int
	openedAt time.Time
	probing  bool

	now func() time.Time // stubbed in tests
}

// NewBreaker creates a breaker that opens after maxFailures consecutive
// failures and stays open for the given cooldown.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Execute runs fn unless the circuit is rejecting calls, in which case
// it returns ErrCircuitOpen without invoking fn.
func (b *Breaker) Execute(fn func() error) error {
	if !b.admit() {
		return ErrCircuitOpen
	}

	err := fn()
	b.record(err)
	return err
}

// State reports "closed", "open" or "half-open" for logs and health
// output.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.failures < b.maxFailures:
		return "closed"
	case b.now().Sub(b.openedAt) < b.cooldown:
		return "open"
	default:
		return "half-open"
	}
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.maxFailures {
		return true
	}
	if b.now().Sub(b.openedAt) < b.cooldown {
		return false
	}
	// Half-open: one probe in flight at a time.
	if b.probing {
		return false
	}
	b.probing = true
	return true
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.probing = false
		return
	}

	if b.probing {
		// Failed probe: restart the cooldown, keep the circuit open.
		b.probing = false
		b.openedAt = b.now()
		return
	}

	b.failures++
	if b.failures == b.maxFailures {
		b.openedAt = b.now()
	}
}
