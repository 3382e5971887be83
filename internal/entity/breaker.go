package entity

import (
	"fmt"
	"sync"
	"time"
)

// breakerState is the circuit breaker state.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// errBreakerOpen is returned by Allow while the circuit rejects calls.
var errBreakerOpen = fmt.Errorf("circuit breaker is open")

// breaker shields one backend service from sustained failures. Closed
// counts consecutive failures and trips to open; open rejects until the
// cooldown elapses, then half-open lets probes through and closes again
// after enough consecutive successes.
type breaker struct {
	mu               sync.Mutex
	state            breakerState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	openedAt         time.Time
}

func newBreaker(failureThreshold, successThreshold int, cooldown time.Duration) *breaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if successThreshold < 1 {
		successThreshold = 2
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &breaker{
		state:            breakerClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
	}
}

// Allow reports whether a call may proceed.
func (b *breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerOpen {
		if time.Since(b.openedAt) <= b.cooldown {
			return errBreakerOpen
		}
		b.state = breakerHalfOpen
		b.successes = 0
	}
	return nil
}

// RecordSuccess feeds back a successful call.
func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		b.failures = 0
	case breakerHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.state = breakerClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

// RecordFailure feeds back a failed call.
func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.state = breakerOpen
			b.openedAt = time.Now()
		}
	case breakerHalfOpen:
		// A failed probe reopens immediately.
		b.state = breakerOpen
		b.openedAt = time.Now()
		b.successes = 0
	}
}

// State returns the current state, advancing open to half-open when the
// cooldown has elapsed.
func (b *breaker) State() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerOpen && time.Since(b.openedAt) > b.cooldown {
		b.state = breakerHalfOpen
		b.successes = 0
	}
	return b.state
}
