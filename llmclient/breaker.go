package llmclient

import (
	"sync"
	"time"
)

// State is one of the three circuit-breaker states of spec.md §4.3.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// breaker is the three-state circuit breaker wrapping the LLM Client. All
// state is in-process only (spec.md §4.3: "the design does not require
// cluster-wide breaker state") and guarded by a single mutex, since the
// state machine's transitions must be observed and updated as one atomic
// step, not a pair of racing atomic fields.
type breaker struct {
	mu sync.Mutex

	state               State
	consecutiveFailures int
	lastFailure         time.Time
	lastFailureSet      bool

	failureThreshold int
	cooldown         time.Duration
}

func newBreaker(failureThreshold int, cooldown time.Duration) *breaker {
	return &breaker{failureThreshold: failureThreshold, cooldown: cooldown}
}

// allow reports whether a call may proceed, first advancing OPEN to
// HALF_OPEN if the cooldown has elapsed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if !b.lastFailureSet {
			// Defensive: never compute now - unset. Stay OPEN until a
			// failure has actually been recorded.
			return false
		}
		if time.Since(b.lastFailure) >= b.cooldown {
			b.state = StateHalfOpen
		} else {
			return false
		}
	}
	return true
}

// recordSuccess transitions CLOSED->CLOSED or HALF_OPEN->CLOSED and resets
// the failure count.
func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveFailures = 0
}

// recordFailure advances the consecutive failure count and opens the
// breaker when the threshold is reached, or immediately from HALF_OPEN.
func (b *breaker) recordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.lastFailure = now
	b.lastFailureSet = true

	if b.state == StateHalfOpen {
		b.state = StateOpen
		return
	}
	if b.consecutiveFailures >= b.failureThreshold {
		b.state = StateOpen
	}
}

func (b *breaker) currentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
