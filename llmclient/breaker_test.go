package llmclient

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := newBreaker(3, time.Minute)
	for i := 0; i < 2; i++ {
		if !b.allow() {
			t.Fatalf("call %d: allow() = false, want true before threshold", i)
		}
		b.recordFailure(time.Now())
	}
	if b.currentState() != StateClosed {
		t.Fatalf("state = %v, want CLOSED below threshold", b.currentState())
	}

	b.recordFailure(time.Now())
	if b.currentState() != StateOpen {
		t.Fatalf("state = %v, want OPEN at threshold", b.currentState())
	}
	if b.allow() {
		t.Fatalf("allow() = true while OPEN and cooldown not elapsed")
	}
}

func TestBreakerStaysOpenWithUnsetTimestamp(t *testing.T) {
	b := newBreaker(1, time.Minute)
	b.mu.Lock()
	b.state = StateOpen
	b.mu.Unlock()

	if b.allow() {
		t.Fatalf("allow() = true with unset last-failure timestamp, want false (defensive OPEN)")
	}
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	b := newBreaker(1, 10*time.Millisecond)
	b.recordFailure(time.Now())
	if b.currentState() != StateOpen {
		t.Fatalf("state = %v, want OPEN", b.currentState())
	}

	time.Sleep(20 * time.Millisecond)
	if !b.allow() {
		t.Fatalf("allow() = false after cooldown elapsed, want true (HALF_OPEN)")
	}
	if b.currentState() != StateHalfOpen {
		t.Fatalf("state = %v, want HALF_OPEN", b.currentState())
	}
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	b := newBreaker(1, 10*time.Millisecond)
	b.recordFailure(time.Now())
	time.Sleep(20 * time.Millisecond)
	b.allow()

	b.recordSuccess()
	if b.currentState() != StateClosed {
		t.Fatalf("state = %v, want CLOSED after HALF_OPEN success", b.currentState())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := newBreaker(1, 10*time.Millisecond)
	b.recordFailure(time.Now())
	time.Sleep(20 * time.Millisecond)
	b.allow()

	b.recordFailure(time.Now())
	if b.currentState() != StateOpen {
		t.Fatalf("state = %v, want OPEN after HALF_OPEN failure", b.currentState())
	}
}
