// Package ratelimit implements the token-bucket Rate Limiter of spec.md
// §4.2, one bucket per credential, refilled lazily and persisted in the
// KV store so the limit holds across replicas. The atomic refill-and-
// consume step runs inside kvstore's scripted AtomicIncrScript so
// concurrent callers for the same credential never race (spec.md §4.2
// step 5).
//
// When the KV store cannot be reached, the limiter degrades to an
// in-process golang.org/x/time/rate bucket per credential rather than
// failing every request open or closed; this is logged as a degraded
// decision, never silently substituted (spec.md §7 propagation policy).
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"encore.app/internal/gwerrors"
	"encore.app/kvstore"
)

// Decision is the outcome of CheckAndConsume.
type Decision struct {
	Allowed    bool
	Limit      int64 // the configured rate_limit_capacity, carried on every decision
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
	Degraded   bool // true if the KV store was unreachable and the in-process fallback decided
}

// Limiter enforces a token bucket per credential.
type Limiter struct {
	kv              kvstore.Client
	keyPrefix       string
	capacity        int64
	refillPerSecond float64
	windowSeconds   int64

	fallbackMu sync.Mutex
	fallback   map[string]*rate.Limiter

	onDegraded func(credential string, err error)
}

// New builds a Limiter. onDegraded, if non-nil, is invoked (e.g. to log)
// whenever a decision is made via the in-process fallback instead of the
// KV store.
func New(kv kvstore.Client, keyPrefix string, capacity int64, refillPerSecond float64, windowSeconds int64, onDegraded func(credential string, err error)) *Limiter {
	return &Limiter{
		kv:              kv,
		keyPrefix:       keyPrefix,
		capacity:        capacity,
		refillPerSecond: refillPerSecond,
		windowSeconds:   windowSeconds,
		fallback:        make(map[string]*rate.Limiter),
		onDegraded:      onDegraded,
	}
}

// CheckAndConsume implements spec.md §4.2's check_and_consume operation.
func (l *Limiter) CheckAndConsume(ctx context.Context, credential string) (Decision, error) {
	if l.capacity <= 0 {
		return Decision{Allowed: false, Limit: l.capacity, Remaining: 0, ResetAt: time.Now(), RetryAfter: time.Second}, nil
	}

	key := fmt.Sprintf("%s:%s", l.keyPrefix, credential)
	ttl := time.Duration(l.windowSeconds) * 2 * time.Second

	after, refilled, err := l.kv.AtomicIncrScript(ctx, key, l.capacity, l.refillPerSecond, 1, ttl)
	if err != nil {
		if l.onDegraded != nil {
			l.onDegraded(credential, err)
		}
		return l.fallbackDecision(credential), nil
	}

	if after >= 0 {
		return Decision{
			Allowed:   true,
			Limit:     l.capacity,
			Remaining: int64(math.Floor(after)),
			ResetAt:   time.Now().Add(time.Duration(l.windowSeconds) * time.Second),
		}, nil
	}

	// Denied: the script left the bucket at `refilled` tokens (< 1,
	// uncharged). retry_after = (1 - refill) / refill_per_second, per
	// spec.md §4.2 step 4.
	retryAfter := time.Duration((1 - refilled) / l.refillPerSecond * float64(time.Second))
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{
		Allowed:    false,
		Limit:      l.capacity,
		Remaining:  0,
		ResetAt:    time.Now().Add(time.Duration(l.windowSeconds) * time.Second),
		RetryAfter: retryAfter,
	}, nil
}

// fallbackDecision consults (or creates) a per-credential in-process
// rate.Limiter, used only while the KV store is unreachable.
func (l *Limiter) fallbackDecision(credential string) Decision {
	l.fallbackMu.Lock()
	rl, ok := l.fallback[credential]
	if !ok {
		rl = rate.NewLimiter(rate.Limit(l.refillPerSecond), int(l.capacity))
		l.fallback[credential] = rl
	}
	l.fallbackMu.Unlock()

	reservation := rl.Reserve()
	if !reservation.OK() {
		return Decision{Allowed: false, Limit: l.capacity, Degraded: true, ResetAt: time.Now()}
	}
	delay := reservation.Delay()
	if delay > 0 {
		reservation.Cancel()
		return Decision{Allowed: false, Limit: l.capacity, Degraded: true, RetryAfter: delay, ResetAt: time.Now().Add(delay)}
	}
	return Decision{Allowed: true, Limit: l.capacity, Degraded: true, ResetAt: time.Now()}
}

// ErrFromDecision builds the gwerrors.Error a denied Decision should
// surface to the caller.
func ErrFromDecision(d Decision) error {
	if d.Allowed {
		return nil
	}
	return gwerrors.New(gwerrors.KindRateLimited, "rate limit exceeded")
}
