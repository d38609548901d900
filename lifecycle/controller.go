// Package lifecycle implements the Lifecycle Controller of spec.md §4.6:
// a startup KV probe with exponential backoff, and an admission/drain
// discipline for in-flight requests so a shutdown signal neither loses
// in-progress work nor lets a late-arriving request slip past the flag
// check.
package lifecycle

import (
	"context"
	"sync/atomic"
	"time"

	"encore.dev/rlog"

	"encore.app/internal/gwerrors"
	"encore.app/kvstore"
)

// startupBackoff is the wait before each startup probe retry: 1s, 2s, 4s.
// ProbeStartup makes one initial ping plus one retry per entry.
var startupBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// Controller tracks in-flight requests and the shutdown flag. inFlight and
// shuttingDown are both accessed only through atomics so the order required
// by spec.md §4.6 -- check the flag, then increment -- never races a
// concurrent shutdown.
type Controller struct {
	inFlight      atomic.Int64
	shuttingDown  atomic.Bool
	drainDeadline time.Duration
}

// New builds a Controller. drainDeadline is the hard shutdown deadline
// (default 10s per spec.md §6).
func New(drainDeadline time.Duration) *Controller {
	return &Controller{drainDeadline: drainDeadline}
}

// ProbeStartup pings kv with the spec's exponential-backoff schedule. A
// still-unreachable store after all attempts is a fatal startup error; the
// caller is expected to exit the process rather than serve in a broken
// state (Embedding and LLM producers are deliberately not probed here --
// they are tolerated as per-request failures, spec.md §4.6).
func ProbeStartup(ctx context.Context, kv kvstore.Client) error {
	var lastErr error
	for attempt := 0; attempt <= len(startupBackoff); attempt++ {
		if attempt > 0 {
			wait := startupBackoff[attempt-1]
			rlog.Warn("kv store unreachable at startup, retrying", "attempt", attempt, "wait", wait, "error", lastErr)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := kv.Ping(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return gwerrors.Wrap(gwerrors.KindDependencyUnavailable, "kv store unreachable after startup retries", lastErr)
}

// Release is returned by Admit and must be called exactly once, on every
// exit path (success or failure), to decrement the in-flight counter. This
// is the single cleanup-path discipline spec.md §4.6 calls out: no other
// code decrements inFlight.
type Release func()

// Admit checks the shutdown flag and, if the controller is still accepting
// work, increments the in-flight counter and returns the matching Release.
// The flag check happens strictly before the increment so a shutdown
// signal arriving between the two never lets a request slip through
// uncounted.
func (c *Controller) Admit() (Release, error) {
	if c.shuttingDown.Load() {
		return nil, gwerrors.New(gwerrors.KindShuttingDown, "gateway is shutting down")
	}
	c.inFlight.Add(1)
	released := false
	return func() {
		if released {
			return
		}
		released = true
		c.inFlight.Add(-1)
	}, nil
}

// InFlight returns the current in-flight request count.
func (c *Controller) InFlight() int64 {
	return c.inFlight.Load()
}

// BeginShutdown sets the shutdown flag, then polls the in-flight counter
// down to zero at <=100ms intervals, bounded by the configured drain
// deadline. It returns once the counter reaches zero or the deadline
// elapses, whichever comes first; callers should close remote clients and
// exit immediately afterward regardless of which happened.
func (c *Controller) BeginShutdown(ctx context.Context) {
	c.shuttingDown.Store(true)

	deadline := time.Now().Add(c.drainDeadline)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.inFlight.Load() == 0 {
			rlog.Info("drain complete, no in-flight requests remain")
			return
		}
		if time.Now().After(deadline) {
			rlog.Warn("shutdown drain deadline exceeded", "remaining_in_flight", c.inFlight.Load())
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// ShuttingDown reports whether the shutdown flag has been set.
func (c *Controller) ShuttingDown() bool {
	return c.shuttingDown.Load()
}
