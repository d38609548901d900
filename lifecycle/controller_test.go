package lifecycle

import (
	"context"
	"testing"
	"time"

	"encore.app/internal/gwerrors"
	"encore.app/kvstore"
)

func TestProbeStartupSucceedsImmediately(t *testing.T) {
	kv := kvstore.NewFake()
	if err := ProbeStartup(context.Background(), kv); err != nil {
		t.Fatalf("ProbeStartup: %v", err)
	}
}

func TestProbeStartupFailsAfterRetriesExhausted(t *testing.T) {
	startupBackoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	defer func() { startupBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} }()

	kv := kvstore.NewFake()
	kv.Unreachable = true

	err := ProbeStartup(context.Background(), kv)
	if !gwerrors.Is(err, gwerrors.KindDependencyUnavailable) {
		t.Fatalf("err = %v, want KindDependencyUnavailable", err)
	}
}

func TestAdmitRejectsAfterShutdown(t *testing.T) {
	c := New(time.Second)

	release, err := c.Admit()
	if err != nil {
		t.Fatalf("Admit before shutdown: %v", err)
	}
	release()

	c.BeginShutdown(context.Background())

	if _, err := c.Admit(); !gwerrors.Is(err, gwerrors.KindShuttingDown) {
		t.Fatalf("Admit after shutdown: err = %v, want KindShuttingDown", err)
	}
}

func TestReleaseIsIdempotentAndSingleDecrement(t *testing.T) {
	c := New(time.Second)

	release, err := c.Admit()
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if c.InFlight() != 1 {
		t.Fatalf("InFlight() = %d, want 1", c.InFlight())
	}

	release()
	release()
	release()

	if c.InFlight() != 0 {
		t.Fatalf("InFlight() = %d, want 0 after repeated release calls", c.InFlight())
	}
}

func TestBeginShutdownWaitsForDrain(t *testing.T) {
	c := New(2 * time.Second)

	release, err := c.Admit()
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	done := make(chan struct{})
	go func() {
		c.BeginShutdown(context.Background())
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case <-done:
		t.Fatalf("BeginShutdown returned before in-flight request released")
	default:
	}

	release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("BeginShutdown did not return after drain completed")
	}
}

func TestBeginShutdownRespectsDeadline(t *testing.T) {
	c := New(50 * time.Millisecond)

	release, err := c.Admit()
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	defer release()

	start := time.Now()
	c.BeginShutdown(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("BeginShutdown took %v, want to return near the 50ms deadline", elapsed)
	}
}
