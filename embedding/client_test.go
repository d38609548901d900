package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"encore.app/internal/gwerrors"
)

type fakeProducer struct {
	calls   int32
	delay   time.Duration
	vec     Vector
	err     error
	onEmbed func()
}

func (f *fakeProducer) Embed(ctx context.Context, text string) (Vector, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.onEmbed != nil {
		f.onEmbed()
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func TestEmbedSuccess(t *testing.T) {
	p := &fakeProducer{vec: Vector{1, 2, 3}}
	c := New(p, 3, time.Second)

	v, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(v) != 3 {
		t.Fatalf("len(v) = %d, want 3", len(v))
	}
}

func TestEmbedDimensionMismatchIsConfigError(t *testing.T) {
	p := &fakeProducer{vec: Vector{1, 2}}
	c := New(p, 3, time.Second)

	_, err := c.Embed(context.Background(), "hello")
	if !gwerrors.Is(err, gwerrors.KindConfigError) {
		t.Fatalf("err = %v, want KindConfigError", err)
	}
}

func TestEmbedProducerFailureDegradesWithDependencyUnavailable(t *testing.T) {
	p := &fakeProducer{err: errors.New("boom")}
	c := New(p, 3, time.Second)

	_, err := c.Embed(context.Background(), "hello")
	if !gwerrors.Is(err, gwerrors.KindDependencyUnavailable) {
		t.Fatalf("err = %v, want KindDependencyUnavailable", err)
	}
}

func TestEmbedTimesOutWithoutRetry(t *testing.T) {
	p := &fakeProducer{vec: Vector{1}, delay: 50 * time.Millisecond}
	c := New(p, 1, 5*time.Millisecond)

	_, err := c.Embed(context.Background(), "slow")
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if atomic.LoadInt32(&p.calls) != 1 {
		t.Fatalf("calls = %d, want exactly 1 (no retry)", p.calls)
	}
}

func TestEmbedCoalescesDuplicateConcurrentCalls(t *testing.T) {
	var wgStart sync.WaitGroup
	release := make(chan struct{})
	p := &fakeProducer{
		vec: Vector{9, 9},
		onEmbed: func() {
			wgStart.Done()
			<-release
		},
	}
	c := New(p, 2, time.Second)

	const n = 5
	wgStart.Add(1)
	var wg sync.WaitGroup
	results := make([]Vector, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Embed(context.Background(), "same prompt")
			results[i] = v
			errs[i] = err
		}(i)
	}

	wgStart.Wait()
	close(release)
	wg.Wait()

	if atomic.LoadInt32(&p.calls) != 1 {
		t.Fatalf("producer calls = %d, want 1 (coalesced)", p.calls)
	}
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("call %d: err = %v", i, errs[i])
		}
		if len(results[i]) != 2 {
			t.Fatalf("call %d: len(result) = %d, want 2", i, len(results[i]))
		}
	}
}
