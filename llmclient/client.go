// Package llmclient is the LLM Client and Circuit Breaker of spec.md §4.3:
// a bounded-latency remote prompt-to-completion call, retried up to
// max_attempts on transient failures with 1s/2s/4s backoff, wrapped in a
// three-state breaker that fast-fails while OPEN so a provider outage
// cannot turn into unbounded cost and latency.
package llmclient

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"encore.app/internal/gwerrors"
)

// Request is the caller-supplied completion request.
type Request struct {
	Prompt          string
	Model           string
	Temperature     float64
	MaxOutputTokens int
}

// Response is what the remote producer returns on success.
type Response struct {
	CompletionText   string
	InputTokenCount  int
	OutputTokenCount int
	CostUnits        float64
}

// Producer is the remote LLM completion endpoint, out of scope for this
// module per spec.md §1. StatusCode is 0 for a transport-level failure
// (connection error, timeout) and the HTTP-equivalent status otherwise, so
// the client can distinguish retryable transients from 401/403.
type Producer interface {
	Complete(ctx context.Context, req Request) (Response, statusCode int, err error)
}

// Client wraps a Producer with retry and a circuit breaker.
type Client struct {
	producer Producer
	breaker  *breaker

	maxAttempts      int
	attemptTimeout   time.Duration
	inputUnitCost    float64
	outputUnitCost   float64

	probe singleflight.Group

	onBreakerTransition func(State)
	onCost               func(units float64)
}

// Option configures optional Client behavior.
type Option func(*Client)

// WithBreakerObserver registers a callback invoked with the breaker's state
// after each producer call outcome and each fast-fail while OPEN, so a
// metrics recorder can set the breaker_state gauge.
func WithBreakerObserver(fn func(State)) Option {
	return func(c *Client) { c.onBreakerTransition = fn }
}

// WithCostObserver registers a callback invoked with the cost of each
// successful call, so a metrics recorder can add to the cumulative cost
// counter.
func WithCostObserver(fn func(units float64)) Option {
	return func(c *Client) { c.onCost = fn }
}

// New builds a Client.
func New(producer Producer, maxAttempts int, attemptTimeout time.Duration, failureThreshold int, cooldown time.Duration, inputUnitCost, outputUnitCost float64, opts ...Option) *Client {
	c := &Client{
		producer:       producer,
		breaker:        newBreaker(failureThreshold, cooldown),
		maxAttempts:    maxAttempts,
		attemptTimeout: attemptTimeout,
		inputUnitCost:  inputUnitCost,
		outputUnitCost: outputUnitCost,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the breaker's current state, for metrics scraping.
func (c *Client) State() State {
	return c.breaker.currentState()
}

var backoffSchedule = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// Complete invokes the LLM producer, applying the breaker and retry policy.
// While the breaker is OPEN, it fails immediately with KindLLMUnavailable
// and never touches the producer. While HALF_OPEN, concurrent identical
// requests are coalesced via singleflight so a duplicate probe reaches the
// producer once and every duplicate caller observes its outcome.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	if !c.breaker.allow() {
		c.notifyBreakerState()
		return Response{}, gwerrors.New(gwerrors.KindLLMUnavailable, "llm circuit breaker open")
	}

	if c.breaker.currentState() == StateHalfOpen {
		probeKey := fmt.Sprintf("%s\x00%s\x00%g\x00%d", req.Model, req.Prompt, req.Temperature, req.MaxOutputTokens)
		v, err, _ := c.probe.Do(probeKey, func() (interface{}, error) {
			return c.attemptWithRetry(ctx, req)
		})
		if err != nil {
			return Response{}, err
		}
		return v.(Response), nil
	}

	return c.attemptWithRetry(ctx, req)
}

func (c *Client) attemptWithRetry(ctx context.Context, req Request) (Response, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffSchedule[minInt(attempt-1, len(backoffSchedule)-1)]):
			case <-ctx.Done():
				return Response{}, ctx.Err()
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
		resp, status, err := c.producer.Complete(attemptCtx, req)
		cancel()

		if err == nil {
			resp.CostUnits = float64(resp.InputTokenCount)*c.inputUnitCost + float64(resp.OutputTokenCount)*c.outputUnitCost
			c.breaker.recordSuccess()
			c.notifyBreakerState()
			if c.onCost != nil {
				c.onCost(resp.CostUnits)
			}
			return resp, nil
		}

		if status == 401 || status == 403 {
			// No retry, no breaker failure: this is a configuration
			// problem, not provider instability.
			return Response{}, gwerrors.Wrap(gwerrors.KindAuthConfigError, "llm producer rejected credentials", err)
		}

		lastErr = err
		c.breaker.recordFailure(time.Now())
		c.notifyBreakerState()

		if c.breaker.currentState() == StateOpen {
			break
		}
	}

	return Response{}, gwerrors.Wrap(gwerrors.KindLLMUnavailable, "llm call failed after retries", lastErr)
}

func (c *Client) notifyBreakerState() {
	if c.onBreakerTransition != nil {
		c.onBreakerTransition(c.breaker.currentState())
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
