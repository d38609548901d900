package pubsub

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event versioning strategy:
// - Version 1: Initial schema
// - Future versions: Add fields, never remove (backward compatible)
// - Consumers should check Version and handle appropriately

const (
	// EventVersion1 is the current event schema version
	EventVersion1 = 1
)

// QueryCompletedEvent represents the outcome of one finished query pipeline
// run. This event is published to TopicQueryCompleted and consumed
// asynchronously by the gateway's metrics subscription, so the synchronous request path
// never blocks on metrics bookkeeping.
//
// Design notes:
//   - HitType is "exact", "semantic", or "" (a miss that went to the LLM)
//   - CostUnits and token counts are zero for cache hits
//   - RequestID enables distributed tracing
type QueryCompletedEvent struct {
	// Version of the event schema (for backward compatibility)
	Version int `json:"version"`

	// Service that published the event (always "gateway" today, but kept
	// explicit so the schema does not silently assume a single publisher)
	Service string `json:"service"`

	// CacheHit is true if the response came from the cache (exact or
	// semantic) rather than a fresh LLM call.
	CacheHit bool `json:"cache_hit"`

	// HitType is "exact" or "semantic" when CacheHit is true, empty otherwise.
	HitType string `json:"hit_type,omitempty"`

	// Status is the outcome status label used for requests_total (e.g.
	// "success", "rate_limited", "service_unavailable", "internal_error").
	Status string `json:"status"`

	// Endpoint identifies which API endpoint produced this event.
	Endpoint string `json:"endpoint"`

	// Duration is the end-to-end pipeline latency.
	Duration time.Duration `json:"duration"`

	// InputTokens and OutputTokens are nonzero only for a fresh LLM call.
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	// CostUnits is the LLM cost charged for a fresh call, zero for hits.
	CostUnits float64 `json:"cost_units"`

	// BreakerState is the LLM client's breaker state observed right after a
	// fresh LLM call, 0=CLOSED, 1=HALF_OPEN, 2=OPEN. Events for cache hits
	// and failed requests carry 0.
	BreakerState int `json:"breaker_state"`

	// CompletedAt is the time the pipeline run finished.
	CompletedAt time.Time `json:"completed_at"`

	// RequestID for distributed tracing and correlation.
	RequestID string `json:"request_id"`
}

// Validate checks if the QueryCompletedEvent is well-formed.
func (e *QueryCompletedEvent) Validate() error {
	if e.Version != EventVersion1 {
		return fmt.Errorf("unsupported event version: %d", e.Version)
	}

	if e.Service == "" {
		return errors.New("service field is required")
	}

	if e.Status == "" {
		return errors.New("status is required")
	}

	if e.Duration < 0 {
		return errors.New("duration cannot be negative")
	}

	if e.InputTokens < 0 || e.OutputTokens < 0 {
		return errors.New("input_tokens and output_tokens cannot be negative")
	}

	if e.CompletedAt.IsZero() {
		return errors.New("completed_at cannot be zero")
	}

	if e.RequestID == "" {
		return errors.New("request_id is required for tracing")
	}

	return nil
}

// ToJSON serializes the event to JSON.
func (e *QueryCompletedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// QueryCompletedEventFromJSON deserializes a QueryCompletedEvent from JSON.
func QueryCompletedEventFromJSON(data []byte) (*QueryCompletedEvent, error) {
	var e QueryCompletedEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal QueryCompletedEvent: %w", err)
	}
	return &e, nil
}
