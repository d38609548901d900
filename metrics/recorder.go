// Package metrics implements the Metrics Recorder of spec.md §4.8: the
// seven series every other component feeds, backed by real
// github.com/prometheus/client_golang instruments so the gateway exposes a
// standard scrape endpoint rather than a hand-rolled counter dump.
package metrics

import (
	"bytes"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"encore.app/llmclient"
)

// durationBuckets spans cache hits (single-digit ms) to LLM calls
// (seconds), per spec.md §4.8.
var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

// HitType labels a cache outcome for the cache_outcomes_total counter.
type HitType string

const (
	HitExact    HitType = "exact"
	HitSemantic HitType = "semantic"
	HitMiss     HitType = "miss"
)

// Direction labels the llm_tokens_total counter.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Recorder owns the seven series of spec.md §4.8 and is safe for
// concurrent use, as every prometheus instrument already is.
type Recorder struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	cacheOutcomes    *prometheus.CounterVec
	llmTokensTotal   *prometheus.CounterVec
	llmCostTotal     prometheus.Counter
	inFlightRequests prometheus.Gauge
	breakerState     prometheus.Gauge

	registry *prometheus.Registry
}

// New builds a Recorder and registers its instruments on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Total gateway requests by endpoint and outcome status.",
		}, []string{"endpoint", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "End-to-end request latency from admission to response.",
			Buckets: durationBuckets,
		}, []string{"endpoint"}),
		cacheOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_outcomes_total",
			Help: "Cache lookup outcomes by type: exact, semantic, or miss.",
		}, []string{"type"}),
		llmTokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens consumed by direction.",
		}, []string{"direction"}),
		llmCostTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "llm_cost_total",
			Help: "Cumulative LLM cost in currency units.",
		}),
		inFlightRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "in_flight_requests",
			Help: "Requests currently admitted and not yet complete.",
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "breaker_state",
			Help: "LLM circuit breaker state: 0=CLOSED, 1=HALF_OPEN, 2=OPEN.",
		}),
	}

	reg.MustRegister(
		r.requestsTotal,
		r.requestDuration,
		r.cacheOutcomes,
		r.llmTokensTotal,
		r.llmCostTotal,
		r.inFlightRequests,
		r.breakerState,
	)
	return r
}

// Registry exposes the underlying prometheus.Registry for a scrape handler
// to serve (wiring the HTTP transport itself is out of scope, spec.md §1).
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// RenderText gathers every registered series and renders them in the
// Prometheus text exposition format for the metrics_scrape endpoint
// (spec.md §6).
func (r *Recorder) RenderText() (string, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// RecordRequest increments requests_total and observes request_duration_seconds
// for a finished request.
func (r *Recorder) RecordRequest(endpoint, status string, duration time.Duration) {
	r.requestsTotal.WithLabelValues(endpoint, status).Inc()
	r.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordCacheOutcome increments cache_outcomes_total for the given hit type.
func (r *Recorder) RecordCacheOutcome(hit HitType) {
	r.cacheOutcomes.WithLabelValues(string(hit)).Inc()
}

// RecordTokens adds to llm_tokens_total for both directions of one call.
func (r *Recorder) RecordTokens(inputTokens, outputTokens int) {
	r.llmTokensTotal.WithLabelValues(string(DirectionInput)).Add(float64(inputTokens))
	r.llmTokensTotal.WithLabelValues(string(DirectionOutput)).Add(float64(outputTokens))
}

// RecordCost adds to the cumulative llm_cost_total counter.
func (r *Recorder) RecordCost(units float64) {
	r.llmCostTotal.Add(units)
}

// SetInFlight sets the in_flight_requests gauge to the given count.
func (r *Recorder) SetInFlight(count int64) {
	r.inFlightRequests.Set(float64(count))
}

// SetBreakerState sets the breaker_state gauge from the llmclient breaker's
// State value.
func (r *Recorder) SetBreakerState(s llmclient.State) {
	var v float64
	switch s {
	case llmclient.StateHalfOpen:
		v = 1
	case llmclient.StateOpen:
		v = 2
	default:
		v = 0
	}
	r.breakerState.Set(v)
}
