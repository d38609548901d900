package gateway

import "time"

// SubmitQueryRequest is the inbound submit_query shape of spec.md §6.
// Credential carries the opaque bearer token the Authenticator checks;
// Encore binds header-tagged fields directly from the request header
// rather than the JSON body.
type SubmitQueryRequest struct {
	Credential string `header:"X-Gateway-Credential"`

	Prompt               string   `json:"prompt"`
	Model                string   `json:"model,omitempty"`
	Temperature          *float64 `json:"temperature,omitempty"`
	MaxOutputTokens      *int     `json:"max_output_tokens,omitempty"`
	SimilarityThreshold  *float64 `json:"similarity_threshold,omitempty"`
}

// SubmitQueryResponse is the inbound query_result shape of spec.md §6, plus
// the rate-limit headers every response carries.
type SubmitQueryResponse struct {
	Response        string   `json:"response"`
	CacheHit        bool     `json:"cache_hit"`
	HitType         *string  `json:"hit_type,omitempty"`
	SimilarityScore *float64 `json:"similarity_score,omitempty"`
	MatchedPrompt   *string  `json:"matched_prompt,omitempty"`
	TokensUsed      int      `json:"tokens_used"`
	Cost            float64  `json:"cost"`
	LatencyMs       float64  `json:"latency_ms"`

	Limit      int64     `header:"X-RateLimit-Limit"`
	Remaining  int64     `header:"X-RateLimit-Remaining"`
	ResetAt    time.Time `header:"X-RateLimit-Reset"`
	RetryAfter int64     `header:"Retry-After,omitempty"`
}

// HealthRequest has no auth and no body; the endpoint only probes KV liveness.
type HealthRequest struct{}

// HealthResponse reports liveness per spec.md §6.
type HealthResponse struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// MetricsScrapeRequest carries only the caller's credential. Any recognized
// credential, user or admin, may scrape; the endpoint is not admin-gated.
type MetricsScrapeRequest struct {
	Credential string `header:"X-Gateway-Credential"`
}

// MetricsScrapeResponse carries the Prometheus text exposition format
// verbatim; the HTTP transport layer (out of scope) is responsible for
// setting the scrape content type.
type MetricsScrapeResponse struct {
	Body string `json:"-"`
}

// InternalMetricsSummaryRequest requires an admin credential.
type InternalMetricsSummaryRequest struct {
	Credential string `header:"X-Gateway-Credential"`
}

// InternalMetricsSummaryResponse reports the Cache's aggregate counters for
// operator inspection, per spec.md §6.
type InternalMetricsSummaryResponse struct {
	ExactHits          int64 `json:"exact_hits"`
	SemanticHits       int64 `json:"semantic_hits"`
	Misses             int64 `json:"misses"`
	StoredItemEstimate int64 `json:"stored_item_estimate"`
	InFlightRequests   int64 `json:"in_flight_requests"`
	BreakerState       int   `json:"breaker_state"`
}
