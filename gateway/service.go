// Package gateway wires the semantic caching gateway's components
// together and exposes the public API surface of spec.md §6. Following
// the teacher's convention (cachemanager.Service, warming.Service), a
// single package-level Service is built once by initService and every
// //encore:api function delegates to it.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"encore.dev/pubsub"
	"encore.dev/rlog"
	"github.com/google/uuid"

	"encore.app/auth"
	"encore.app/cache"
	"encore.app/config"
	"encore.app/embedding"
	gwpubsub "encore.app/pkg/pubsub"
	"encore.app/internal/gwerrors"
	"encore.app/kvstore"
	"encore.app/lifecycle"
	"encore.app/llmclient"
	"encore.app/metrics"
	"encore.app/ratelimit"
)

// Service holds every wired dependency the orchestrator needs.
//
//encore:service
type Service struct {
	cfg config.Config

	authenticator   *auth.Authenticator
	limiter         *ratelimit.Limiter
	kv              kvstore.Client
	embeddingClient *embedding.Client
	llmClient       *llmclient.Client
	cache           *cache.Cache
	lifecycle       *lifecycle.Controller
	recorder        *metrics.Recorder
}

// mustValidTopic panics if name is not one of gwpubsub's recognized
// topics, so a typo in the topic constant fails at startup rather than
// silently creating an unrecognized Encore pubsub topic.
func mustValidTopic(name string) string {
	if !gwpubsub.IsValidTopic(name) {
		panic("gateway: unrecognized pubsub topic " + name)
	}
	return name
}

// QueryCompletedTopic carries one event per finished pipeline run. The
// gateway publishes; the gateway's own subscription (subscriptions.go)
// updates the metrics.Recorder counters asynchronously so the request path
// never blocks on telemetry (adapted
// from the cache-manager/invalidation publisher-subscriber pair).
var QueryCompletedTopic = pubsub.NewTopic[*gwpubsub.QueryCompletedEvent](
	mustValidTopic(gwpubsub.TopicQueryCompleted),
	pubsub.TopicConfig{
		DeliveryGuarantee: pubsub.AtLeastOnce,
	},
)

var (
	svc  *Service
	once sync.Once
)

// initService builds the Service from secrets and default configuration.
// Called automatically by Encore at startup.
func initService() (*Service, error) {
	var err error
	once.Do(func() {
		cfg := config.DefaultConfig()

		secrets := loadSecrets()
		cfg.CredentialHeaderName = "X-Gateway-Credential"
		cfg.AdminCredentials = secrets.AdminCredentials
		cfg.UserCredentials = secrets.UserCredentials
		cfg.KVEndpoint = secrets.KVEndpoint
		cfg.EmbeddingEndpoint = secrets.EmbeddingEndpoint
		cfg.LLMEndpoint = secrets.LLMEndpoint

		kv, kvErr := kvstore.Dial(cfg.KVEndpoint, kvstore.WithKeyPrefix(cfg.KVKeyPrefix))
		if kvErr != nil {
			err = kvErr
			return
		}

		if probeErr := lifecycle.ProbeStartup(context.Background(), kv); probeErr != nil {
			err = probeErr
			return
		}

		recorder := metrics.New()
		lifecycleCtl := lifecycle.New(cfg.ShutdownDrain())

		httpClient := &http.Client{}

		svc = &Service{
			cfg:           cfg,
			authenticator: auth.New(cfg.CredentialHeaderName, cfg.AdminCredentials, cfg.UserCredentials),
			limiter: ratelimit.New(kv, cfg.RateLimitPrefix, cfg.RateLimitCapacity, cfg.RateLimitRefillPerSecond, cfg.RateLimitWindowSeconds, func(credential string, degradeErr error) {
				rlog.Error("rate limiter degraded to in-process fallback", "credential", credential, "error", degradeErr)
			}),
			kv: kv,
			embeddingClient: embedding.New(
				newHTTPEmbeddingProducer(cfg.EmbeddingEndpoint, httpClient),
				cfg.EmbeddingDim,
				cfg.EmbeddingTimeout(),
			),
			llmClient: llmclient.New(
				newHTTPLLMProducer(cfg.LLMEndpoint, httpClient),
				cfg.LLMMaxAttempts,
				cfg.LLMTimeout(),
				cfg.BreakerFailureThreshold,
				cfg.BreakerCooldown(),
				cfg.LLMInputUnitCost,
				cfg.LLMOutputUnitCost,
				llmclient.WithBreakerObserver(recorder.SetBreakerState),
				llmclient.WithCostObserver(recorder.RecordCost),
			),
			cache:     cache.New(kv, cfg.KVKeyPrefix, cfg.LockPrefix),
			lifecycle: lifecycleCtl,
			recorder:  recorder,
		}
	})
	return svc, err
}

func init() {
	var err error
	svc, err = initService()
	if err != nil {
		rlog.Error("gateway service failed to initialize", "error", err)
	}
}

// Shutdown is called automatically by Encore on termination. It stops
// admitting new requests and drains in-flight ones per spec.md §4.6, the
// same BeginShutdown discipline lifecycle.Controller already implements in
// isolation (see lifecycle/controller_test.go), now actually reached by
// the running service.
func (s *Service) Shutdown(force context.Context) {
	s.lifecycle.BeginShutdown(force)
}

// SubmitQuery is the gateway's sole request-processing endpoint.
//
//encore:api public method=POST path=/v1/queries
func SubmitQuery(ctx context.Context, req *SubmitQueryRequest) (*SubmitQueryResponse, error) {
	if svc == nil {
		return nil, gwerrors.ToAPIError(gwerrors.New(gwerrors.KindInternal, "service not initialized"))
	}
	resp, err := svc.SubmitQuery(ctx, req)
	return resp, gwerrors.ToAPIError(err)
}

// Health reports liveness; no auth required.
//
//encore:api public method=GET path=/v1/health
func Health(ctx context.Context, _ *HealthRequest) (*HealthResponse, error) {
	if svc == nil {
		return &HealthResponse{Healthy: false, Detail: "service not initialized"}, nil
	}
	if err := svc.kv.Ping(ctx); err != nil {
		return &HealthResponse{Healthy: false, Detail: err.Error()}, nil
	}
	return &HealthResponse{Healthy: true}, nil
}

// MetricsScrape returns the Prometheus text exposition of every series.
//
//encore:api public method=GET path=/v1/metrics
func MetricsScrape(ctx context.Context, req *MetricsScrapeRequest) (*MetricsScrapeResponse, error) {
	if svc == nil {
		return nil, gwerrors.ToAPIError(gwerrors.New(gwerrors.KindInternal, "service not initialized"))
	}
	if _, err := svc.authenticator.Authenticate(req.Credential); err != nil {
		return nil, gwerrors.ToAPIError(err)
	}
	body, err := svc.recorder.RenderText()
	if err != nil {
		return nil, gwerrors.ToAPIError(gwerrors.Wrap(gwerrors.KindInternal, "failed to render metrics", err))
	}
	return &MetricsScrapeResponse{Body: body}, nil
}

// InternalMetricsSummary reports the Cache's aggregate counters for
// operator inspection. Requires an admin credential.
//
//encore:api public method=GET path=/v1/internal/metrics-summary
func InternalMetricsSummary(ctx context.Context, req *InternalMetricsSummaryRequest) (*InternalMetricsSummaryResponse, error) {
	if svc == nil {
		return nil, gwerrors.ToAPIError(gwerrors.New(gwerrors.KindInternal, "service not initialized"))
	}
	role, err := svc.authenticator.Authenticate(req.Credential)
	if err != nil {
		return nil, gwerrors.ToAPIError(err)
	}
	if role != auth.RoleAdmin {
		return nil, gwerrors.ToAPIError(gwerrors.New(gwerrors.KindUnauthenticated, "admin credential required"))
	}

	snap := svc.cache.Snapshot()
	return &InternalMetricsSummaryResponse{
		ExactHits:          snap.ExactHits,
		SemanticHits:       snap.SemanticHits,
		Misses:             snap.Misses,
		StoredItemEstimate: snap.StoredItemEstimate,
		InFlightRequests:   svc.lifecycle.InFlight(),
		BreakerState:       int(svc.llmClient.State()),
	}, nil
}

// SubmitQuery runs the admission gate and the Query Orchestrator pipeline.
func (s *Service) SubmitQuery(ctx context.Context, req *SubmitQueryRequest) (*SubmitQueryResponse, error) {
	start := time.Now()

	role, err := s.authenticator.Authenticate(req.Credential)
	if err != nil {
		s.publishCompletion(ctx, "SubmitQuery", "", false, "", 0, 0, 0, 0, start, err)
		return nil, err
	}
	_ = role

	decision, err := s.limiter.CheckAndConsume(ctx, req.Credential)
	if err != nil {
		s.publishCompletion(ctx, "SubmitQuery", "", false, "", 0, 0, 0, 0, start, err)
		return nil, err
	}
	if !decision.Allowed {
		rlErr := ratelimit.ErrFromDecision(decision)
		s.publishCompletion(ctx, "SubmitQuery", "", false, "", 0, 0, 0, 0, start, rlErr)
		return &SubmitQueryResponse{
			Limit:      decision.Limit,
			Remaining:  decision.Remaining,
			ResetAt:    decision.ResetAt,
			RetryAfter: int64(decision.RetryAfter.Seconds()),
		}, rlErr
	}

	release, err := s.lifecycle.Admit()
	if err != nil {
		s.publishCompletion(ctx, "SubmitQuery", "", false, "", 0, 0, 0, 0, start, err)
		return nil, err
	}
	defer func() {
		release()
		s.recorder.SetInFlight(s.lifecycle.InFlight())
	}()

	if req.Prompt == "" || len(req.Prompt) > s.cfg.MaxPromptBytes {
		validationErr := gwerrors.New(gwerrors.KindValidation, "prompt must be 1..max_prompt_bytes long")
		s.publishCompletion(ctx, "SubmitQuery", "", false, "", 0, 0, 0, 0, start, validationErr)
		return nil, validationErr
	}

	model := req.Model
	if model == "" {
		model = s.cfg.LLMModelDefault
	}
	temperature := 0.7
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	if temperature < 0 || temperature > 2 {
		validationErr := gwerrors.New(gwerrors.KindValidation, "temperature must be within [0, 2]")
		s.publishCompletion(ctx, "SubmitQuery", "", false, "", 0, 0, 0, 0, start, validationErr)
		return nil, validationErr
	}
	maxOutputTokens := 500
	if req.MaxOutputTokens != nil {
		maxOutputTokens = *req.MaxOutputTokens
	}
	similarityThreshold := s.cfg.SimilarityThresholdDefault
	if req.SimilarityThreshold != nil {
		similarityThreshold = *req.SimilarityThreshold
	}
	if similarityThreshold < 0 || similarityThreshold > 1 {
		validationErr := gwerrors.New(gwerrors.KindValidation, "similarity_threshold must be within [0, 1]")
		s.publishCompletion(ctx, "SubmitQuery", "", false, "", 0, 0, 0, 0, start, validationErr)
		return nil, validationErr
	}

	outcome, err := s.runQuery(ctx, req.Prompt, model, temperature, maxOutputTokens, similarityThreshold)
	duration := time.Since(start)

	if err != nil {
		s.publishCompletion(ctx, "SubmitQuery", "", false, "", 0, 0, 0, 0, start, err)
		return nil, err
	}

	breakerGauge := 0
	switch outcome.breakerState {
	case llmclient.StateHalfOpen:
		breakerGauge = 1
	case llmclient.StateOpen:
		breakerGauge = 2
	}
	s.publishCompletion(ctx, "SubmitQuery", outcome.hitType, outcome.cacheHit, "success", outcome.inputTokens, outcome.outputTokens, outcome.cost, breakerGauge, start, nil)

	resp := &SubmitQueryResponse{
		Response:   outcome.response,
		CacheHit:   outcome.cacheHit,
		TokensUsed: outcome.tokensUsed,
		Cost:       outcome.cost,
		LatencyMs:  float64(duration.Microseconds()) / 1000.0,
		Limit:      decision.Limit,
		Remaining:  decision.Remaining,
		ResetAt:    decision.ResetAt,
	}
	if outcome.hitType != "" {
		ht := outcome.hitType
		resp.HitType = &ht
	}
	if outcome.hasSimilarity {
		sim := outcome.similarity
		resp.SimilarityScore = &sim
	}
	if outcome.hasMatchedPrompt {
		mp := outcome.matchedPrompt
		resp.MatchedPrompt = &mp
	}
	return resp, nil
}

// publishCompletion emits a QueryCompletedEvent for the gateway's metrics
// subscription to consume asynchronously. Publish failures are logged, never surfaced to
// the caller: telemetry must not affect the request's own outcome.
func (s *Service) publishCompletion(ctx context.Context, endpoint, hitType string, cacheHit bool, status string, inputTokens, outputTokens int, cost float64, breakerState int, start time.Time, queryErr error) {
	if status == "" {
		if queryErr != nil {
			status = gwerrors.KindOf(queryErr).String()
		} else {
			status = "success"
		}
	}
	event := &gwpubsub.QueryCompletedEvent{
		Version:      gwpubsub.EventVersion1,
		Service:      "gateway",
		CacheHit:     cacheHit,
		HitType:      hitType,
		Status:       status,
		Endpoint:     endpoint,
		Duration:     time.Since(start),
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUnits:    cost,
		BreakerState: breakerState,
		CompletedAt:  start.Add(time.Since(start)),
		RequestID:    uuidRequestID(),
	}
	if _, err := QueryCompletedTopic.Publish(ctx, event); err != nil {
		rlog.Warn("failed to publish query completion event", "error", err)
	}
}

// uuidRequestID generates a correlation ID for one published event, the
// same way the single-flight lock holder ID is generated in orchestrator.go.
func uuidRequestID() string {
	return uuid.NewString()
}
