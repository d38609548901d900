package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"encore.app/cache"
	"encore.app/config"
	"encore.app/embedding"
	"encore.app/kvstore"
	"encore.app/lifecycle"
	"encore.app/llmclient"
	"encore.app/metrics"
)

// fakeEmbeddingProducer returns a fixed vector per prompt (or the zero
// vector for an unseen prompt), and can be made to fail on demand.
type fakeEmbeddingProducer struct {
	mu      sync.Mutex
	vectors map[string]embedding.Vector
	fail    bool
}

func (p *fakeEmbeddingProducer) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return nil, fmt.Errorf("embedding producer unavailable")
	}
	if v, ok := p.vectors[text]; ok {
		return v, nil
	}
	return embedding.Vector{0, 0, 0, 0}, nil
}

// fakeLLMProducer counts every completion call and answers with a
// deterministic "answer:<prompt>" completion.
type fakeLLMProducer struct {
	calls int32
}

func (p *fakeLLMProducer) Complete(ctx context.Context, req llmclient.Request) (llmclient.Response, int, error) {
	atomic.AddInt32(&p.calls, 1)
	return llmclient.Response{
		CompletionText:   "answer:" + req.Prompt,
		InputTokenCount:  10,
		OutputTokenCount: 5,
	}, 200, nil
}

func newTestService(t *testing.T, llmProd *fakeLLMProducer, embProd *fakeEmbeddingProducer) *Service {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.EmbeddingDim = 4
	cfg.LockTTLSeconds = 1

	kv := kvstore.NewFake()
	rec := metrics.New()

	return &Service{
		cfg:             cfg,
		kv:              kv,
		cache:           cache.New(kv, cfg.KVKeyPrefix, cfg.LockPrefix),
		embeddingClient: embedding.New(embProd, cfg.EmbeddingDim, cfg.EmbeddingTimeout()),
		llmClient:       llmclient.New(llmProd, cfg.LLMMaxAttempts, cfg.LLMTimeout(), cfg.BreakerFailureThreshold, cfg.BreakerCooldown(), 0, 0),
		lifecycle:       lifecycle.New(cfg.ShutdownDrain()),
		recorder:        rec,
	}
}

func TestRunQueryColdCacheMiss(t *testing.T) {
	llmProd := &fakeLLMProducer{}
	s := newTestService(t, llmProd, &fakeEmbeddingProducer{})
	ctx := context.Background()

	outcome, err := s.runQuery(ctx, "what is python", "m1", 0.7, 500, 0.75)
	require.NoError(t, err)
	assert.False(t, outcome.cacheHit)
	assert.Equal(t, "answer:what is python", outcome.response)
	assert.Equal(t, int32(1), atomic.LoadInt32(&llmProd.calls))

	entry, err := s.cache.GetExact(ctx, cache.Fingerprint("what is python", "m1"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "answer:what is python", entry.Response)
}

func TestRunQueryExactReplay(t *testing.T) {
	llmProd := &fakeLLMProducer{}
	s := newTestService(t, llmProd, &fakeEmbeddingProducer{})
	ctx := context.Background()

	_, err := s.runQuery(ctx, "what is python", "m1", 0.7, 500, 0.75)
	require.NoError(t, err)

	outcome, err := s.runQuery(ctx, "what is python", "m1", 0.7, 500, 0.75)
	require.NoError(t, err)
	assert.True(t, outcome.cacheHit)
	assert.Equal(t, "exact", outcome.hitType)
	assert.Equal(t, 1.0, outcome.similarity)
	assert.Equal(t, 0, outcome.tokensUsed)
	assert.Equal(t, 0.0, outcome.cost)
	assert.Equal(t, int32(1), atomic.LoadInt32(&llmProd.calls), "replay must not invoke the LLM again")
}

func TestRunQuerySemanticMatchAboveThreshold(t *testing.T) {
	llmProd := &fakeLLMProducer{}
	embProd := &fakeEmbeddingProducer{
		vectors: map[string]embedding.Vector{
			"what is python":                {1, 0, 0, 0},
			"explain the python language":    {0.88, 0.475, 0, 0},
		},
	}
	s := newTestService(t, llmProd, embProd)
	ctx := context.Background()

	_, err := s.runQuery(ctx, "what is python", "m1", 0.7, 500, 0.75)
	require.NoError(t, err)

	outcome, err := s.runQuery(ctx, "explain the python language", "m1", 0.7, 500, 0.75)
	require.NoError(t, err)
	assert.True(t, outcome.cacheHit)
	assert.Equal(t, "semantic", outcome.hitType)
	assert.InDelta(t, 0.88, outcome.similarity, 0.02)
	assert.Equal(t, "what is python", outcome.matchedPrompt)
	assert.Equal(t, int32(1), atomic.LoadInt32(&llmProd.calls))
}

func TestRunQuerySemanticMissBelowThreshold(t *testing.T) {
	llmProd := &fakeLLMProducer{}
	embProd := &fakeEmbeddingProducer{
		vectors: map[string]embedding.Vector{
			"what is python":               {1, 0, 0, 0},
			"explain the python language":   {0.88, 0.475, 0, 0},
		},
	}
	s := newTestService(t, llmProd, embProd)
	ctx := context.Background()

	_, err := s.runQuery(ctx, "what is python", "m1", 0.7, 500, 0.75)
	require.NoError(t, err)

	outcome, err := s.runQuery(ctx, "explain the python language", "m1", 0.7, 500, 0.90)
	require.NoError(t, err)
	assert.False(t, outcome.cacheHit)
	assert.Equal(t, int32(2), atomic.LoadInt32(&llmProd.calls), "a threshold miss must fall through to a fresh LLM call")
}

func TestRunQueryEmbeddingFailureDegradesToLLM(t *testing.T) {
	llmProd := &fakeLLMProducer{}
	embProd := &fakeEmbeddingProducer{fail: true}
	s := newTestService(t, llmProd, embProd)
	ctx := context.Background()

	outcome, err := s.runQuery(ctx, "what is python", "m1", 0.7, 500, 0.75)
	require.NoError(t, err, "an embedding failure must degrade to the LLM path, not fail the request")
	assert.False(t, outcome.cacheHit)
	assert.Equal(t, int32(1), atomic.LoadInt32(&llmProd.calls))
}

func TestRunQueryConcurrentDuplicatesSingleFlight(t *testing.T) {
	llmProd := &fakeLLMProducer{}
	s := newTestService(t, llmProd, &fakeEmbeddingProducer{})
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := s.runQuery(ctx, "what is python", "m1", 0.7, 500, 0.75)
			results[i] = outcome.response
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, "answer:what is python", results[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&llmProd.calls), "exactly one LLM invocation should serve all concurrent duplicates")
}

func TestRunQueryLLMUnavailableDoesNotWriteCache(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.EmbeddingDim = 4
	cfg.BreakerFailureThreshold = 1
	cfg.LLMMaxAttempts = 1

	kv := kvstore.NewFake()
	llmProd := &failingLLMProducer{}
	s := &Service{
		cfg:             cfg,
		kv:              kv,
		cache:           cache.New(kv, cfg.KVKeyPrefix, cfg.LockPrefix),
		embeddingClient: embedding.New(&fakeEmbeddingProducer{}, cfg.EmbeddingDim, cfg.EmbeddingTimeout()),
		llmClient:       llmclient.New(llmProd, cfg.LLMMaxAttempts, cfg.LLMTimeout(), cfg.BreakerFailureThreshold, cfg.BreakerCooldown(), 0, 0),
		lifecycle:       lifecycle.New(cfg.ShutdownDrain()),
		recorder:        metrics.New(),
	}

	_, err := s.runQuery(context.Background(), "what is python", "m1", 0.7, 500, 0.75)
	require.Error(t, err)

	entry, getErr := s.cache.GetExact(context.Background(), cache.Fingerprint("what is python", "m1"))
	require.NoError(t, getErr)
	assert.Nil(t, entry, "a failed LLM call must never write a cache entry")

	held, lockErr := s.cache.TryAcquireLock(context.Background(), cache.Fingerprint("what is python", "m1"), "someone-else", time.Second)
	require.NoError(t, lockErr)
	assert.True(t, held, "the lock must be released even when the LLM call fails")
}

type failingLLMProducer struct{}

func (failingLLMProducer) Complete(ctx context.Context, req llmclient.Request) (llmclient.Response, int, error) {
	return llmclient.Response{}, 500, fmt.Errorf("producer down")
}
