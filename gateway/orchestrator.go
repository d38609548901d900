package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"encore.app/cache"
	"encore.app/embedding"
	"encore.app/internal/gwerrors"
	"encore.app/llmclient"
)

// queryOutcome is the internal result of running the pipeline, before it is
// translated into the wire SubmitQueryResponse shape.
type queryOutcome struct {
	response        string
	cacheHit        bool
	hitType         string // "exact" | "semantic" | ""
	similarity      float64
	hasSimilarity   bool
	matchedPrompt   string
	hasMatchedPrompt bool
	tokensUsed      int
	inputTokens     int
	outputTokens    int
	cost            float64
	breakerState    llmclient.State
}

// runQuery implements the Query Orchestrator pipeline of spec.md §4.7.
func (s *Service) runQuery(ctx context.Context, prompt, model string, temperature float64, maxOutputTokens int, similarityThreshold float64) (queryOutcome, error) {
	fp := cache.Fingerprint(prompt, model)

	// Step 2: exact lookup.
	if outcome, hit, err := s.exactHit(ctx, fp, prompt); err != nil {
		return queryOutcome{}, err
	} else if hit {
		return outcome, nil
	}

	// Step 3: embedding. A producer failure degrades to skipping the
	// semantic stage entirely (step 7) and does not fail the request; a
	// dimension mismatch (KindConfigError) is returned to the caller.
	var queryEmbedding embedding.Vector
	emb, err := s.embeddingClient.Embed(ctx, prompt)
	if err != nil {
		if gwerrors.Is(err, gwerrors.KindConfigError) {
			return queryOutcome{}, err
		}
		queryEmbedding = nil
	} else {
		queryEmbedding = emb
	}

	// Step 4: semantic lookup.
	if queryEmbedding != nil {
		if outcome, hit, err := s.semanticHit(ctx, queryEmbedding, similarityThreshold); err != nil {
			return queryOutcome{}, err
		} else if hit {
			return outcome, nil
		}
	}

	// Step 5: single-flight lock acquisition.
	holderID := uuid.NewString()
	acquired, err := s.cache.TryAcquireLock(ctx, fp, holderID, s.cfg.LockTTL())
	if err != nil {
		return queryOutcome{}, gwerrors.Wrap(gwerrors.KindDependencyUnavailable, "lock acquisition failed", err)
	}

	if !acquired {
		return s.waitPath(ctx, fp, prompt, model, temperature, maxOutputTokens, queryEmbedding)
	}

	defer func() {
		_, _ = s.cache.ReleaseLock(context.WithoutCancel(ctx), fp, holderID)
	}()

	// Step 6: double-check under the lock.
	if outcome, hit, err := s.exactHit(ctx, fp, prompt); err != nil {
		return queryOutcome{}, err
	} else if hit {
		return outcome, nil
	}
	if queryEmbedding != nil {
		if outcome, hit, err := s.semanticHit(ctx, queryEmbedding, similarityThreshold); err != nil {
			return queryOutcome{}, err
		} else if hit {
			return outcome, nil
		}
	}

	// Step 7: LLM invocation.
	return s.callLLMAndStore(ctx, fp, prompt, model, temperature, maxOutputTokens, queryEmbedding)
}

func (s *Service) exactHit(ctx context.Context, fp, prompt string) (queryOutcome, bool, error) {
	entry, err := s.cache.GetExact(ctx, fp)
	if err != nil {
		return queryOutcome{}, false, gwerrors.Wrap(gwerrors.KindDependencyUnavailable, "cache exact lookup failed", err)
	}
	if entry == nil {
		return queryOutcome{}, false, nil
	}
	return queryOutcome{
		response:         entry.Response,
		cacheHit:         true,
		hitType:          "exact",
		similarity:       1.0,
		hasSimilarity:    true,
		matchedPrompt:    prompt,
		hasMatchedPrompt: true,
	}, true, nil
}

func (s *Service) semanticHit(ctx context.Context, queryEmbedding embedding.Vector, threshold float64) (queryOutcome, bool, error) {
	match, err := s.cache.FindSemanticMatch(ctx, queryEmbedding, threshold)
	if err != nil {
		return queryOutcome{}, false, gwerrors.Wrap(gwerrors.KindDependencyUnavailable, "cache semantic lookup failed", err)
	}
	if match == nil {
		return queryOutcome{}, false, nil
	}
	return queryOutcome{
		response:         match.Response,
		cacheHit:         true,
		hitType:          "semantic",
		similarity:       match.Similarity,
		hasSimilarity:    true,
		matchedPrompt:    match.Prompt,
		hasMatchedPrompt: match.Prompt != "",
	}, true, nil
}

// waitPath implements spec.md §4.7's wait path: poll the cache for an entry
// another holder may write, up to lock_wait_deadline; on timeout, proceed
// without the single-flight guarantee.
func (s *Service) waitPath(ctx context.Context, fp, prompt, model string, temperature float64, maxOutputTokens int, queryEmbedding embedding.Vector) (queryOutcome, error) {
	deadline := time.Now().Add(s.cfg.LockWaitDeadline())
	interval := 50 * time.Millisecond

	for time.Now().Before(deadline) {
		if outcome, hit, err := s.exactHit(ctx, fp, prompt); err != nil {
			return queryOutcome{}, err
		} else if hit {
			return outcome, nil
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return queryOutcome{}, ctx.Err()
		}
	}

	// Timed out: the lock holder may have crashed. Proceed without the
	// single-flight guarantee rather than fail the request.
	return s.callLLMAndStore(ctx, fp, prompt, model, temperature, maxOutputTokens, queryEmbedding)
}

func (s *Service) callLLMAndStore(ctx context.Context, fp, prompt, model string, temperature float64, maxOutputTokens int, queryEmbedding embedding.Vector) (queryOutcome, error) {
	resp, err := s.llmClient.Complete(ctx, llmclient.Request{
		Prompt:          prompt,
		Model:           model,
		Temperature:     temperature,
		MaxOutputTokens: maxOutputTokens,
	})
	if err != nil {
		return queryOutcome{}, err
	}

	// The LLM response has already been paid for; spec.md §5 requires the
	// write-back to happen even if the caller disconnects here, so the rest
	// of this function runs against a context detached from ctx's
	// cancellation, the same way lock release above survives it.
	writeCtx := context.WithoutCancel(ctx)

	// If the embedding stage was skipped above, attempt it now so a
	// successful LLM path can still store it on write-back (spec.md §4.7
	// step 3's ordering guarantee is best-effort once we reach this far).
	if queryEmbedding == nil {
		if emb, embErr := s.embeddingClient.Embed(writeCtx, prompt); embErr == nil {
			queryEmbedding = emb
		}
	}

	if err := s.cache.Set(writeCtx, fp, prompt, resp.CompletionText, queryEmbedding, s.cfg.ResponseTTL()); err != nil {
		// Cache write failure does not fail the request: the response was
		// already produced and charged for.
		_ = err
	}

	return queryOutcome{
		response:     resp.CompletionText,
		cacheHit:     false,
		tokensUsed:   resp.InputTokenCount + resp.OutputTokenCount,
		inputTokens:  resp.InputTokenCount,
		outputTokens: resp.OutputTokenCount,
		cost:         resp.CostUnits,
		breakerState: s.llmClient.State(),
	}, nil
}
