// Package embedding is the Embedding Client of spec.md §4.4: a text-in,
// vector-out remote call with a bounded timeout and no retry. A failed call
// is not fatal to a request — the Orchestrator degrades by skipping the
// semantic-match stage — but a dimension mismatch against the configured
// embedding_dim is treated as a configuration error (spec.md §7), since it
// signals the producer was upgraded without updating configuration.
package embedding

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"encore.app/internal/gwerrors"
)

// Producer is the remote embedding endpoint. It is supplied by the caller
// (e.g. an encore.dev generated client or an HTTP wrapper) since the
// producer itself is an external collaborator, out of scope for this
// module.
type Producer interface {
	Embed(ctx context.Context, text string) (Vector, error)
}

// Client wraps a Producer with the timeout, dimension assertion, and
// duplicate-call coalescing spec.md §4.4 requires of the gateway's use of
// it. Concurrent calls for the identical prompt text are coalesced via
// golang.org/x/sync/singleflight so a burst of duplicate requests costs the
// producer one call, not N.
type Client struct {
	producer Producer
	dim      int
	timeout  time.Duration
	group    singleflight.Group
}

// New builds a Client. dim is the configured embedding_dim; any vector
// returned by the producer whose length does not match it fails with
// KindConfigError, since it indicates the producer's output shape no
// longer matches configuration rather than a transient per-request failure.
func New(producer Producer, dim int, timeout time.Duration) *Client {
	return &Client{producer: producer, dim: dim, timeout: timeout}
}

// Embed requests the embedding for text. It makes exactly one attempt
// (spec.md §4.4: "No retry by default; one attempt"), bounded by the
// configured timeout.
func (c *Client) Embed(ctx context.Context, text string) (Vector, error) {
	v, err, _ := c.group.Do(text, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		vec, err := c.producer.Embed(callCtx, text)
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.KindDependencyUnavailable, "embedding call failed", err)
		}
		if len(vec) != c.dim {
			return nil, gwerrors.New(gwerrors.KindConfigError, fmt.Sprintf("embedding dimension mismatch: got %d, configured %d", len(vec), c.dim))
		}
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Vector), nil
}
