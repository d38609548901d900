// Package cache implements the Cache component of spec.md §4.5: the
// KV-backed layer providing fingerprint-keyed exact lookup, a linear
// semantic scan over stored embeddings, single-flight distributed lock
// acquisition/release, and the gateway's best-effort hit/miss counters.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"encore.app/embedding"
	"encore.app/kvstore"
)

// Entry is a stored (prompt, response, embedding) tuple, returned by
// scanning and exact lookups.
type Entry struct {
	Fingerprint string
	Prompt      string
	Response    string
	Embedding   embedding.Vector // nil if no embedding was stored
}

// SemanticMatch is the result of a successful find_semantic_match.
type SemanticMatch struct {
	Fingerprint string
	Prompt      string
	Response    string
	Similarity  float64
}

// Cache wraps a kvstore.Client with the gateway's cache-entry and lock
// shape. It is safe for concurrent use; its counters are best-effort
// in-process state (spec.md §4.5: "not authoritative state").
type Cache struct {
	kv         kvstore.Client
	prefix     string
	lockPrefix string

	exactHits   int64
	semanticHits int64
	misses      int64
	stored      int64
}

// New builds a Cache. prefix and lockPrefix are the configured KV key
// prefixes for cache entries and locks respectively (spec.md §6).
func New(kv kvstore.Client, prefix, lockPrefix string) *Cache {
	return &Cache{kv: kv, prefix: prefix, lockPrefix: lockPrefix}
}

func (c *Cache) responseKey(fingerprint string) string {
	return fmt.Sprintf("%s:%s", c.prefix, fingerprint)
}

func (c *Cache) embeddingKey(fingerprint string) string {
	return fmt.Sprintf("%s:%s:embedding", c.prefix, fingerprint)
}

func (c *Cache) lockKey(fingerprint string) string {
	return fmt.Sprintf("%s:%s", c.lockPrefix, fingerprint)
}

// promptKey stores the original prompt text alongside the response so
// scan_all can reconstruct an Entry for semantic comparison and audit
// purposes without a second round trip per fingerprint.
func (c *Cache) promptKey(fingerprint string) string {
	return fmt.Sprintf("%s:%s:prompt", c.prefix, fingerprint)
}

// GetExact implements get_exact: a read of the fingerprint's response key
// followed, on a hit, by reads of its stored prompt and paired embedding
// (each only if stored). Updates the exact_hits/misses counters.
func (c *Cache) GetExact(ctx context.Context, fingerprint string) (*Entry, error) {
	respBytes, ok, err := c.kv.Get(ctx, c.responseKey(fingerprint))
	if err != nil {
		return nil, err
	}
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, nil
	}

	entry := &Entry{Fingerprint: fingerprint, Response: string(respBytes)}

	if promptBytes, ok, err := c.kv.Get(ctx, c.promptKey(fingerprint)); err == nil && ok {
		entry.Prompt = string(promptBytes)
	}

	if embBytes, ok, err := c.kv.Get(ctx, c.embeddingKey(fingerprint)); err == nil && ok {
		entry.Embedding = embedding.Deserialize(embBytes)
	}

	atomic.AddInt64(&c.exactHits, 1)
	return entry, nil
}

// ScanAll enumerates every stored entry under the configured prefix,
// invoking fn for each. It is linear in the number of stored entries
// (spec.md §4.5, §9) and intended only for use by FindSemanticMatch.
func (c *Cache) ScanAll(ctx context.Context, fn func(Entry) bool) error {
	entries := make(map[string]*Entry)
	var order []string

	err := c.kv.ScanPrefix(ctx, c.prefix+":", func(key string, value []byte) bool {
		fingerprint, field, ok := splitEntryKey(key, c.prefix)
		if !ok {
			return true
		}
		e, exists := entries[fingerprint]
		if !exists {
			e = &Entry{Fingerprint: fingerprint}
			entries[fingerprint] = e
			order = append(order, fingerprint)
		}
		switch field {
		case "":
			e.Response = string(value)
		case "prompt":
			e.Prompt = string(value)
		case "embedding":
			e.Embedding = embedding.Deserialize(value)
		}
		return true
	})
	if err != nil {
		return err
	}

	for _, fp := range order {
		e := entries[fp]
		if e.Response == "" {
			// A partial write (embedding or prompt persisted but not the
			// response) never serves as a valid entry.
			continue
		}
		if !fn(*e) {
			return nil
		}
	}
	return nil
}

// splitEntryKey separates a scanned key of the form "<prefix>:<fp>" or
// "<prefix>:<fp>:<field>" into its fingerprint and optional field name.
func splitEntryKey(key, prefix string) (fingerprint, field string, ok bool) {
	rest := strings.TrimPrefix(key, prefix+":")
	if rest == key {
		return "", "", false
	}
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) == 1 {
		return parts[0], "", true
	}
	return parts[0], parts[1], true
}

// FindSemanticMatch implements find_semantic_match: scans all stored
// entries, computes cosine similarity against queryEmbedding, and returns
// the best entry at or above threshold. Entries whose stored embedding is
// absent or a different length are skipped. Ties keep the first-encountered
// entry (scan order is not otherwise guaranteed, matching spec.md §4.5's
// deterministic-relative-to-scan-order tie-break).
func (c *Cache) FindSemanticMatch(ctx context.Context, queryEmbedding embedding.Vector, threshold float64) (*SemanticMatch, error) {
	var best *SemanticMatch

	err := c.ScanAll(ctx, func(e Entry) bool {
		if len(e.Embedding) == 0 || len(e.Embedding) != len(queryEmbedding) {
			return true
		}
		sim := cosineSimilarity(queryEmbedding, e.Embedding)
		if sim < threshold {
			return true
		}
		if best == nil || sim > best.Similarity {
			best = &SemanticMatch{Fingerprint: e.Fingerprint, Prompt: e.Prompt, Response: e.Response, Similarity: sim}
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	if best != nil {
		atomic.AddInt64(&c.semanticHits, 1)
	} else {
		atomic.AddInt64(&c.misses, 1)
	}
	return best, nil
}

// Set implements set: writes response, prompt, and (if present) embedding
// under the same TTL. Per spec.md §4.5, the response write is the one that
// must succeed for the entry to count as valid; the response is written
// first so a failure partway through still leaves exact hits servable.
func (c *Cache) Set(ctx context.Context, fingerprint, prompt, response string, emb embedding.Vector, ttl time.Duration) error {
	if err := c.kv.SetTTL(ctx, c.responseKey(fingerprint), []byte(response), ttl); err != nil {
		return err
	}
	atomic.AddInt64(&c.stored, 1)

	_ = c.kv.SetTTL(ctx, c.promptKey(fingerprint), []byte(prompt), ttl)

	if len(emb) > 0 {
		_ = c.kv.SetTTL(ctx, c.embeddingKey(fingerprint), embedding.Serialize(emb), ttl)
	}
	return nil
}

// TryAcquireLock implements try_acquire_lock: set-if-absent of the lock key
// to holderID with ttl.
func (c *Cache) TryAcquireLock(ctx context.Context, fingerprint, holderID string, ttl time.Duration) (bool, error) {
	return c.kv.SetIfAbsentTTL(ctx, c.lockKey(fingerprint), []byte(holderID), ttl)
}

// ReleaseLock implements release_lock: compare-and-delete so a holder never
// releases a lock it no longer owns after TTL expiry and reacquisition by
// another holder.
func (c *Cache) ReleaseLock(ctx context.Context, fingerprint, holderID string) (bool, error) {
	return c.kv.CompareAndDelete(ctx, c.lockKey(fingerprint), []byte(holderID))
}

// Counters is a snapshot of the Cache's best-effort, in-process counters.
type Counters struct {
	ExactHits          int64
	SemanticHits       int64
	Misses             int64
	StoredItemEstimate int64
}

// Snapshot returns the current counter values.
func (c *Cache) Snapshot() Counters {
	return Counters{
		ExactHits:          atomic.LoadInt64(&c.exactHits),
		SemanticHits:       atomic.LoadInt64(&c.semanticHits),
		Misses:             atomic.LoadInt64(&c.misses),
		StoredItemEstimate: atomic.LoadInt64(&c.stored),
	}
}
