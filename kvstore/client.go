// Package kvstore wraps the remote key/value store behind the interface
// spec.md §6 requires: byte-transparent get/set, per-key TTL, atomic
// set-if-absent, atomic scripted increment, compare-and-delete, a
// cursor-based prefix scan, and a liveness probe. Every mutation that
// needs to be safe across replicas goes through one of the atomic
// operations here; the Cache, Limiter and Lifecycle packages depend only
// on this interface, never on a concrete backend (spec.md §9's
// "duck-typed cache backend" redesign flag).
package kvstore

import (
	"context"
	"time"
)

// Client is the KV contract every component above it depends on.
type Client interface {
	// Get returns the raw value stored at key, or ok=false if absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// SetTTL writes value at key with the given TTL. ttl<=0 means no expiry.
	SetTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetIfAbsentTTL atomically writes value at key only if key does not
	// already hold a value, with the given TTL. Returns true if the write
	// happened (i.e. the caller now holds the key).
	SetIfAbsentTTL(ctx context.Context, key string, value []byte, ttl time.Duration) (acquired bool, err error)

	// CompareAndDelete deletes key only if its current value equals
	// expected, atomically. Returns true if the delete happened.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (deleted bool, err error)

	// Delete removes key unconditionally. Not an error if key is absent.
	Delete(ctx context.Context, key string) error

	// AtomicIncrScript runs the token-bucket refill-and-consume script
	// atomically: given the current (tokens, lastRefillUnixNano) stored at
	// key (or (capacity, now) if absent), compute the refilled token count,
	// consume cost tokens if possible, persist the new state with ttl, and
	// return the resulting token count after consumption (which may be
	// negative, meaning denied-by cost-available tokens).
	AtomicIncrScript(ctx context.Context, key string, capacity int64, refillPerSecond float64, cost int64, ttl time.Duration) (tokensAfter float64, refillBeforeConsume float64, err error)

	// ScanPrefix enumerates all keys under prefix via a cursor-based scan,
	// invoking fn for each key/value pair. fn returning false stops the
	// scan early. Linear in the number of matching keys (spec.md §4.5).
	ScanPrefix(ctx context.Context, prefix string, fn func(key string, value []byte) (cont bool)) error

	// Ping probes liveness. Used by the Lifecycle Controller at startup
	// and by the health endpoint.
	Ping(ctx context.Context) error

	// Close releases underlying connections.
	Close() error
}
