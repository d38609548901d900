// Package config holds the gateway's immutable startup configuration.
//
// Following the teacher's Config/DefaultConfig convention
// (cachemanager.Config, warming.Config), a single Config value is built
// once at process start and handed to every component by reference; no
// request handler mutates it afterwards (spec.md §9's redesign flag on
// "dynamic configuration objects").
package config

import "time"

// Config is the full set of recognized options from spec.md §6.
type Config struct {
	CredentialHeaderName string
	AdminCredentials     []string
	UserCredentials      []string

	RateLimitCapacity       int64
	RateLimitWindowSeconds  int64
	RateLimitRefillPerSecond float64

	KVEndpoint   string
	KVKeyPrefix  string
	LockPrefix   string
	RateLimitPrefix string

	EmbeddingEndpoint        string
	EmbeddingDim             int
	EmbeddingTimeoutSeconds  int

	LLMEndpoint       string
	LLMModelDefault   string
	LLMTimeoutSeconds int
	LLMMaxAttempts    int
	LLMInputUnitCost  float64
	LLMOutputUnitCost float64

	BreakerFailureThreshold int
	BreakerCooldownSeconds  int

	ResponseTTLSeconds      int
	LockTTLSeconds          int
	LockWaitPollMinMillis   int
	LockWaitPollMaxMillis   int
	ShutdownDrainSeconds    int
	SimilarityThresholdDefault float64

	MaxPromptBytes int
}

// DefaultConfig returns the defaults enumerated across spec.md §2-§6.
func DefaultConfig() Config {
	return Config{
		CredentialHeaderName: "X-API-Key",

		RateLimitCapacity:        100,
		RateLimitWindowSeconds:   60,
		RateLimitRefillPerSecond: 100.0 / 60.0,

		KVKeyPrefix:     "semcache",
		LockPrefix:      "semlock",
		RateLimitPrefix: "semrl",

		EmbeddingDim:            384,
		EmbeddingTimeoutSeconds: 5,

		LLMModelDefault:   "default-model",
		LLMTimeoutSeconds: 30,
		LLMMaxAttempts:    3,
		LLMInputUnitCost:  0,
		LLMOutputUnitCost: 0,

		BreakerFailureThreshold: 5,
		BreakerCooldownSeconds:  60,

		ResponseTTLSeconds:    3600,
		LockTTLSeconds:        30,
		LockWaitPollMinMillis: 50,
		LockWaitPollMaxMillis: 200,
		ShutdownDrainSeconds:  10,

		SimilarityThresholdDefault: 0.75,
		MaxPromptBytes:             2048,
	}
}

// LockTTL is the configured lock TTL as a time.Duration.
func (c Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// ResponseTTL is the configured cache-entry TTL as a time.Duration.
func (c Config) ResponseTTL() time.Duration {
	return time.Duration(c.ResponseTTLSeconds) * time.Second
}

// LockWaitDeadline defaults to the lock TTL per spec.md §4.7's wait path.
func (c Config) LockWaitDeadline() time.Duration {
	return c.LockTTL()
}

// EmbeddingTimeout is the configured embedding call timeout.
func (c Config) EmbeddingTimeout() time.Duration {
	return time.Duration(c.EmbeddingTimeoutSeconds) * time.Second
}

// LLMTimeout is the configured per-attempt LLM call timeout.
func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// BreakerCooldown is the configured circuit breaker cooldown.
func (c Config) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownSeconds) * time.Second
}

// ShutdownDrain is the configured hard deadline for in-flight drain.
func (c Config) ShutdownDrain() time.Duration {
	return time.Duration(c.ShutdownDrainSeconds) * time.Second
}
