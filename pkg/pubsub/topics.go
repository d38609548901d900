// Package pubsub provides topic names and event type definitions for the
// gateway's telemetry event stream.
//
// Topic Naming Convention:
//   - query.completed: one event per finished pipeline run, consumed
//     asynchronously by the gateway's metrics subscription so the synchronous request path
//     never blocks on counter bookkeeping.
//
// Design Notes:
//   - Topics are defined as constants to avoid typos and enable compile-time checks
//   - Version field in events enables schema evolution without breaking consumers
//   - No direct Encore dependencies to keep pkg/ reusable across services
package pubsub

// Topic name constants for Encore Pub/Sub integration.
// These should be used when defining pubsub.Topic[T] in service code.
const (
	// TopicQueryCompleted is published once per finished query pipeline run,
	// whether it ended in a cache hit, an LLM call, or an error.
	// Event type: QueryCompletedEvent
	// Publishers: gateway
	// Subscribers: gateway (feeds metrics.Recorder)
	TopicQueryCompleted = "query.completed"
)

// AllTopics returns all defined topic names.
// Useful for validation, testing, and administrative tools.
func AllTopics() []string {
	return []string{
		TopicQueryCompleted,
	}
}

// IsValidTopic checks if the given topic name is recognized.
func IsValidTopic(topic string) bool {
	for _, t := range AllTopics() {
		if t == topic {
			return true
		}
	}
	return false
}
