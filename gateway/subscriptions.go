package gateway

import (
	"context"

	"encore.dev/pubsub"

	gwpubsub "encore.app/pkg/pubsub"
	"encore.app/metrics"
)

// Subscribing to our own QueryCompletedTopic keeps the Metrics Recorder's
// bookkeeping off the synchronous request path (spec.md §4.8's counters are
// fed by every component, but nothing in the pipeline should block on them),
// adapted from the teacher's own-topic and cross-package subscription
// pattern in cache-manager/subscriptions.go.
var _ = pubsub.NewSubscription(
	QueryCompletedTopic,
	"gateway-query-completed-metrics",
	pubsub.SubscriptionConfig[*gwpubsub.QueryCompletedEvent]{
		Handler: handleQueryCompletedMetrics,
	},
)

func handleQueryCompletedMetrics(ctx context.Context, event *gwpubsub.QueryCompletedEvent) error {
	if svc == nil {
		return nil
	}
	svc.recorder.RecordRequest(event.Endpoint, event.Status, event.Duration)

	if event.Status != "success" {
		return nil
	}

	var hit metrics.HitType
	switch {
	case event.CacheHit && event.HitType == "exact":
		hit = metrics.HitExact
	case event.CacheHit && event.HitType == "semantic":
		hit = metrics.HitSemantic
	default:
		hit = metrics.HitMiss
	}
	svc.recorder.RecordCacheOutcome(hit)

	if !event.CacheHit {
		svc.recorder.RecordTokens(event.InputTokens, event.OutputTokens)
	}
	return nil
}
