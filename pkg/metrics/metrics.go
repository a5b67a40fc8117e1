// Package metrics exposes the Prometheus instrumentation backing /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RedisQPolls counts long-poll attempts by outcome (kill, empty, error).
	RedisQPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wanderer_kills_redisq_polls_total",
		Help: "RedisQ long-poll attempts by outcome",
	}, []string{"outcome"})

	// KillmailsParsed counts parser outcomes (parsed, skipped_old, invalid).
	KillmailsParsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wanderer_kills_parsed_total",
		Help: "Killmails handled by the parser by outcome",
	}, []string{"outcome"})

	// KillmailsEnriched counts enrichment outcomes (full, partial, failed).
	KillmailsEnriched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wanderer_kills_enriched_total",
		Help: "Killmails enriched by outcome",
	}, []string{"outcome"})

	// KillmailsStored counts killmails written to the cache and event store.
	KillmailsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wanderer_kills_stored_total",
		Help: "Killmails stored",
	})

	// Deliveries counts subscriber deliveries by transport kind.
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wanderer_kills_deliveries_total",
		Help: "Killmail deliveries by transport",
	}, []string{"kind"})

	// ActiveSubscriptions tracks live subscriptions by transport kind.
	ActiveSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wanderer_kills_active_subscriptions",
		Help: "Live subscriptions by transport",
	}, []string{"kind"})

	// WebhookFailures counts failed webhook posts.
	WebhookFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wanderer_kills_webhook_failures_total",
		Help: "Failed webhook deliveries",
	})

	// PreloadBatches counts delivered preload batches.
	PreloadBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wanderer_kills_preload_batches_total",
		Help: "Preload batches delivered",
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
