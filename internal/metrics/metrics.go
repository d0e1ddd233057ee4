// Package metrics declares the Prometheus collectors shared by every
// component. Collectors register with the default registry on import.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sg_analyses_total",
			Help: "Completed analyses by channel and risk level",
		},
		[]string{"channel", "level"},
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sg_analysis_duration_seconds",
			Help:    "Time spent in the analysis pipeline",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"channel"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sg_cache_hits_total",
			Help: "Result cache hits",
		},
		[]string{"kind"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sg_cache_misses_total",
			Help: "Result cache misses",
		},
		[]string{"kind"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sg_cache_errors_total",
			Help: "Cache backend failures absorbed as misses or no-ops",
		},
		[]string{"op"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sg_cache_evictions_total",
			Help: "Number of entries evicted from the cache",
		},
		[]string{"reason"},
	)

	PolicyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sg_policy_decisions_total",
			Help: "Policy decisions by policy and action",
		},
		[]string{"policy", "action"},
	)

	FeedEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sg_feed_entries",
		Help: "Entries currently held by the threat feed",
	})

	BroadcastEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sg_broadcast_events_total",
			Help: "Events fanned out to live subscribers, by type",
		},
		[]string{"type"},
	)

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sg_feed_subscribers",
		Help: "Registered live feed subscribers",
	})

	SubscriberDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sg_feed_subscriber_drops_total",
		Help: "Subscribers removed after a failed send",
	})

	ReputationLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sg_reputation_lookups_total",
			Help: "Reputation lookups by source and outcome",
		},
		[]string{"source", "result"},
	)

	BloomFilterHitRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sg_bloom_filter_hit_ratio",
			Help: "Ratio of bloom filter positives confirmed by the exact set",
		},
		[]string{"filter"},
	)

	SourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sg_factor_source_errors_total",
			Help: "Failures of optional factor sources, which are skipped",
		},
		[]string{"source"},
	)

	AuditDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sg_audit_dropped_total",
		Help: "Audit events dropped because the writer queue was full",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
