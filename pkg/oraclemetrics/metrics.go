// Package oraclemetrics registers the oracle's Prometheus instrumentation.
package oraclemetrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// EventsCreated counts every announcement created, single or parlay.
	EventsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "oracle",
		Name:      "events_created_total",
		Help:      "Number of events created.",
	})

	// AttestationsSigned counts completed attestations by kind.
	AttestationsSigned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oracle",
		Name:      "attestations_signed_total",
		Help:      "Number of attestations signed, by kind.",
	}, []string{"kind"})

	// WatcherTickSeconds measures how long each watcher tick takes.
	WatcherTickSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "oracle",
		Name:      "watcher_tick_seconds",
		Help:      "Duration of each watcher maturity scan tick.",
	})

	// StatsSourceFailures counts sampling failures by event type.
	StatsSourceFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oracle",
		Name:      "stats_source_failures_total",
		Help:      "Number of stats source sampling failures, by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(
		EventsCreated,
		AttestationsSigned,
		WatcherTickSeconds,
		StatsSourceFailures,
	)
}
