package trigger

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewfeed_trigger_events_published_total",
			Help: "Events published to trigger handlers.",
		},
		[]string{"trigger", "type"},
	)

	eventsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewfeed_trigger_events_skipped_total",
			Help: "Redelivered events skipped because the ledger already holds them.",
		},
		[]string{"trigger"},
	)

	handlerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewfeed_trigger_handler_failures_total",
			Help: "Events dropped after the handler exhausted its retries.",
		},
		[]string{"trigger"},
	)

	handlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reviewfeed_trigger_handler_duration_seconds",
			Help:    "Time spent in a single handler attempt.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"trigger"},
	)
)

func init() {
	prometheus.MustRegister(eventsPublished)
	prometheus.MustRegister(eventsSkipped)
	prometheus.MustRegister(handlerFailures)
	prometheus.MustRegister(handlerDuration)
}
