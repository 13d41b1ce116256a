// Package metrics exposes Prometheus instrumentation for the telemetry
// ingestion pipeline and the subscription manager.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "irrigation_"

// Discard reasons recorded on the dropped-message counters.
const (
	ReasonBadTopic      = "bad_topic"
	ReasonBadPayload    = "bad_payload"
	ReasonBadEntry      = "bad_entry"
	ReasonMissingFields = "missing_fields"
)

var (
	registerOnce sync.Once

	eventsIngested    prometheus.Counter
	eventsDuplicate   prometheus.Counter
	messagesDiscarded *prometheus.CounterVec
	entriesDiscarded  *prometheus.CounterVec
	storeErrors       prometheus.Counter
	subscriptions     prometheus.Gauge
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		eventsIngested = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "events_ingested_total",
			Help: "Telemetry events persisted to the log store",
		})
		eventsDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "events_duplicate_total",
			Help: "Telemetry events skipped as re-deliveries",
		})
		messagesDiscarded = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "messages_discarded_total",
			Help: "Broker messages discarded before ingestion, by reason",
		}, []string{"reason"})
		entriesDiscarded = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "entries_discarded_total",
			Help: "Individual log entries discarded during ingestion, by reason",
		}, []string{"reason"})
		storeErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "store_errors_total",
			Help: "Store failures during ingestion",
		})
		subscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "subscriptions_active",
			Help: "Device log topics currently subscribed",
		})

		prometheus.MustRegister(
			eventsIngested,
			eventsDuplicate,
			messagesDiscarded,
			entriesDiscarded,
			storeErrors,
			subscriptions,
		)
	})
}

// EventIngested counts a persisted event.
func EventIngested() {
	if eventsIngested != nil {
		eventsIngested.Inc()
	}
}

// EventDuplicate counts a skipped re-delivery.
func EventDuplicate() {
	if eventsDuplicate != nil {
		eventsDuplicate.Inc()
	}
}

// MessageDiscarded counts a whole broker message dropped before parsing.
func MessageDiscarded(reason string) {
	if messagesDiscarded != nil {
		messagesDiscarded.WithLabelValues(reason).Inc()
	}
}

// EntryDiscarded counts one element of a batch dropped during normalization.
func EntryDiscarded(reason string) {
	if entriesDiscarded != nil {
		entriesDiscarded.WithLabelValues(reason).Inc()
	}
}

// StoreError counts a failed store call on the ingestion path.
func StoreError() {
	if storeErrors != nil {
		storeErrors.Inc()
	}
}

// SetSubscriptions records the current subscription-set size.
func SetSubscriptions(n int) {
	if subscriptions != nil {
		subscriptions.Set(float64(n))
	}
}
