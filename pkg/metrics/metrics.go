package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Generation RPC metrics
	GenerationCalls   *prometheus.CounterVec
	GenerationLatency *prometheus.HistogramVec

	// CDR tracking metrics
	DebounceFlushes     prometheus.Counter
	DebounceFlushErrors prometheus.Counter
	CDRIntentsApplied   *prometheus.CounterVec

	// Watch metrics
	WatchSubscribers prometheus.Gauge
	WatchEvents      prometheus.Counter

	// Encounter lifecycle metrics
	EncountersArchived prometheus.Counter
	QuotaCharges       prometheus.Counter
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace, subsystem string) *Metrics {
	return &Metrics{
		GenerationCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "generation_calls_total",
			Help:      "Total generation RPC calls by section and outcome",
		}, []string{"section", "status"}),
		GenerationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "generation_duration_seconds",
			Help:      "Duration of generation RPC calls",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"section"}),
		DebounceFlushes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cdr_debounce_flushes_total",
			Help:      "Total debounced CDR tracking writes flushed",
		}),
		DebounceFlushErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cdr_debounce_flush_errors_total",
			Help:      "Total debounced CDR tracking writes that failed",
		}),
		CDRIntentsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cdr_intents_total",
			Help:      "Total CDR tracking intents applied by kind",
		}, []string{"intent"}),
		WatchSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "watch_subscribers",
			Help:      "Current number of live encounter subscriptions",
		}),
		WatchEvents: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "watch_events_total",
			Help:      "Total encounter snapshots fanned out to subscribers",
		}),
		EncountersArchived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "encounters_archived_total",
			Help:      "Total encounters archived by the shift-window sweep",
		}),
		QuotaCharges: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "quota_charges_total",
			Help:      "Total encounters charged against a monthly quota",
		}),
	}
}
