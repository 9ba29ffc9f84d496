// Package metrics exposes the agent's in-process counters on a prometheus
// registry. The agent never opens a listener; the host decides whether and
// where to expose the registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the agent updates.
type Metrics struct {
	EventsObserved  prometheus.Counter
	EventsRecorded  prometheus.Counter
	AnomaliesScored prometheus.Counter
	ThreatsDetected *prometheus.CounterVec
	ThreatsDeduped  prometheus.Counter
	IntegrityScans  prometheus.Counter

	ReportsSent    prometheus.Counter
	ReportFailures prometheus.Counter
	EventsDropped  prometheus.Counter
	QueueDepth     prometheus.Gauge
	FlushDuration  prometheus.Histogram
}

// New registers the agent collectors on reg. Passing nil uses a private
// registry so an unconfigured host still gets working counters.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		EventsObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "securus_network_events_observed_total",
			Help: "Network events seen by the anomaly coordinator.",
		}),
		EventsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "securus_baseline_events_recorded_total",
			Help: "Network events accepted into the learning baseline.",
		}),
		AnomaliesScored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "securus_anomaly_scores_total",
			Help: "Feature vectors scored during protection.",
		}),
		ThreatsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "securus_threats_detected_total",
			Help: "Threat events emitted, by threat type.",
		}, []string{"threat_type"}),
		ThreatsDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "securus_threats_deduplicated_total",
			Help: "Threat events suppressed by the de-duplication window.",
		}),
		IntegrityScans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "securus_integrity_scans_total",
			Help: "Completed runtime integrity scan passes.",
		}),
		ReportsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "securus_reports_sent_total",
			Help: "Threat events successfully delivered to the collector.",
		}),
		ReportFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "securus_report_failures_total",
			Help: "Batch deliveries that exhausted their retries.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "securus_report_events_dropped_total",
			Help: "Queued events discarded to hold the queue bound.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "securus_report_queue_depth",
			Help: "Threat events currently waiting for delivery.",
		}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "securus_report_flush_duration_seconds",
			Help:    "Wall time of collector batch deliveries.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.EventsObserved, m.EventsRecorded, m.AnomaliesScored,
		m.ThreatsDetected, m.ThreatsDeduped, m.IntegrityScans,
		m.ReportsSent, m.ReportFailures, m.EventsDropped,
		m.QueueDepth, m.FlushDuration,
	)
	return m
}
