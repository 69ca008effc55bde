package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "rattlesnakeos_builder"

// Metrics counts monitor activity. They are written in the Prometheus text format so a
// node exporter textfile collector can pick them up.
type Metrics struct {
	registry          *prometheus.Registry
	polls             prometheus.Counter
	fetchErrors       prometheus.Counter
	buildsTriggered   prometheus.Counter
	buildFailures     prometheus.Counter
	releasesThisMonth prometheus.Gauge
}

// NewMetrics returns Metrics registered on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "monitor",
			Name:      "polls_total",
			Help:      "Number of release tag polls.",
		}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "monitor",
			Name:      "fetch_errors_total",
			Help:      "Number of polls that failed to fetch release tags.",
		}),
		buildsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "monitor",
			Name:      "builds_triggered_total",
			Help:      "Number of builds started by the monitor.",
		}),
		buildFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "monitor",
			Name:      "build_failures_total",
			Help:      "Number of monitor triggered builds that failed.",
		}),
		releasesThisMonth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "monitor",
			Name:      "releases_this_month",
			Help:      "New releases observed in the current month.",
		}),
	}
	m.registry.MustRegister(m.polls, m.fetchErrors, m.buildsTriggered, m.buildFailures, m.releasesThisMonth)
	return m
}

// Gatherer exposes the underlying registry
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile atomically writes all metrics to path
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Gatherer())
}
