// Package metrics exposes Prometheus metrics for the upstream gateway and the
// poll loop.
package metrics

import (
	"net/http"
	"time"

	"github.com/newhook/nextpick/internal/poller"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nextpick"

// Metrics holds all nextpick metrics.
type Metrics struct {
	registry *prometheus.Registry

	UpstreamRequests        *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec
	PollTicks               *prometheus.CounterVec
	PhaseEvents             *prometheus.CounterVec
	Phase                   prometheus.Gauge
	TrackedBatches          prometheus.Gauge
	Faults                  prometheus.Counter
}

// New creates a registry with the nextpick metrics and the Go runtime
// collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of upstream API requests by outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	m.UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream API request duration in seconds",
			Buckets:   []float64{.025, .05, .1, .25, .5, .75, 1, 1.5, 2, 3, 5},
		},
		[]string{"endpoint"},
	)

	m.PollTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_total",
			Help:      "Total number of completed poll ticks by poll mode",
		},
		[]string{"mode"},
	)

	m.PhaseEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_events_total",
			Help:      "Total number of phase events by kind",
		},
		[]string{"kind"},
	)

	m.Phase = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "phase",
		Help:      "Current phase (0=loading, 1=active, 2=completed, 3=empty)",
	})

	m.TrackedBatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_batches",
		Help:      "Number of batches currently displayed",
	})

	m.Faults = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "faults_total",
		Help:      "Total number of ticks that failed inside reconciliation",
	})

	registry.MustRegister(
		m.UpstreamRequests,
		m.UpstreamRequestDuration,
		m.PollTicks,
		m.PhaseEvents,
		m.Phase,
		m.TrackedBatches,
		m.Faults,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records one upstream request.
func (m *Metrics) ObserveRequest(endpoint, outcome string, elapsed time.Duration) {
	m.UpstreamRequests.WithLabelValues(endpoint, outcome).Inc()
	m.UpstreamRequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// ObserveTick records one poll tick.
func (m *Metrics) ObserveTick(s poller.Snapshot) {
	m.PollTicks.WithLabelValues(string(s.Mode)).Inc()
	if s.Fault != nil {
		m.Faults.Inc()
	}
	for _, e := range s.Events {
		m.PhaseEvents.WithLabelValues(string(e.Kind)).Inc()
	}
	m.Phase.Set(float64(s.Phase))
	m.TrackedBatches.Set(float64(len(s.Models)))
}
