// Package metrics holds the Prometheus collectors of the process.
//
// Collectors live on a dedicated registry owned by Metrics, so tests can build
// as many instances as they like. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "gridlink"

	reasonLabel      = "reason"
	commandLabel     = "command"
	resultLabel      = "result"
	outcomeLabel     = "outcome"
	statusClassLabel = "status_class"
)

// commandBuckets are command latency buckets in milliseconds.
var commandBuckets = prometheus.ExponentialBuckets(1, 2, 16)

// Metrics bundles every collector.
type Metrics struct {
	registry *prometheus.Registry

	sessionsRemoved *prometheus.CounterVec
	wsConnections   prometheus.Gauge
	wsCommands      *prometheus.CounterVec
	wsCommandMillis *prometheus.HistogramVec
	upstreamProbes  *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

// New registers all collectors plus Go/process collectors on a fresh registry.
// activeSessions backs the gridlink_sessions_active gauge; it may be nil.
func New(activeSessions func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		sessionsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_removed_total",
			Help:      "sessions removed from the registry, by reason",
		}, []string{reasonLabel}),

		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "open realtime connections",
		}),

		wsCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_commands_total",
			Help:      "realtime commands handled, by command and result code",
		}, []string{commandLabel, resultLabel}),

		wsCommandMillis: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ws_command_duration_ms",
			Help:      "realtime command latency in milliseconds",
			Buckets:   commandBuckets,
		}, []string{commandLabel}),

		upstreamProbes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_probes_total",
			Help:      "connect and test-connection probes, by outcome",
		}, []string{outcomeLabel}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by status class",
		}, []string{statusClassLabel}),
	}

	m.registry.MustRegister(
		m.sessionsRemoved,
		m.wsConnections,
		m.wsCommands,
		m.wsCommandMillis,
		m.upstreamProbes,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if activeSessions != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "sessions currently stored, including expired ones not yet swept",
		}, func() float64 { return float64(activeSessions()) }))
	}
	return m
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SessionRemoved(reason string) {
	if m == nil {
		return
	}
	m.sessionsRemoved.WithLabelValues(reason).Inc()
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.wsConnections.Dec()
}

// Command records one handled command. result is "ok" or an error code.
func (m *Metrics) Command(command, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.wsCommands.WithLabelValues(command, result).Inc()
	m.wsCommandMillis.WithLabelValues(command).Observe(float64(took.Milliseconds()))
}

// Probe records one upstream probe. outcome is "ok" or the failure kind.
func (m *Metrics) Probe(outcome string) {
	if m == nil {
		return
	}
	m.upstreamProbes.WithLabelValues(outcome).Inc()
}

// HTTPRequest records one response by class ("2xx", "4xx", ...).
func (m *Metrics) HTTPRequest(statusClass string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(statusClass).Inc()
}
