// Package metrics holds the process's Prometheus collectors on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"blogdesk/cmd/internal/realtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "blogdesk"

// Metrics implements the recorder interfaces of the session, api and realtime packages.
type Metrics struct {
	reg *prometheus.Registry

	sessionResolutions *prometheus.CounterVec

	apiRequests *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec

	rtTransitions *prometheus.CounterVec
	rtStatus      *prometheus.GaugeVec
	rtReconnects  prometheus.Counter
	rtExhausted   prometheus.Counter
	rtMessages    *prometheus.CounterVec

	statusRequests *prometheus.CounterVec
	statusDuration *prometheus.HistogramVec
}

// New registers every collector (plus Go/process collectors) on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		sessionResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "resolutions_total",
				Help:      "Boot-time session resolutions by outcome.",
			},
			[]string{"outcome"},
		),
		apiRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Blog API requests by operation and HTTP status (0 = transport failure).",
			},
			[]string{"op", "status"},
		),
		apiDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Blog API request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		rtTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "transitions_total",
				Help:      "Connection state transitions by target status.",
			},
			[]string{"from", "to"},
		),
		rtStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "status",
				Help:      "1 for the current connection status, 0 otherwise.",
			},
			[]string{"status"},
		),
		rtReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled reconnect attempts.",
		}),
		rtExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "reconnect_exhausted_total",
			Help:      "Times the reconnect budget was spent.",
		}),
		rtMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "messages_received_total",
				Help:      "Inbound envelopes by type.",
			},
			[]string{"type"},
		),
		statusRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Status surface HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		statusDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Status surface HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionResolutions,
		m.apiRequests, m.apiDuration,
		m.rtTransitions, m.rtStatus, m.rtReconnects, m.rtExhausted, m.rtMessages,
		m.statusRequests, m.statusDuration,
	)

	for _, s := range []realtime.Status{
		realtime.StatusDisconnected, realtime.StatusConnecting,
		realtime.StatusConnected, realtime.StatusReconnecting,
	} {
		m.rtStatus.WithLabelValues(s.String()).Set(0)
	}
	m.rtStatus.WithLabelValues(realtime.StatusDisconnected.String()).Set(1)
	return m
}

// Registry exposes the underlying registry (tests, custom collectors).
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// SessionResolved implements session.Recorder.
func (m *Metrics) SessionResolved(outcome string) {
	m.sessionResolutions.WithLabelValues(outcome).Inc()
}

// Request implements authapi.Recorder.
func (m *Metrics) Request(op string, status int, d time.Duration) {
	m.apiRequests.WithLabelValues(op, strconv.Itoa(status)).Inc()
	m.apiDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Transition implements realtime.Recorder.
func (m *Metrics) Transition(from, to realtime.Status) {
	m.rtTransitions.WithLabelValues(from.String(), to.String()).Inc()
	m.rtStatus.WithLabelValues(from.String()).Set(0)
	m.rtStatus.WithLabelValues(to.String()).Set(1)
}

// ReconnectScheduled implements realtime.Recorder.
func (m *Metrics) ReconnectScheduled(int) { m.rtReconnects.Inc() }

// ReconnectExhausted implements realtime.Recorder.
func (m *Metrics) ReconnectExhausted() { m.rtExhausted.Inc() }

// MessageReceived implements realtime.Recorder.
func (m *Metrics) MessageReceived(typ string) {
	m.rtMessages.WithLabelValues(typ).Inc()
}

// RecordHTTPRequest records one status-surface request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	m.statusRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.statusDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
