// Package metrics holds the Prometheus collectors of the feed client.
// Every method is safe on a nil *Metrics, so components can run without
// a registry in tests.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"mobility-feed/internal/events"
)

const namespace = "mobility_feed"

// Message results.
const (
	ResultAccepted  = "accepted"
	ResultMalformed = "malformed"
	ResultIgnored   = "ignored"
	ResultLate      = "late"
)

// Event labels used for names outside the known set.
const (
	EventOther    = "other"
	EventUnparsed = "unparsed"
)

type Metrics struct {
	messages    *prometheus.CounterVec
	appended    *prometheus.CounterVec
	evictions   *prometheus.CounterVec
	bufferLen   *prometheus.GaugeVec
	commands    *prometheus.CounterVec
	reconnects  prometheus.Counter
	diagnostics *prometheus.CounterVec
	connState   prometheus.Gauge
	subscribers prometheus.Gauge

	known atomic.Pointer[map[string]struct{}]
}

// New registers the collectors on reg. A nil reg yields a nil *Metrics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound messages by event and result",
		}, []string{"event", "result"}),
		appended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_appended_total",
			Help:      "Entries appended to stream buffers",
		}, []string{"kind"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Entries evicted from full stream buffers",
		}, []string{"kind"}),
		bufferLen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_length",
			Help:      "Current number of entries per stream buffer",
		}, []string{"kind"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Outbound control commands by result",
		}, []string{"command", "result"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Automatic reconnection attempts",
		}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_total",
			Help:      "Recorded diagnostics by source",
		}, []string{"source"}),
		connState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "0 disconnected, 1 connecting, 2 connected, 3 stopping",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Active snapshot subscribers",
		}),
	}
	reg.MustRegister(
		m.messages, m.appended, m.evictions, m.bufferLen, m.commands,
		m.reconnects, m.diagnostics, m.connState, m.subscribers,
	)
	return m
}

// Events sets the event names that get their own label. Every other
// name is counted as EventOther so the server cannot grow the series set.
func (m *Metrics) Events(names ...string) {
	if m == nil {
		return
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n != "" {
			set[n] = struct{}{}
		}
	}
	m.known.Store(&set)
}

func (m *Metrics) Message(event, result string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(m.eventLabel(event), result).Inc()
}

func (m *Metrics) eventLabel(event string) string {
	if event == "" {
		return EventUnparsed
	}
	if set := m.known.Load(); set != nil {
		if _, ok := (*set)[event]; ok {
			return event
		}
	}
	return EventOther
}

// Appended accounts for one append to the buffer of kind.
func (m *Metrics) Appended(kind events.Kind, evicted bool, length int) {
	if m == nil {
		return
	}
	m.appended.WithLabelValues(kind.String()).Inc()
	if evicted {
		m.evictions.WithLabelValues(kind.String()).Inc()
	}
	m.bufferLen.WithLabelValues(kind.String()).Set(float64(length))
}

func (m *Metrics) BufferLength(kind events.Kind, length int) {
	if m == nil {
		return
	}
	m.bufferLen.WithLabelValues(kind.String()).Set(float64(length))
}

func (m *Metrics) Command(name string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.commands.WithLabelValues(name, result).Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) Diagnostic(source string) {
	if m == nil {
		return
	}
	m.diagnostics.WithLabelValues(source).Inc()
}

func (m *Metrics) ConnectionState(code int) {
	if m == nil {
		return
	}
	m.connState.Set(float64(code))
}

func (m *Metrics) Subscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}
