package host

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/oshokin/alarm-quorum/internal/event"
)

// namespace prefixes every metric of the host.
const namespace = "alarm_quorum"

// Metrics holds the Prometheus collectors of the host. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Sessions is the number of connected nodes.
	Sessions prometheus.Gauge
	// AlarmActive is 1 while an alarm awaits quorum.
	AlarmActive prometheus.Gauge
	// EventsReceived counts decoded inbound events by kind.
	EventsReceived *prometheus.CounterVec
	// EventsSent counts outbound events by kind.
	EventsSent *prometheus.CounterVec
	// Removals counts removed sessions by reason.
	Removals *prometheus.CounterVec
	// MalformedRecords counts dropped inbound records.
	MalformedRecords prometheus.Counter
	// QuorumClears counts alarms cleared by quorum.
	QuorumClears prometheus.Counter
}

// Removal reasons used as the "reason" label.
const (
	reasonClosed    = "closed"
	reasonTransport = "transport"
	reasonEvicted   = "evicted"
	reasonShutdown  = "shutdown"
)

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Number of connected nodes.",
		}),
		AlarmActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alarm_active",
			Help:      "1 while a triggered alarm awaits quorum.",
		}),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Decoded inbound events.",
		}, []string{"kind"}),
		EventsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_sent_total",
			Help:      "Events written to nodes.",
		}, []string{"kind"}),
		Removals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_removals_total",
			Help:      "Sessions removed from the registry.",
		}, []string{"reason"}),
		MalformedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_records_total",
			Help:      "Inbound records dropped because they failed to decode.",
		}),
		QuorumClears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quorum_clears_total",
			Help:      "Alarms cleared after every node snoozed.",
		}),
	}

	reg.MustRegister(
		m.Sessions,
		m.AlarmActive,
		m.EventsReceived,
		m.EventsSent,
		m.Removals,
		m.MalformedRecords,
		m.QuorumClears,
	)

	return m
}

func (m *Metrics) setSessions(n int) {
	if m != nil {
		m.Sessions.Set(float64(n))
	}
}

func (m *Metrics) setActive(active bool) {
	if m == nil {
		return
	}

	if active {
		m.AlarmActive.Set(1)
	} else {
		m.AlarmActive.Set(0)
	}
}

func (m *Metrics) received(kind event.Kind) {
	if m != nil {
		m.EventsReceived.WithLabelValues(kind.String()).Inc()
	}
}

func (m *Metrics) sent(kind event.Kind) {
	if m != nil {
		m.EventsSent.WithLabelValues(kind.String()).Inc()
	}
}

func (m *Metrics) removed(reason string) {
	if m != nil {
		m.Removals.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) malformed() {
	if m != nil {
		m.MalformedRecords.Inc()
	}
}

func (m *Metrics) cleared() {
	if m != nil {
		m.QuorumClears.Inc()
	}
}
