package tunnel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultMetricsNamespace prefixes every metric name.
const DefaultMetricsNamespace = "onion"

// Metrics holds the Prometheus collectors updated by an Engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Circuit metrics
	Circuits          *prometheus.GaugeVec
	CircuitsCreated   prometheus.Counter
	CircuitsReady     prometheus.Counter
	CircuitsRemoved   *prometheus.CounterVec
	HandshakeFailures *prometheus.CounterVec

	// Joined circuit metrics
	Relays              prometheus.Gauge
	ExitSockets         prometheus.Gauge
	JoinedCircuits      prometheus.Counter
	AdmissionRejections *prometheus.CounterVec

	// Data transfer metrics
	CellsRelayed  prometheus.Counter
	CellsDropped  *prometheus.CounterVec
	BytesSent     *prometheus.CounterVec
	BytesReceived *prometheus.CounterVec
}

// NewMetrics registers the tunnel metrics with the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer, DefaultMetricsNamespace)
}

// NewMetricsWithRegistry registers the tunnel metrics with reg.
func NewMetricsWithRegistry(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultMetricsNamespace
	}
	factory := promauto.With(reg)

	return &Metrics{
		Circuits: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuits",
			Help:      "Number of circuits originated by this node by state",
		}, []string{"state"}),
		CircuitsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuits_created_total",
			Help:      "Total number of circuits this node started building",
		}),
		CircuitsReady: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuits_ready_total",
			Help:      "Total number of circuits that reached READY",
		}),
		CircuitsRemoved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "removals_total",
			Help:      "Total removals of circuits, relays and exit sockets by role and reason",
		}, []string{"role", "reason"}),
		HandshakeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_failures_total",
			Help:      "Total hop handshakes that failed by cause",
		}, []string{"cause"}),

		Relays: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relays",
			Help:      "Number of relay routes held for other nodes",
		}),
		ExitSockets: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exit_sockets",
			Help:      "Number of exit sockets held for other nodes",
		}),
		JoinedCircuits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joined_circuits_total",
			Help:      "Total number of CREATE requests accepted",
		}),
		AdmissionRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejections_total",
			Help:      "Total CREATE requests refused by cause",
		}, []string{"cause"}),

		CellsRelayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_relayed_total",
			Help:      "Total cells forwarded on behalf of other nodes",
		}),
		CellsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_dropped_total",
			Help:      "Total inbound cells dropped by cause",
		}, []string{"cause"}),
		BytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent by role",
		}, []string{"role"}),
		BytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total bytes received by role",
		}, []string{"role"}),
	}
}

// Role labels.
const (
	roleCircuit = "circuit"
	roleRelay   = "relay"
	roleExit    = "exit"
)

// SetCircuitStates publishes the current circuit counts per state.
func (m *Metrics) SetCircuitStates(counts map[CircuitState]int) {
	if m == nil {
		return
	}
	for _, s := range []CircuitState{StateExtending, StateReady, StateClosing} {
		m.Circuits.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
}

// SetJoined publishes the number of relay routes and exit sockets.
func (m *Metrics) SetJoined(relays, exits int) {
	if m == nil {
		return
	}
	m.Relays.Set(float64(relays))
	m.ExitSockets.Set(float64(exits))
}

// RecordCircuitCreated records the start of a circuit build.
func (m *Metrics) RecordCircuitCreated() {
	if m == nil {
		return
	}
	m.CircuitsCreated.Inc()
}

// RecordCircuitReady records a circuit reaching READY.
func (m *Metrics) RecordCircuitReady() {
	if m == nil {
		return
	}
	m.CircuitsReady.Inc()
}

// RecordRemoval records the removal of a circuit, relay or exit socket.
func (m *Metrics) RecordRemoval(role string, reason Reason) {
	if m == nil {
		return
	}
	m.CircuitsRemoved.WithLabelValues(role, reason.String()).Inc()
}

// RecordHandshakeFailure records a failed hop handshake.
func (m *Metrics) RecordHandshakeFailure(cause string) {
	if m == nil {
		return
	}
	m.HandshakeFailures.WithLabelValues(cause).Inc()
}

// RecordJoin records an accepted CREATE.
func (m *Metrics) RecordJoin() {
	if m == nil {
		return
	}
	m.JoinedCircuits.Inc()
}

// RecordAdmissionRejection records a refused CREATE.
func (m *Metrics) RecordAdmissionRejection(cause string) {
	if m == nil {
		return
	}
	m.AdmissionRejections.WithLabelValues(cause).Inc()
}

// RecordCellRelayed records a forwarded cell.
func (m *Metrics) RecordCellRelayed() {
	if m == nil {
		return
	}
	m.CellsRelayed.Inc()
}

// RecordCellDropped records an inbound cell that was not processed.
func (m *Metrics) RecordCellDropped(cause string) {
	if m == nil {
		return
	}
	m.CellsDropped.WithLabelValues(cause).Inc()
}

// RecordBytesSent adds n sent bytes for role.
func (m *Metrics) RecordBytesSent(role string, n int) {
	if m == nil {
		return
	}
	m.BytesSent.WithLabelValues(role).Add(float64(n))
}

// RecordBytesReceived adds n received bytes for role.
func (m *Metrics) RecordBytesReceived(role string, n int) {
	if m == nil {
		return
	}
	m.BytesReceived.WithLabelValues(role).Add(float64(n))
}
