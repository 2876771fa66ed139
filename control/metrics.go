// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for shards. Each shard resolves its label set once
// and then only touches pre-bound counters on the hot path.

package control

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "uringws"

// Metrics owns the collectors shared by all shards of a process.
type Metrics struct {
	handshakes     *prometheus.CounterVec
	frames         *prometheus.CounterVec
	protocolErrors *prometheus.CounterVec
	completions    *prometheus.CounterVec
	stale          *prometheus.CounterVec
	bytesIn        *prometheus.CounterVec
	bytesOut       *prometheus.CounterVec
	active         *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "handshakes_total",
			Help: "Upgrade handshakes by outcome.",
		}, []string{"shard", "result"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_total",
			Help: "Decoded inbound frames by opcode.",
		}, []string{"shard", "opcode"}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "protocol_errors_total",
			Help: "Connections failed by handshake or frame errors.",
		}, []string{"shard", "code"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "completions_total",
			Help: "Completions reaped by operation kind.",
		}, []string{"shard", "op"}),
		stale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stale_completions_total",
			Help: "Completions dropped because their generation no longer matches the slot.",
		}, []string{"shard", "op"}),
		bytesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "received_bytes_total",
			Help: "Bytes read from sockets.",
		}, []string{"shard"}),
		bytesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sent_bytes_total",
			Help: "Bytes written to sockets.",
		}, []string{"shard"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections",
			Help: "Open connections.",
		}, []string{"shard"}),
	}
	if reg != nil {
		reg.MustRegister(m.handshakes, m.frames, m.protocolErrors,
			m.completions, m.stale, m.bytesIn, m.bytesOut, m.active)
	}
	return m
}

// ShardMetrics is the label-bound view used by one shard.
type ShardMetrics struct {
	HandshakesOK       prometheus.Counter
	HandshakesRejected prometheus.Counter
	BytesIn            prometheus.Counter
	BytesOut           prometheus.Counter
	Connections        prometheus.Gauge

	frames         *prometheus.CounterVec
	protocolErrors *prometheus.CounterVec
	completions    *prometheus.CounterVec
	stale          *prometheus.CounterVec
}

// ForShard binds the shard label.
func (m *Metrics) ForShard(id uint8) *ShardMetrics {
	labels := prometheus.Labels{"shard": strconv.Itoa(int(id))}
	return &ShardMetrics{
		HandshakesOK:       m.handshakes.With(prometheus.Labels{"shard": labels["shard"], "result": "ok"}),
		HandshakesRejected: m.handshakes.With(prometheus.Labels{"shard": labels["shard"], "result": "rejected"}),
		BytesIn:            m.bytesIn.With(labels),
		BytesOut:           m.bytesOut.With(labels),
		Connections:        m.active.With(labels),
		frames:             m.frames.MustCurryWith(labels),
		protocolErrors:     m.protocolErrors.MustCurryWith(labels),
		completions:        m.completions.MustCurryWith(labels),
		stale:              m.stale.MustCurryWith(labels),
	}
}

// Frame counts one decoded frame.
func (s *ShardMetrics) Frame(opcode string) {
	s.frames.WithLabelValues(opcode).Inc()
}

// ProtocolError counts one connection failure by error code.
func (s *ShardMetrics) ProtocolError(code string) {
	s.protocolErrors.WithLabelValues(code).Inc()
}

// Completion counts one reaped completion.
func (s *ShardMetrics) Completion(op string) {
	s.completions.WithLabelValues(op).Inc()
}

// Stale counts one dropped stale completion.
func (s *ShardMetrics) Stale(op string) {
	s.stale.WithLabelValues(op).Inc()
}
