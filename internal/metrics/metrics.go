// Package metrics exposes Prometheus collectors for the signaling service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "peerdoc"

// Drop and rejection reasons used as label values.
const (
	DropPeerNotFound = "peer_not_found"
	DropQueueFull    = "queue_full"
	DropClosed       = "closed"
	DropRateLimited  = "rate_limited"
)

// MessageUnknown labels every inbound message type the server does not handle.
const MessageUnknown = "unknown"

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connections   prometheus.Gauge
	rooms         prometheus.Gauge
	peers         prometheus.Gauge
	messages      *prometheus.CounterVec
	protocolErrs  prometheus.Counter
	dropped       *prometheus.CounterVec
	joins         prometheus.Counter
	rejections    *prometheus.CounterVec
	evictions     prometheus.Counter
	linksIssued   *prometheus.CounterVec
	linksRevoked  prometheus.Counter
	eventsDropped prometheus.Counter
}

// New registers every collector on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections",
			Help: "Open signaling connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms",
			Help: "Non-empty document rooms.",
		}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "peers",
			Help: "Registered peer sessions.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_total",
			Help: "Inbound signaling messages by type.",
		}, []string{"type"}),
		protocolErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "protocol_errors_total",
			Help: "Inbound frames rejected as malformed.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_dropped_total",
			Help: "Outbound messages that were not delivered.",
		}, []string{"reason"}),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "joins_total",
			Help: "Accepted document joins.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "join_rejections_total",
			Help: "Rejected document joins by reason.",
		}, []string{"reason"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "evictions_total",
			Help: "Peers evicted for missing heartbeats.",
		}),
		linksIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "links_issued_total",
			Help: "Capability links issued by kind.",
		}, []string{"kind"}),
		linksRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "links_revoked_total",
			Help: "Capability links revoked.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_dropped_total",
			Help: "Session events that could not be published.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections, m.rooms, m.peers, m.messages, m.protocolErrs, m.dropped,
		m.joins, m.rejections, m.evictions, m.linksIssued, m.linksRevoked, m.eventsDropped,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

// SetOccupancy records the current room and peer counts.
func (m *Metrics) SetOccupancy(rooms, peers int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(rooms))
	m.peers.Set(float64(peers))
}

func (m *Metrics) Message(kind string) {
	if m != nil {
		m.messages.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ProtocolError() {
	if m != nil {
		m.protocolErrs.Inc()
	}
}

func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Joined() {
	if m != nil {
		m.joins.Inc()
	}
}

func (m *Metrics) JoinRejected(reason string) {
	if m != nil {
		m.rejections.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Evicted(n int) {
	if m != nil && n > 0 {
		m.evictions.Add(float64(n))
	}
}

func (m *Metrics) LinkIssued(kind string) {
	if m != nil {
		m.linksIssued.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) LinkRevoked() {
	if m != nil {
		m.linksRevoked.Inc()
	}
}

func (m *Metrics) EventDropped() {
	if m != nil {
		m.eventsDropped.Inc()
	}
}
