// Package metrics exports driver health as Prometheus collectors.
//
// A nil *Collector is valid and records nothing, so components can take
// one unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "voxcore"

// Collector holds the driver's Prometheus metrics.
type Collector struct {
	ticks           prometheus.Counter
	tickDuration    prometheus.Histogram
	overruns        prometheus.Counter
	activeTracks    prometheus.Gauge
	packetsSent     prometheus.Counter
	packetsDropped  *prometheus.CounterVec
	packetsReceived *prometheus.CounterVec
	decryptFailures prometheus.Counter
	sessionState    prometheus.Gauge
	transitions     *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
	heartbeatRTT    prometheus.Histogram
	eventsDropped   prometheus.Counter
}

// New registers the driver metrics on reg. Use prometheus.NewRegistry()
// to keep several drivers in one process apart.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)

	return &Collector{
		ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "mixer",
			Name:      "ticks_total",
			Help:      "Mixer cycles run",
		}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "mixer",
			Name:      "tick_duration_seconds",
			Help:      "Time spent mixing, encoding and sending one frame",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.02, 0.05},
		}),
		overruns: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "mixer",
			Name:      "overruns_total",
			Help:      "Mixer cycles that finished after their deadline",
		}),
		activeTracks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "mixer",
			Name:      "tracks",
			Help:      "Tracks owned by the mixer",
		}),
		packetsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "transport",
			Name:      "packets_sent_total",
			Help:      "Voice packets written to the socket",
		}),
		packetsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "transport",
			Name:      "packets_dropped_total",
			Help:      "Packets discarded, by reason",
		}, []string{"reason"}),
		packetsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "transport",
			Name:      "packets_received_total",
			Help:      "Authenticated inbound packets, by kind",
		}, []string{"kind"}),
		decryptFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "transport",
			Name:      "decrypt_failures_total",
			Help:      "Inbound packets whose authenticator did not verify",
		}),
		sessionState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "connection",
			Name:      "state",
			Help:      "Current session state (0 disconnected, 1 discovering, 2 handshaking, 3 connected, 4 reconnecting)",
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "connection",
			Name:      "state_transitions_total",
			Help:      "Session state transitions",
		}, []string{"from_state", "to_state"}),
		reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "connection",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts, by method and outcome",
		}, []string{"method", "outcome"}),
		heartbeatRTT: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "connection",
			Name:      "heartbeat_rtt_seconds",
			Help:      "Time between a heartbeat and its acknowledgement",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		eventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events discarded because a queue was full",
		}),
	}
}

// ObserveTick records one mixer cycle.
func (c *Collector) ObserveTick(d time.Duration, tracks int) {
	if c == nil {
		return
	}
	c.ticks.Inc()
	c.tickDuration.Observe(d.Seconds())
	c.activeTracks.Set(float64(tracks))
}

// Overrun records a missed mixer deadline.
func (c *Collector) Overrun() {
	if c == nil {
		return
	}
	c.overruns.Inc()
}

// PacketSent records an outbound voice packet.
func (c *Collector) PacketSent() {
	if c == nil {
		return
	}
	c.packetsSent.Inc()
}

// PacketDropped records a discarded packet.
func (c *Collector) PacketDropped(reason string) {
	if c == nil {
		return
	}
	c.packetsDropped.WithLabelValues(reason).Inc()
}

// PacketReceived records an authenticated inbound packet.
func (c *Collector) PacketReceived(kind string) {
	if c == nil {
		return
	}
	c.packetsReceived.WithLabelValues(kind).Inc()
}

// DecryptFailure records an inbound packet that failed authentication.
func (c *Collector) DecryptFailure() {
	if c == nil {
		return
	}
	c.decryptFailures.Inc()
}

// StateChange records a session state transition.
func (c *Collector) StateChange(from, to string, value int) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(from, to).Inc()
	c.sessionState.Set(float64(value))
}

// Reconnect records a resume or full reconnect attempt.
func (c *Collector) Reconnect(method string, ok bool) {
	if c == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	c.reconnects.WithLabelValues(method, outcome).Inc()
}

// HeartbeatRTT records a heartbeat round trip.
func (c *Collector) HeartbeatRTT(d time.Duration) {
	if c == nil {
		return
	}
	c.heartbeatRTT.Observe(d.Seconds())
}

// EventDropped records an event the bus could not queue.
func (c *Collector) EventDropped() {
	if c == nil {
		return
	}
	c.eventsDropped.Inc()
}
