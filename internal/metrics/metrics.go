// Package metrics defines the Prometheus collectors exported by the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "board"

// Broadcast classes used as the "class" label. Client-chosen message types
// are folded into ClassCustom to keep label cardinality fixed.
const (
	ClassChat   = "chat"
	ClassSystem = "system"
	ClassCustom = "custom"
)

// Metrics groups the relay's collectors.
type Metrics struct {
	Sessions       prometheus.Gauge
	Members        prometheus.Gauge
	InboundFrames  *prometheus.CounterVec
	InvalidFrames  prometheus.Counter
	Broadcasts     *prometheus.CounterVec
	SendFailures   prometheus.Counter
	JoinRejections prometheus.Counter
	CanvasRequests prometheus.Counter
	CanvasRelays   prometheus.Counter
	CanvasTimeouts prometheus.Counter
	CanvasBytes    prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Connected sessions, named or not.",
		}),
		Members: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "members",
			Help:      "Sessions that completed their join.",
		}),
		InboundFrames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_frames_total",
			Help:      "Frames received from clients by frame kind.",
		}, []string{"frame"}),
		InvalidFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_frames_total",
			Help:      "Text frames rejected as malformed.",
		}),
		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Envelopes broadcast by class.",
		}, []string{"class"}),
		SendFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Writes to a single client that failed.",
		}),
		JoinRejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_rejections_total",
			Help:      "Joins refused because no color was available.",
		}),
		CanvasRequests: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "canvas_requests_total",
			Help:      "Canvas snapshots requested from existing sessions.",
		}),
		CanvasRelays: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "canvas_relays_total",
			Help:      "Canvas snapshots relayed to waiting sessions.",
		}),
		CanvasTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "canvas_timeouts_total",
			Help:      "Canvas handshakes abandoned after the timeout.",
		}),
		CanvasBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "canvas_bytes_total",
			Help:      "Snapshot bytes written to waiting sessions.",
		}),
	}
}
