// Package metrics provides the Prometheus collectors of the danmaku service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection outcomes.
const (
	OutcomeConnected = "connected"
	OutcomeDialError = "dial_error"
	OutcomeFailed    = "failed"
	OutcomeStopped   = "stopped"
)

var (
	once sync.Once

	Events          *prometheus.CounterVec
	Frames          *prometheus.CounterVec
	DecodeErrors    *prometheus.CounterVec
	Connections     *prometheus.CounterVec
	ActiveListeners prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		Events = promauto.NewCounterVec(prometheus.CounterOpts{Name: "danmaku_events_total", Help: "Normalized events delivered to the sink"}, []string{"platform", "kind"})
		Frames = promauto.NewCounterVec(prometheus.CounterOpts{Name: "danmaku_frames_total", Help: "WebSocket messages received"}, []string{"platform"})
		DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "danmaku_decode_errors_total", Help: "Frames that failed to decode"}, []string{"platform"})
		Connections = promauto.NewCounterVec(prometheus.CounterOpts{Name: "danmaku_connections_total", Help: "Listener connection attempts by outcome"}, []string{"platform", "outcome"})
		ActiveListeners = promauto.NewGauge(prometheus.GaugeOpts{Name: "danmaku_active_listeners", Help: "Listeners currently registered"})
	})
}

// EventDelivered counts one event handed to the sink.
func EventDelivered(platform, kind string) {
	if Events != nil {
		Events.WithLabelValues(platform, kind).Inc()
	}
}

// FrameReceived counts one inbound WebSocket message.
func FrameReceived(platform string) {
	if Frames != nil {
		Frames.WithLabelValues(platform).Inc()
	}
}

// DecodeFailed counts one undecodable frame.
func DecodeFailed(platform string) {
	if DecodeErrors != nil {
		DecodeErrors.WithLabelValues(platform).Inc()
	}
}

// ConnectionOutcome counts a listener lifecycle outcome.
func ConnectionOutcome(platform, outcome string) {
	if Connections != nil {
		Connections.WithLabelValues(platform, outcome).Inc()
	}
}

// ListenerStarted and ListenerStopped track the active listener gauge.
func ListenerStarted() {
	if ActiveListeners != nil {
		ActiveListeners.Inc()
	}
}

func ListenerStopped() {
	if ActiveListeners != nil {
		ActiveListeners.Dec()
	}
}
