// Package metrics exposes Prometheus instrumentation for the voice session
// engine. All methods are nil-safe so instrumentation stays optional.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice bridge.
type Metrics struct {
	SessionsActive      prometheus.Gauge
	SessionFailures     prometheus.Counter
	GenerationsStarted  prometheus.Counter
	AudioFramesSent     prometheus.Counter
	AudioFramesReceived prometheus.Counter
	ToolInvocations     *prometheus.CounterVec
}

// New creates and registers all metrics on reg. Pass nil to use the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicebridge_sessions_active",
			Help: "Number of live voice sessions",
		}),
		SessionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_session_failures_total",
			Help: "Total sessions ended by a transport fault",
		}),
		GenerationsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_generations_total",
			Help: "Total agent generations started",
		}),
		AudioFramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_audio_frames_sent_total",
			Help: "Total caller audio frames sent to the backend",
		}),
		AudioFramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_audio_frames_received_total",
			Help: "Total agent audio frames received from the backend",
		}),
		ToolInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_tool_invocations_total",
			Help: "Total tool invocations by outcome",
		}, []string{"outcome"}),
	}
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// SessionEnded decrements the active session gauge.
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// SessionFailed counts a transport fault.
func (m *Metrics) SessionFailed() {
	if m == nil {
		return
	}
	m.SessionFailures.Inc()
}

// GenerationStarted counts a new agent generation.
func (m *Metrics) GenerationStarted() {
	if m == nil {
		return
	}
	m.GenerationsStarted.Inc()
}

// FrameSent counts one outbound audio frame.
func (m *Metrics) FrameSent() {
	if m == nil {
		return
	}
	m.AudioFramesSent.Inc()
}

// FrameReceived counts one inbound audio frame.
func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}
	m.AudioFramesReceived.Inc()
}

// ToolInvoked counts a tool invocation outcome ("ok" or "error").
func (m *Metrics) ToolInvoked(outcome string) {
	if m == nil {
		return
	}
	m.ToolInvocations.WithLabelValues(outcome).Inc()
}
