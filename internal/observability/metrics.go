package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the assistant.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ConversationActive   prometheus.Gauge
	StateTransitions     *prometheus.CounterVec
	WakeWordDetections   prometheus.Counter
	CaptureOutcomes      *prometheus.CounterVec
	Turns                *prometheus.CounterVec
	BackendErrors        *prometheus.CounterVec
	WSMessages           *prometheus.CounterVec
	FirstFragmentLatency prometheus.Histogram
	InvariantViolations  *prometheus.CounterVec

	turnStages *turnStageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ConversationActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversation_active",
			Help:      "1 while a conversation loop is running.",
		}),
		StateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Conversation state transitions by source and target state.",
		}, []string{"from", "to"}),
		WakeWordDetections: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wake_word_detections_total",
			Help:      "Utterances that contained the activation name.",
		}),
		CaptureOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_capture_total",
			Help:      "Command capture attempts by outcome.",
		}, []string{"outcome"}),
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns appended by role.",
		}, []string{"role"}),
		BackendErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Language-model backend errors by backend.",
		}, []string{"backend"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Chat window WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		FirstFragmentLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_fragment_latency_ms",
			Help:      "Latency from captured command to first reply fragment in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 4000},
		}),
		InvariantViolations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Coordination bugs detected at runtime, by kind.",
		}, []string{"kind"}),
		turnStages: newTurnStageWindow(256),
	}
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
	switch to {
	case "idle":
		m.ConversationActive.Set(0)
	default:
		m.ConversationActive.Set(1)
	}
}

func (m *Metrics) ObserveWakeWord() {
	if m == nil {
		return
	}
	m.WakeWordDetections.Inc()
}

func (m *Metrics) ObserveCapture(outcome string) {
	if m == nil {
		return
	}
	m.CaptureOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTurn(role string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(role).Inc()
}

func (m *Metrics) ObserveBackendError(backend string) {
	if m == nil {
		return
	}
	m.BackendErrors.WithLabelValues(backend).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveInvariantViolation(kind string) {
	if m == nil {
		return
	}
	m.InvariantViolations.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveFirstFragmentLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstFragmentLatency.Observe(float64(d.Milliseconds()))
	m.turnStages.Observe("command_to_first_fragment", d)
}

// ObserveStage records one pipeline stage duration in the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.turnStages.Observe(stage, d)
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.turnStages.ObserveIndicator(name)
}

func (m *Metrics) SnapshotTurnStages() TurnStageSnapshot {
	if m == nil {
		return newTurnStageWindow(1).Snapshot()
	}
	return m.turnStages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
