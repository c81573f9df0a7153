package core

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks process-wide response counters. Monotonic; reset only on
// process restart. Mirrored into Prometheus for scraping, with an internal
// snapshot kept for the JSON status API.
type Metrics struct {
	mu                   sync.Mutex
	responsesTriggered   int64
	threatsBlocked       int64
	emergencyActivations int64
	lastResponseAt       time.Time

	promTriggered  prometheus.Counter
	promBlocked    prometheus.Counter
	promEmergency  prometheus.Counter
	promExecutions prometheus.Gauge
}

// MetricsSnapshot is a point-in-time copy for the status API.
type MetricsSnapshot struct {
	ResponsesTriggered   int64     `json:"responses_triggered"`
	ThreatsBlocked       int64     `json:"threats_blocked"`
	EmergencyActivations int64     `json:"emergency_activations"`
	LastResponseAt       time.Time `json:"last_response_at"`
}

// NewMetrics creates the counter set, registering the Prometheus collectors
// with reg (pass prometheus.NewRegistry() in tests to avoid collisions).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		promTriggered: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridward_responses_triggered_total",
			Help: "Total response action dispatches that began executing.",
		}),
		promBlocked: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridward_threats_blocked_total",
			Help: "Total response actions that completed successfully.",
		}),
		promEmergency: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridward_emergency_activations_total",
			Help: "Total emergency escalation activations.",
		}),
		promExecutions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gridward_active_executions",
			Help: "Response executions currently pending or executing.",
		}),
	}
}

// ResponseTriggered records a dispatch that began executing.
func (m *Metrics) ResponseTriggered() {
	m.mu.Lock()
	m.responsesTriggered++
	m.lastResponseAt = time.Now().UTC()
	m.mu.Unlock()
	m.promTriggered.Inc()
}

// ThreatBlocked records a successfully completed response action.
func (m *Metrics) ThreatBlocked() {
	m.mu.Lock()
	m.threatsBlocked++
	m.mu.Unlock()
	m.promBlocked.Inc()
}

// EmergencyActivated records one emergency escalation trigger.
func (m *Metrics) EmergencyActivated() {
	m.mu.Lock()
	m.emergencyActivations++
	m.mu.Unlock()
	m.promEmergency.Inc()
}

// SetActiveExecutions updates the active-execution gauge.
func (m *Metrics) SetActiveExecutions(n int) {
	m.promExecutions.Set(float64(n))
}

// Snapshot returns a copy of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		ResponsesTriggered:   m.responsesTriggered,
		ThreatsBlocked:       m.threatsBlocked,
		EmergencyActivations: m.emergencyActivations,
		LastResponseAt:       m.lastResponseAt,
	}
}
