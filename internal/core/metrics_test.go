package core

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ResponseTriggered()
	m.ResponseTriggered()
	m.ThreatBlocked()
	m.EmergencyActivated()

	snap := m.Snapshot()
	if snap.ResponsesTriggered != 2 {
		t.Errorf("responses triggered = %d, want 2", snap.ResponsesTriggered)
	}
	if snap.ThreatsBlocked != 1 {
		t.Errorf("threats blocked = %d, want 1", snap.ThreatsBlocked)
	}
	if snap.EmergencyActivations != 1 {
		t.Errorf("emergency activations = %d, want 1", snap.EmergencyActivations)
	}
	if snap.LastResponseAt.IsZero() {
		t.Error("last response timestamp not set")
	}
}

func TestMetrics_FreshSnapshot(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	snap := m.Snapshot()
	if snap.ResponsesTriggered != 0 || snap.ThreatsBlocked != 0 || snap.EmergencyActivations != 0 {
		t.Errorf("fresh metrics should be zero, got %+v", snap)
	}
	if !snap.LastResponseAt.IsZero() {
		t.Error("fresh metrics should have zero last response timestamp")
	}
}
