package core

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestEmergencyState_InitiallyInactive(t *testing.T) {
	es := NewEmergencyState(zerolog.Nop())
	if es.Active() {
		t.Error("new emergency state should be inactive")
	}
}

func TestEmergencyState_ActivateAndClear(t *testing.T) {
	es := NewEmergencyState(zerolog.Nop())
	event := NewThreatEvent(ThreatUnauthorizedControl, SeverityCritical)

	es.Activate(event)
	if !es.Active() {
		t.Fatal("emergency should be active after Activate")
	}

	if !es.Clear("shift-lead") {
		t.Error("clearing an active emergency should report true")
	}
	if es.Active() {
		t.Error("emergency should be inactive after Clear")
	}
}

func TestEmergencyState_ClearWhenInactive(t *testing.T) {
	es := NewEmergencyState(zerolog.Nop())
	if es.Clear("shift-lead") {
		t.Error("clearing an inactive emergency should report false")
	}
}

func TestEmergencyState_TransitionsRecorded(t *testing.T) {
	es := NewEmergencyState(zerolog.Nop())
	event := NewThreatEvent(ThreatManInTheMiddle, SeverityCritical)

	es.Activate(event)
	es.Clear("shift-lead")
	es.Activate(event)

	transitions := es.Transitions()
	if len(transitions) != 3 {
		t.Fatalf("got %d transitions, want 3", len(transitions))
	}
}

func TestEmergencyState_RepeatedActivation_StaysActive(t *testing.T) {
	es := NewEmergencyState(zerolog.Nop())
	event := NewThreatEvent(ThreatUnauthorizedControl, SeverityCritical)
	es.Activate(event)
	es.Activate(event)
	if !es.Active() {
		t.Error("repeated activation should leave emergency active")
	}
}
