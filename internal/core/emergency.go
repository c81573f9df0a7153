package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// emergency.go — process-wide emergency mode.
//
// While active, the manual-approval gate is bypassed for every dispatch.
// The engine never clears the flag itself: deactivation is an explicit
// administrative action through the API. Transitions are kept in a bounded
// log so operators can reconstruct when and why the mode changed.
// ---------------------------------------------------------------------------

// EmergencyTransition records one activation or clear.
type EmergencyTransition struct {
	Active     bool      `json:"active"`
	ThreatID   string    `json:"threat_id,omitempty"`
	ThreatType string    `json:"threat_type,omitempty"`
	ClearedBy  string    `json:"cleared_by,omitempty"`
	At         time.Time `json:"at"`
}

// EmergencyState is the single writer for the emergency-mode flag.
type EmergencyState struct {
	mu          sync.Mutex
	logger      zerolog.Logger
	active      bool
	activatedAt time.Time
	transitions []EmergencyTransition
}

const maxEmergencyTransitions = 256

// NewEmergencyState creates an inactive emergency state.
func NewEmergencyState(logger zerolog.Logger) *EmergencyState {
	return &EmergencyState{
		logger: logger.With().Str("component", "emergency_state").Logger(),
	}
}

// Activate sets emergency mode for a triggering threat. Re-activation while
// already active is recorded but does not change the flag.
func (es *EmergencyState) Activate(event *ThreatEvent) {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.active {
		es.active = true
		es.activatedAt = time.Now().UTC()
	}
	es.record(EmergencyTransition{
		Active:     true,
		ThreatID:   event.ID,
		ThreatType: string(event.Type),
		At:         time.Now().UTC(),
	})
	es.logger.Error().
		Str("threat_id", event.ID).
		Str("threat_type", string(event.Type)).
		Msg("EMERGENCY MODE ACTIVE — manual approval gate bypassed")
}

// Clear deactivates emergency mode. Administrative action only; returns
// false if the mode was not active.
func (es *EmergencyState) Clear(clearedBy string) bool {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.active {
		return false
	}
	es.active = false
	es.record(EmergencyTransition{
		Active:    false,
		ClearedBy: clearedBy,
		At:        time.Now().UTC(),
	})
	es.logger.Warn().Str("cleared_by", clearedBy).Msg("emergency mode cleared")
	return true
}

// Active reports whether emergency mode is set.
func (es *EmergencyState) Active() bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.active
}

// Transitions returns the recorded mode changes, oldest first.
func (es *EmergencyState) Transitions() []EmergencyTransition {
	es.mu.Lock()
	defer es.mu.Unlock()
	out := make([]EmergencyTransition, len(es.transitions))
	copy(out, es.transitions)
	return out
}

// Status returns a summary for the API.
func (es *EmergencyState) Status() map[string]interface{} {
	es.mu.Lock()
	defer es.mu.Unlock()
	status := map[string]interface{}{
		"active":      es.active,
		"transitions": len(es.transitions),
	}
	if es.active {
		status["activated_at"] = es.activatedAt
	}
	return status
}

// record appends to the transition log, dropping the oldest entries when full.
// Caller holds es.mu.
func (es *EmergencyState) record(t EmergencyTransition) {
	if len(es.transitions) >= maxEmergencyTransitions {
		es.transitions = es.transitions[1:]
	}
	es.transitions = append(es.transitions, t)
}
