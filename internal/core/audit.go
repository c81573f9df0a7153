package core

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/gridward-project/gridward/internal/store"
)

// AuditPublisher pushes terminal audit records onto the event bus.
type AuditPublisher interface {
	PublishAuditRecord(rec *store.AuditRecord) error
}

// StoreAuditSink persists every terminal execution and mirrors it onto the
// audit stream. The write is an upsert, so re-recording after a
// TIMEOUT-vs-late-result race is harmless.
type StoreAuditSink struct {
	store  *store.Store
	bus    AuditPublisher
	logger zerolog.Logger
}

// NewStoreAuditSink creates the standard audit sink. bus may be nil.
func NewStoreAuditSink(st *store.Store, bus AuditPublisher, logger zerolog.Logger) *StoreAuditSink {
	return &StoreAuditSink{
		store:  st,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// AttachBus wires the audit stream publisher once the bus is up. Call before
// event processing starts.
func (s *StoreAuditSink) AttachBus(bus AuditPublisher) {
	s.bus = bus
}

// Record writes the audit row and publishes it. Audit failures are logged,
// never propagated: the response path must not depend on the audit path.
func (s *StoreAuditSink) Record(exec ResponseExecution) {
	details := exec.Outcome
	if exec.Error != "" {
		d, _ := json.Marshal(map[string]string{"outcome": exec.Outcome, "error": exec.Error})
		details = string(d)
	}
	rec := &store.AuditRecord{
		ResponseID: exec.ID,
		ThreatID:   exec.ThreatID,
		ActionName: exec.ActionName,
		Status:     string(exec.Status),
		StartedAt:  exec.StartedAt,
		EndedAt:    exec.EndedAt,
		Details:    details,
	}
	if s.store != nil {
		if err := s.store.UpsertAudit(rec); err != nil {
			s.logger.Error().Err(err).Str("response_id", exec.ID).Msg("audit persist failed")
		}
	}
	if s.bus != nil {
		if err := s.bus.PublishAuditRecord(rec); err != nil {
			s.logger.Warn().Err(err).Str("response_id", exec.ID).Msg("audit publish failed")
		}
	}
}
