package store

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	glogger "gorm.io/gorm/logger"
)

// ---------------------------------------------------------------------------
// store.go — persistent store for audit records, locked-account state,
// forensic snapshots, and approval decisions. Upsert semantics throughout:
// writes are keyed and idempotent so the engine can safely re-emit a record.
// ---------------------------------------------------------------------------

// AuditRecord is the append-only record written for every response execution
// that reaches a terminal state.
type AuditRecord struct {
	ResponseID string     `gorm:"primaryKey" json:"response_id"`
	ThreatID   string     `gorm:"index" json:"threat_id"`
	ActionName string     `json:"action_name"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Details    string     `json:"details,omitempty"`
}

// LockedAccount records an account locked by the lock-account action.
type LockedAccount struct {
	AccountID string    `gorm:"primaryKey" json:"account_id"`
	ThreatID  string    `json:"threat_id"`
	Reason    string    `json:"reason"`
	LockedAt  time.Time `json:"locked_at"`
}

// ForensicSnapshot preserves the full threat context captured by the
// capture-forensic-snapshot action.
type ForensicSnapshot struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	ThreatID   string    `gorm:"index" json:"threat_id"`
	CapturedAt time.Time `json:"captured_at"`
	Payload    string    `json:"payload"`
}

// ApprovalDecision records the outcome of a manually gated action.
type ApprovalDecision struct {
	ID         string     `gorm:"primaryKey" json:"id"`
	ThreatID   string     `gorm:"index" json:"threat_id"`
	ActionName string     `json:"action_name"`
	Status     string     `json:"status"`
	DecidedBy  string     `json:"decided_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
}

// Store wraps the SQLite database. All methods are safe for concurrent use;
// gorm serializes access to the single connection.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the store at path and runs migrations.
// Use ":memory:" for an ephemeral store in tests.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: glogger.Default.LogMode(glogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", path, err)
	}
	if err := db.AutoMigrate(&AuditRecord{}, &LockedAccount{}, &ForensicSnapshot{}, &ApprovalDecision{}); err != nil {
		return nil, fmt.Errorf("migrating store schema: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}, nil
}

// UpsertAudit writes or overwrites an audit record by response id.
func (s *Store) UpsertAudit(rec *AuditRecord) error {
	err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("upserting audit record %s: %w", rec.ResponseID, err)
	}
	return nil
}

// RecentAudit returns the most recent audit records, newest first.
func (s *Store) RecentAudit(limit int) ([]AuditRecord, error) {
	var out []AuditRecord
	err := s.db.Order("started_at desc").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}
	return out, nil
}

// AuditForThreat returns all audit records for one threat, oldest first.
func (s *Store) AuditForThreat(threatID string) ([]AuditRecord, error) {
	var out []AuditRecord
	err := s.db.Where("threat_id = ?", threatID).Order("started_at asc").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("querying audit records for threat %s: %w", threatID, err)
	}
	return out, nil
}

// LockAccount upserts a locked-account record.
func (s *Store) LockAccount(acct *LockedAccount) error {
	err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(acct).Error
	if err != nil {
		return fmt.Errorf("locking account %s: %w", acct.AccountID, err)
	}
	return nil
}

// IsAccountLocked reports whether an account is currently locked.
func (s *Store) IsAccountLocked(accountID string) (bool, error) {
	var count int64
	err := s.db.Model(&LockedAccount{}).Where("account_id = ?", accountID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("checking lock state for %s: %w", accountID, err)
	}
	return count > 0, nil
}

// UnlockAccount removes the locked state for an account. Unlocking an
// account that is not locked is a no-op.
func (s *Store) UnlockAccount(accountID string) error {
	err := s.db.Delete(&LockedAccount{}, "account_id = ?", accountID).Error
	if err != nil {
		return fmt.Errorf("unlocking account %s: %w", accountID, err)
	}
	return nil
}

// SaveSnapshot upserts a forensic snapshot.
func (s *Store) SaveSnapshot(snap *ForensicSnapshot) error {
	err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(snap).Error
	if err != nil {
		return fmt.Errorf("saving forensic snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// SnapshotsForThreat returns all snapshots captured for one threat.
func (s *Store) SnapshotsForThreat(threatID string) ([]ForensicSnapshot, error) {
	var out []ForensicSnapshot
	err := s.db.Where("threat_id = ?", threatID).Order("captured_at asc").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("querying snapshots for threat %s: %w", threatID, err)
	}
	return out, nil
}

// UpsertApproval writes or overwrites an approval decision by id.
func (s *Store) UpsertApproval(dec *ApprovalDecision) error {
	err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(dec).Error
	if err != nil {
		return fmt.Errorf("upserting approval decision %s: %w", dec.ID, err)
	}
	return nil
}

// RecentApprovals returns the most recent approval decisions, newest first.
func (s *Store) RecentApprovals(limit int) ([]ApprovalDecision, error) {
	var out []ApprovalDecision
	err := s.db.Order("created_at desc").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("querying approval decisions: %w", err)
	}
	return out, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
