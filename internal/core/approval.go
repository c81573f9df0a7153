package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// approval.go — manual approval queue for actions not flagged auto-execute.
//
// Destructive actions (device resets, account locks) wait here for a human
// decision unless emergency mode is active. Pending entries expire after a
// TTL; expiry and rejection both close the underlying execution as failed so
// nothing stays PENDING forever.
// ---------------------------------------------------------------------------

// Approval statuses.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
	ApprovalExpired  = "expired"
)

// PendingApproval is an action held for a human decision.
type PendingApproval struct {
	ID          string       `json:"id"`
	ExecutionID string       `json:"execution_id"`
	ActionName  string       `json:"action_name"`
	Event       *ThreatEvent `json:"event"`
	CreatedAt   time.Time    `json:"created_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
	Status      string       `json:"status"`
	DecidedBy   string       `json:"decided_by,omitempty"`
	DecidedAt   *time.Time   `json:"decided_at,omitempty"`
}

// ApprovalQueue holds actions pending human approval.
type ApprovalQueue struct {
	mu         sync.Mutex
	logger     zerolog.Logger
	ttl        time.Duration
	maxPending int
	pending    map[string]*PendingApproval
	history    []*PendingApproval
	onApproved func(pa *PendingApproval)
	onClosed   func(pa *PendingApproval)
	persist    func(pa *PendingApproval)
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewApprovalQueue creates an approval queue and starts its expiry loop.
// onApproved runs the held action; onClosed is invoked for rejections and
// expiries; persist (optional) records every decision externally.
func NewApprovalQueue(logger zerolog.Logger, ttl time.Duration, maxPending int) *ApprovalQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &ApprovalQueue{
		logger:     logger.With().Str("component", "approval_queue").Logger(),
		ttl:        ttl,
		maxPending: maxPending,
		pending:    make(map[string]*PendingApproval),
		history:    make([]*PendingApproval, 0, 64),
		ctx:        ctx,
		cancel:     cancel,
	}
	go q.expiryLoop()
	return q
}

// OnApproved registers the callback that executes an approved action.
func (q *ApprovalQueue) OnApproved(fn func(pa *PendingApproval)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onApproved = fn
}

// OnClosed registers the callback for rejected or expired entries.
func (q *ApprovalQueue) OnClosed(fn func(pa *PendingApproval)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onClosed = fn
}

// SetPersistFunc registers a hook invoked for every decision (including
// submission), used to mirror the queue into the persistent store.
func (q *ApprovalQueue) SetPersistFunc(fn func(pa *PendingApproval)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.persist = fn
}

// Submit holds an action for approval and returns the approval id.
func (q *ApprovalQueue) Submit(event *ThreatEvent, actionName, executionID string) string {
	q.mu.Lock()

	if len(q.pending) >= q.maxPending {
		q.logger.Warn().Msg("approval queue at capacity — expiring oldest entry")
		q.expireOldestLocked()
	}

	pa := &PendingApproval{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		ActionName:  actionName,
		Event:       event,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   time.Now().UTC().Add(q.ttl),
		Status:      ApprovalPending,
	}
	q.pending[pa.ID] = pa
	persist := q.persist
	q.mu.Unlock()

	q.logger.Warn().
		Str("approval_id", pa.ID).
		Str("threat_id", event.ID).
		Str("action", actionName).
		Time("expires_at", pa.ExpiresAt).
		Msg("action held for manual approval")

	if persist != nil {
		persist(pa)
	}
	return pa.ID
}

// Approve approves a pending entry and triggers execution of the held action.
func (q *ApprovalQueue) Approve(id, decidedBy string) (*PendingApproval, error) {
	pa, cb, persist, err := q.decide(id, decidedBy, ApprovalApproved)
	if err != nil {
		return nil, err
	}
	q.logger.Info().
		Str("approval_id", id).
		Str("action", pa.ActionName).
		Str("decided_by", decidedBy).
		Msg("action approved — executing")
	if persist != nil {
		persist(pa)
	}
	if cb != nil {
		cb(pa)
	}
	return pa, nil
}

// Reject rejects a pending entry.
func (q *ApprovalQueue) Reject(id, decidedBy string) (*PendingApproval, error) {
	pa, cb, persist, err := q.decide(id, decidedBy, ApprovalRejected)
	if err != nil {
		return nil, err
	}
	q.logger.Info().
		Str("approval_id", id).
		Str("action", pa.ActionName).
		Str("decided_by", decidedBy).
		Msg("action rejected")
	if persist != nil {
		persist(pa)
	}
	if cb != nil {
		cb(pa)
	}
	return pa, nil
}

// decide moves a pending entry to a terminal status and returns the matching
// callback without holding the lock during its invocation.
func (q *ApprovalQueue) decide(id, decidedBy, status string) (*PendingApproval, func(*PendingApproval), func(*PendingApproval), error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pa, ok := q.pending[id]
	if !ok {
		return nil, nil, nil, fmt.Errorf("pending approval %s not found", id)
	}
	if pa.Status != ApprovalPending {
		return nil, nil, nil, fmt.Errorf("approval %s already %s", id, pa.Status)
	}

	now := time.Now().UTC()
	pa.Status = status
	pa.DecidedBy = decidedBy
	pa.DecidedAt = &now
	delete(q.pending, id)
	q.history = append(q.history, pa)

	if status == ApprovalApproved {
		return pa, q.onApproved, q.persist, nil
	}
	return pa, q.onClosed, q.persist, nil
}

// Pending returns all entries awaiting a decision.
func (q *ApprovalQueue) Pending() []*PendingApproval {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*PendingApproval, 0, len(q.pending))
	for _, pa := range q.pending {
		out = append(out, pa)
	}
	return out
}

// History returns the most recent decisions, up to limit.
func (q *ApprovalQueue) History(limit int) []*PendingApproval {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit <= 0 || limit > len(q.history) {
		limit = len(q.history)
	}
	start := len(q.history) - limit
	out := make([]*PendingApproval, 0, limit)
	for i := start; i < len(q.history); i++ {
		out = append(out, q.history[i])
	}
	return out
}

// Stats returns queue statistics.
func (q *ApprovalQueue) Stats() map[string]interface{} {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := map[string]int{}
	for _, pa := range q.history {
		counts[pa.Status]++
	}
	return map[string]interface{}{
		"pending_count":  len(q.pending),
		"max_pending":    q.maxPending,
		"ttl_seconds":    q.ttl.Seconds(),
		"total_approved": counts[ApprovalApproved],
		"total_rejected": counts[ApprovalRejected],
		"total_expired":  counts[ApprovalExpired],
	}
}

// Stop shuts down the expiry loop.
func (q *ApprovalQueue) Stop() {
	q.cancel()
}

// expireOldestLocked expires the oldest pending entry. Caller holds q.mu.
func (q *ApprovalQueue) expireOldestLocked() {
	var oldest *PendingApproval
	for _, pa := range q.pending {
		if oldest == nil || pa.CreatedAt.Before(oldest.CreatedAt) {
			oldest = pa
		}
	}
	if oldest == nil {
		return
	}
	now := time.Now().UTC()
	oldest.Status = ApprovalExpired
	oldest.DecidedAt = &now
	delete(q.pending, oldest.ID)
	q.history = append(q.history, oldest)
	if q.onClosed != nil {
		go q.onClosed(oldest)
	}
	if q.persist != nil {
		go q.persist(oldest)
	}
}

func (q *ApprovalQueue) expiryLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.sweepExpired()
		}
	}
}

func (q *ApprovalQueue) sweepExpired() {
	now := time.Now().UTC()
	var expired []*PendingApproval

	q.mu.Lock()
	for id, pa := range q.pending {
		if now.After(pa.ExpiresAt) {
			pa.Status = ApprovalExpired
			t := now
			pa.DecidedAt = &t
			delete(q.pending, id)
			q.history = append(q.history, pa)
			expired = append(expired, pa)
		}
	}
	onClosed := q.onClosed
	persist := q.persist
	q.mu.Unlock()

	for _, pa := range expired {
		q.logger.Warn().
			Str("approval_id", pa.ID).
			Str("action", pa.ActionName).
			Msg("pending approval expired")
		if persist != nil {
			persist(pa)
		}
		if onClosed != nil {
			onClosed(pa)
		}
	}
}
