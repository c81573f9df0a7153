package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ExecutionStatus tracks the lifecycle of a response execution.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "PENDING"
	StatusExecuting ExecutionStatus = "EXECUTING"
	StatusCompleted ExecutionStatus = "COMPLETED"
	StatusFailed    ExecutionStatus = "FAILED"
	StatusTimeout   ExecutionStatus = "TIMEOUT"
)

// Terminal reports whether no further transition can occur from s.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimeout
}

// ResponseExecution is the mutable record created per action invocation.
type ResponseExecution struct {
	ID         string          `json:"id"`
	ThreatID   string          `json:"threat_id"`
	ActionName string          `json:"action_name"`
	Status     ExecutionStatus `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	EndedAt    *time.Time      `json:"ended_at,omitempty"`
	Outcome    string          `json:"outcome,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// AuditSink receives every execution that reaches a terminal state.
type AuditSink interface {
	Record(exec ResponseExecution)
}

// OrchestratorConfig bounds the orchestrator's background behavior.
type OrchestratorConfig struct {
	HandlerTimeout  time.Duration // per-call timeout injected into handlers
	ExecutionBound  time.Duration // EXECUTING older than this is forced to TIMEOUT
	SweepInterval   time.Duration
	CleanupInterval time.Duration
	Retention       time.Duration // terminal records older than this are deleted
}

// DefaultOrchestratorConfig returns the standard intervals.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		HandlerTimeout:  30 * time.Second,
		ExecutionBound:  5 * time.Minute,
		SweepInterval:   10 * time.Second,
		CleanupInterval: 5 * time.Minute,
		Retention:       24 * time.Hour,
	}
}

// Orchestrator consumes threat events, consults the policy, executes actions
// through the catalog, and tracks every execution to a terminal state. It
// exclusively owns the execution table; all other components reach it
// through method calls only.
type Orchestrator struct {
	logger    zerolog.Logger
	catalog   *ActionCatalog
	metrics   *Metrics
	emergency *EmergencyState
	approvals *ApprovalQueue
	audit     AuditSink
	cfg       OrchestratorConfig

	mu         sync.RWMutex
	executions map[string]*ResponseExecution
	cancels    map[string]context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator wires the orchestrator and registers itself on the
// approval queue's decision callbacks. audit may be nil.
func NewOrchestrator(logger zerolog.Logger, catalog *ActionCatalog, metrics *Metrics, emergency *EmergencyState, approvals *ApprovalQueue, audit AuditSink, cfg OrchestratorConfig) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		logger:     logger.With().Str("component", "orchestrator").Logger(),
		catalog:    catalog,
		metrics:    metrics,
		emergency:  emergency,
		approvals:  approvals,
		audit:      audit,
		cfg:        cfg,
		executions: make(map[string]*ResponseExecution),
		cancels:    make(map[string]context.CancelFunc),
		ctx:        ctx,
		cancel:     cancel,
	}
	approvals.OnApproved(o.executeApproved)
	approvals.OnClosed(o.closePending)
	return o
}

// Start launches the timeout sweep and record cleanup loops.
func (o *Orchestrator) Start() {
	o.wg.Add(2)
	go o.sweepLoop()
	go o.cleanupLoop()
	o.logger.Info().
		Dur("execution_bound", o.cfg.ExecutionBound).
		Dur("retention", o.cfg.Retention).
		Msg("orchestrator started")
}

// Stop cancels in-flight handler contexts and waits for the loops to exit.
func (o *Orchestrator) Stop() {
	o.cancel()
	o.wg.Wait()
	o.logger.Info().Msg("orchestrator stopped")
}

// HandleThreat resolves the response plan for an event and dispatches each
// action in order. Actions for one threat are strictly serialized; separate
// threats may run HandleThreat concurrently.
func (o *Orchestrator) HandleThreat(event *ThreatEvent) {
	names := ResponsesFor(event.Type)

	if IsEmergencyThreat(event.Type) {
		o.emergency.Activate(event)
		o.metrics.EmergencyActivated()
		names = mergePlans(EscalationSequence(), names)
	}

	o.logger.Info().
		Str("threat_id", event.ID).
		Str("threat_type", string(event.Type)).
		Str("severity", event.Severity.String()).
		Int("actions", len(names)).
		Msg("handling threat")

	for _, name := range names {
		o.dispatch(event, name)
	}
}

// mergePlans concatenates the escalation sequence with the policy plan,
// keeping first occurrences only.
func mergePlans(first, second []string) []string {
	out := make([]string, 0, len(first)+len(second))
	seen := make(map[string]bool, len(first)+len(second))
	for _, list := range [][]string{first, second} {
		for _, name := range list {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// dispatch resolves one action and either executes it or parks it in the
// manual-approval queue. Failures never propagate: a faulty action must not
// abort the remaining actions for the same threat.
func (o *Orchestrator) dispatch(event *ThreatEvent, name string) {
	exec := &ResponseExecution{
		ID:         uuid.New().String(),
		ThreatID:   event.ID,
		ActionName: name,
		Status:     StatusPending,
		StartedAt:  time.Now().UTC(),
	}
	o.put(exec)

	action, err := o.catalog.Lookup(name)
	if err != nil {
		// Policy validation at startup makes this unreachable in practice,
		// but a lookup failure is still just one failed action.
		o.finish(exec.ID, StatusFailed, "", err)
		o.logger.Error().Err(err).Str("threat_id", event.ID).Msg("dispatch failed")
		return
	}

	if !action.AutoExecute && !o.emergency.Active() {
		approvalID := o.approvals.Submit(event, name, exec.ID)
		o.logger.Warn().
			Str("threat_id", event.ID).
			Str("action", name).
			Str("approval_id", approvalID).
			Msg("action requires manual approval — holding")
		return
	}

	o.execute(event, action, exec.ID)
}

// execute runs a handler to completion and records the terminal state. The
// handler gets a timeout context the sweep can also cancel; panics are
// captured as failures.
func (o *Orchestrator) execute(event *ThreatEvent, action *ResponseAction, execID string) {
	hctx, cancel := context.WithTimeout(o.ctx, o.cfg.HandlerTimeout)
	defer cancel()

	o.mu.Lock()
	exec, ok := o.executions[execID]
	if !ok || exec.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	exec.Status = StatusExecuting
	exec.StartedAt = time.Now().UTC()
	o.cancels[execID] = cancel
	o.mu.Unlock()

	o.metrics.ResponseTriggered()
	o.updateActiveGauge()

	o.logger.Info().
		Str("execution_id", execID).
		Str("threat_id", event.ID).
		Str("action", action.Name).
		Msg("executing response action")

	detail, err := o.invoke(hctx, action, event)
	o.mu.Lock()
	delete(o.cancels, execID)
	o.mu.Unlock()

	if err != nil {
		o.finish(execID, StatusFailed, detail, err)
		o.logger.Error().Err(err).
			Str("execution_id", execID).
			Str("action", action.Name).
			Msg("response action failed")
		return
	}
	o.finish(execID, StatusCompleted, detail, nil)
	o.metrics.ThreatBlocked()
	o.logger.Info().
		Str("execution_id", execID).
		Str("action", action.Name).
		Str("outcome", detail).
		Msg("response action completed")
}

// invoke calls the handler, converting panics into errors.
func (o *Orchestrator) invoke(ctx context.Context, action *ResponseAction, event *ThreatEvent) (detail string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return action.Handler.Execute(ctx, event)
}

// finish moves an execution to a terminal state exactly once and emits the
// audit record. A sweep that already forced TIMEOUT wins over a late handler
// result.
func (o *Orchestrator) finish(execID string, status ExecutionStatus, detail string, err error) {
	o.mu.Lock()
	exec, ok := o.executions[execID]
	if !ok || exec.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	exec.Status = status
	exec.EndedAt = &now
	exec.Outcome = detail
	if err != nil {
		exec.Error = err.Error()
	}
	rec := *exec
	o.mu.Unlock()

	o.updateActiveGauge()
	if o.audit != nil {
		o.audit.Record(rec)
	}
}

// executeApproved re-enters the execute path for an approved action.
func (o *Orchestrator) executeApproved(pa *PendingApproval) {
	action, err := o.catalog.Lookup(pa.ActionName)
	if err != nil {
		o.finish(pa.ExecutionID, StatusFailed, "", err)
		return
	}
	o.execute(pa.Event, action, pa.ExecutionID)
}

// closePending fails the held execution when its approval is rejected or
// expires, so no record stays PENDING forever.
func (o *Orchestrator) closePending(pa *PendingApproval) {
	o.finish(pa.ExecutionID, StatusFailed, "", fmt.Errorf("manual approval %s", pa.Status))
}

// put stores a new execution record.
func (o *Orchestrator) put(exec *ResponseExecution) {
	o.mu.Lock()
	o.executions[exec.ID] = exec
	o.mu.Unlock()
	o.updateActiveGauge()
}

// Execution returns a copy of one record, or nil if unknown.
func (o *Orchestrator) Execution(id string) *ResponseExecution {
	o.mu.RLock()
	defer o.mu.RUnlock()
	exec, ok := o.executions[id]
	if !ok {
		return nil
	}
	cp := *exec
	return &cp
}

// ActiveExecutions returns copies of all non-terminal records.
func (o *Orchestrator) ActiveExecutions() []ResponseExecution {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]ResponseExecution, 0)
	for _, exec := range o.executions {
		if !exec.Status.Terminal() {
			out = append(out, *exec)
		}
	}
	return out
}

// ExecutionsForThreat returns copies of all records for one threat.
func (o *Orchestrator) ExecutionsForThreat(threatID string) []ResponseExecution {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]ResponseExecution, 0)
	for _, exec := range o.executions {
		if exec.ThreatID == threatID {
			out = append(out, *exec)
		}
	}
	return out
}

// Stats summarizes the execution table by status.
func (o *Orchestrator) Stats() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()
	byStatus := make(map[string]int)
	for _, exec := range o.executions {
		byStatus[string(exec.Status)]++
	}
	return map[string]interface{}{
		"total_executions": len(o.executions),
		"by_status":        byStatus,
	}
}

func (o *Orchestrator) updateActiveGauge() {
	o.mu.RLock()
	active := 0
	for _, exec := range o.executions {
		if !exec.Status.Terminal() {
			active++
		}
	}
	o.mu.RUnlock()
	o.metrics.SetActiveExecutions(active)
}

// sweepLoop force-transitions stuck EXECUTING records to TIMEOUT and cancels
// their handler contexts, so a hung device call is interrupted rather than
// merely relabeled.
func (o *Orchestrator) sweepLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.sweepTimeouts()
		}
	}
}

func (o *Orchestrator) sweepTimeouts() {
	now := time.Now().UTC()
	type timedOut struct {
		rec    ResponseExecution
		cancel context.CancelFunc
	}
	var victims []timedOut

	o.mu.Lock()
	for id, exec := range o.executions {
		if exec.Status == StatusExecuting && now.Sub(exec.StartedAt) > o.cfg.ExecutionBound {
			exec.Status = StatusTimeout
			t := now
			exec.EndedAt = &t
			exec.Error = "execution exceeded timeout bound"
			victims = append(victims, timedOut{rec: *exec, cancel: o.cancels[id]})
			delete(o.cancels, id)
		}
	}
	o.mu.Unlock()

	for _, v := range victims {
		if v.cancel != nil {
			v.cancel()
		}
		o.logger.Warn().
			Str("execution_id", v.rec.ID).
			Str("action", v.rec.ActionName).
			Msg("execution timed out — forced terminal")
		if o.audit != nil {
			o.audit.Record(v.rec)
		}
	}
	if len(victims) > 0 {
		o.updateActiveGauge()
	}
}

// cleanupLoop deletes terminal records past the retention window to bound
// memory.
func (o *Orchestrator) cleanupLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.cleanupRecords()
		}
	}
}

func (o *Orchestrator) cleanupRecords() {
	cutoff := time.Now().UTC().Add(-o.cfg.Retention)
	removed := 0

	o.mu.Lock()
	for id, exec := range o.executions {
		if exec.Status.Terminal() && exec.EndedAt != nil && exec.EndedAt.Before(cutoff) {
			delete(o.executions, id)
			removed++
		}
	}
	o.mu.Unlock()

	if removed > 0 {
		o.logger.Debug().Int("removed", removed).Msg("purged expired execution records")
	}
}
