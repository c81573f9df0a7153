package core

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// ─── Fixtures ────────────────────────────────────────────────────────────────

type recordingSink struct {
	mu   sync.Mutex
	recs []ResponseExecution
}

func (s *recordingSink) Record(exec ResponseExecution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, exec)
}

func (s *recordingSink) records() []ResponseExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ResponseExecution, len(s.recs))
	copy(out, s.recs)
	return out
}

type callLog struct {
	mu    sync.Mutex
	names []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
}

func (l *callLog) calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.names))
	copy(out, l.names)
	return out
}

type orchFixture struct {
	orch      *Orchestrator
	metrics   *Metrics
	emergency *EmergencyState
	approvals *ApprovalQueue
	sink      *recordingSink
	calls     *callLog
}

// newOrchFixture builds an orchestrator over the full action set. Default
// handlers record the call and succeed; overrides substitute per-name
// behavior. Background loops are not started; sweeps run explicitly.
func newOrchFixture(t *testing.T, overrides map[string]ActionHandlerFunc) *orchFixture {
	t.Helper()
	logger := zerolog.Nop()
	calls := &callLog{}

	wrapped := make(map[string]ActionHandlerFunc, len(overrides))
	for name, h := range overrides {
		name, h := name, h
		wrapped[name] = func(ctx context.Context, event *ThreatEvent) (string, error) {
			calls.add(name)
			return h(ctx, event)
		}
	}
	names := []string{
		ActionBlockAddress, ActionIsolateDevice, ActionRateLimit, ActionRedirectHoneypot,
		ActionEmergencyStop, ActionResetDevice, ActionActivateBackup, ActionValidateSensors,
		ActionLockAccount, ActionInvalidateSessions, ActionRequireReauth,
		ActionAlertOperators, ActionBackupData, ActionForensicSnapshot,
	}
	for _, name := range names {
		if wrapped[name] == nil {
			name := name
			wrapped[name] = func(_ context.Context, _ *ThreatEvent) (string, error) {
				calls.add(name)
				return "done", nil
			}
		}
	}

	catalog := newFullTestCatalog(t, wrapped)
	metrics := NewMetrics(prometheus.NewRegistry())
	emergency := NewEmergencyState(logger)
	approvals := NewApprovalQueue(logger, time.Minute, 16)
	t.Cleanup(approvals.Stop)
	sink := &recordingSink{}

	cfg := DefaultOrchestratorConfig()
	orch := NewOrchestrator(logger, catalog, metrics, emergency, approvals, sink, cfg)
	t.Cleanup(orch.cancel)

	return &orchFixture{
		orch:      orch,
		metrics:   metrics,
		emergency: emergency,
		approvals: approvals,
		sink:      sink,
		calls:     calls,
	}
}

func floodEvent() *ThreatEvent {
	e := NewThreatEvent(ThreatModbusFlooding, SeverityHigh)
	e.Details["source_address"] = "10.40.1.17"
	e.Details["device_id"] = "TRANSMISSION_LINE_345KV_001"
	return e
}

// ─── Dispatch ────────────────────────────────────────────────────────────────

func TestOrchestrator_ModbusFlooding_AllActionsComplete(t *testing.T) {
	f := newOrchFixture(t, nil)
	event := floodEvent()

	f.orch.HandleThreat(event)

	execs := f.orch.ExecutionsForThreat(event.ID)
	if len(execs) != 6 {
		t.Fatalf("got %d executions, want 6", len(execs))
	}
	for _, exec := range execs {
		if exec.Status != StatusCompleted {
			t.Errorf("%s: status %s, want COMPLETED", exec.ActionName, exec.Status)
		}
		if exec.EndedAt == nil {
			t.Errorf("%s: terminal execution has no end time", exec.ActionName)
		}
	}

	snap := f.metrics.Snapshot()
	if snap.ResponsesTriggered != 6 {
		t.Errorf("responses triggered = %d, want 6", snap.ResponsesTriggered)
	}
	if snap.ThreatsBlocked != 6 {
		t.Errorf("threats blocked = %d, want 6", snap.ThreatsBlocked)
	}
	if snap.EmergencyActivations != 0 {
		t.Errorf("emergency activations = %d, want 0", snap.EmergencyActivations)
	}
	if f.emergency.Active() {
		t.Error("modbus flooding should not activate emergency mode")
	}
}

func TestOrchestrator_ActionOrder_FollowsPolicy(t *testing.T) {
	f := newOrchFixture(t, nil)
	f.orch.HandleThreat(floodEvent())

	want := []string{
		ActionBlockAddress, ActionIsolateDevice, ActionEmergencyStop, ActionActivateBackup,
		ActionAlertOperators, ActionForensicSnapshot,
	}
	if got := f.calls.calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("call order %v, want %v", got, want)
	}
}

func TestOrchestrator_UnauthorizedControl_ActivatesEmergency(t *testing.T) {
	f := newOrchFixture(t, nil)
	event := NewThreatEvent(ThreatUnauthorizedControl, SeverityCritical)
	event.Details["device_id"] = "SUBSTATION_ALPHA_BREAKER_2"
	event.Details["account_id"] = "operator-7"

	f.orch.HandleThreat(event)

	if !f.emergency.Active() {
		t.Fatal("emergency mode should be active")
	}
	if snap := f.metrics.Snapshot(); snap.EmergencyActivations != 1 {
		t.Errorf("emergency activations = %d, want 1", snap.EmergencyActivations)
	}

	// Escalation sequence runs first; the policy plan follows, deduplicated.
	want := []string{
		ActionEmergencyStop, ActionIsolateDevice, ActionActivateBackup,
		ActionForensicSnapshot, ActionAlertOperators,
		ActionLockAccount, ActionInvalidateSessions,
	}
	if got := f.calls.calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("call order %v, want %v", got, want)
	}

	// lock-account normally needs approval, but not during an emergency.
	if pending := f.approvals.Pending(); len(pending) != 0 {
		t.Errorf("got %d pending approvals during emergency, want 0", len(pending))
	}
}

func TestOrchestrator_FaultyAction_DoesNotStopOthers(t *testing.T) {
	f := newOrchFixture(t, map[string]ActionHandlerFunc{
		ActionIsolateDevice: func(_ context.Context, _ *ThreatEvent) (string, error) {
			return "", fmt.Errorf("device unreachable")
		},
	})
	event := floodEvent()
	f.orch.HandleThreat(event)

	var failed, completed int
	for _, exec := range f.orch.ExecutionsForThreat(event.ID) {
		switch exec.Status {
		case StatusFailed:
			failed++
			if exec.Error == "" {
				t.Error("failed execution has no error message")
			}
		case StatusCompleted:
			completed++
		}
	}
	if failed != 1 || completed != 5 {
		t.Errorf("got %d failed / %d completed, want 1 / 5", failed, completed)
	}

	if snap := f.metrics.Snapshot(); snap.ThreatsBlocked != 5 {
		t.Errorf("threats blocked = %d, want 5", snap.ThreatsBlocked)
	}
}

func TestOrchestrator_PanickingAction_RecordedAsFailed(t *testing.T) {
	f := newOrchFixture(t, map[string]ActionHandlerFunc{
		ActionBlockAddress: func(_ context.Context, _ *ThreatEvent) (string, error) {
			panic("firewall driver crashed")
		},
	})
	event := floodEvent()
	f.orch.HandleThreat(event)

	execs := f.orch.ExecutionsForThreat(event.ID)
	if len(execs) != 6 {
		t.Fatalf("got %d executions, want 6: panic aborted the plan", len(execs))
	}
	for _, exec := range execs {
		if exec.ActionName == ActionBlockAddress {
			if exec.Status != StatusFailed {
				t.Errorf("panicking action status %s, want FAILED", exec.Status)
			}
		}
	}
}

// ─── Approval gating ─────────────────────────────────────────────────────────

func TestOrchestrator_ManualAction_HeldForApproval(t *testing.T) {
	f := newOrchFixture(t, nil)
	event := NewThreatEvent(ThreatFirmwareTampering, SeverityHigh)
	event.Details["device_id"] = "RTU_FEEDER_12"

	f.orch.HandleThreat(event)

	pending := f.approvals.Pending()
	if len(pending) != 1 {
		t.Fatalf("got %d pending approvals, want 1", len(pending))
	}
	if pending[0].ActionName != ActionResetDevice {
		t.Errorf("held action %s, want %s", pending[0].ActionName, ActionResetDevice)
	}

	held := f.orch.Execution(pending[0].ExecutionID)
	if held == nil || held.Status != StatusPending {
		t.Fatalf("held execution should be PENDING, got %+v", held)
	}

	// The manual action must not count as triggered until it actually runs.
	if snap := f.metrics.Snapshot(); snap.ResponsesTriggered != 4 {
		t.Errorf("responses triggered = %d, want 4", snap.ResponsesTriggered)
	}
}

func TestOrchestrator_ApprovedAction_Executes(t *testing.T) {
	f := newOrchFixture(t, nil)
	event := NewThreatEvent(ThreatFirmwareTampering, SeverityHigh)
	event.Details["device_id"] = "RTU_FEEDER_12"
	f.orch.HandleThreat(event)

	pending := f.approvals.Pending()
	if len(pending) != 1 {
		t.Fatalf("got %d pending approvals, want 1", len(pending))
	}
	if _, err := f.approvals.Approve(pending[0].ID, "shift-lead"); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	exec := f.orch.Execution(pending[0].ExecutionID)
	if exec == nil || exec.Status != StatusCompleted {
		t.Fatalf("approved execution should be COMPLETED, got %+v", exec)
	}
	if snap := f.metrics.Snapshot(); snap.ResponsesTriggered != 5 {
		t.Errorf("responses triggered = %d, want 5", snap.ResponsesTriggered)
	}
}

func TestOrchestrator_RejectedAction_ClosedAsFailed(t *testing.T) {
	f := newOrchFixture(t, nil)
	event := NewThreatEvent(ThreatFirmwareTampering, SeverityHigh)
	event.Details["device_id"] = "RTU_FEEDER_12"
	f.orch.HandleThreat(event)

	pending := f.approvals.Pending()
	if len(pending) != 1 {
		t.Fatalf("got %d pending approvals, want 1", len(pending))
	}
	if _, err := f.approvals.Reject(pending[0].ID, "shift-lead"); err != nil {
		t.Fatalf("reject failed: %v", err)
	}

	exec := f.orch.Execution(pending[0].ExecutionID)
	if exec == nil || exec.Status != StatusFailed {
		t.Fatalf("rejected execution should be FAILED, got %+v", exec)
	}
	found := false
	for _, name := range f.calls.calls() {
		if name == ActionResetDevice {
			found = true
		}
	}
	if found {
		t.Error("rejected action handler should never run")
	}
}

// ─── Timeout sweep and cleanup ───────────────────────────────────────────────

func TestOrchestrator_Sweep_TimesOutStuckExecution(t *testing.T) {
	f := newOrchFixture(t, nil)
	f.orch.cfg.ExecutionBound = 10 * time.Millisecond

	release := make(chan struct{})
	started := make(chan struct{})
	f.orch.catalog = newFullTestCatalog(t, map[string]ActionHandlerFunc{
		ActionBlockAddress: func(ctx context.Context, _ *ThreatEvent) (string, error) {
			close(started)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-release:
				return "done", nil
			}
		},
	})

	event := floodEvent()
	done := make(chan struct{})
	go func() {
		f.orch.HandleThreat(event)
		close(done)
	}()

	<-started
	time.Sleep(20 * time.Millisecond)
	f.orch.sweepTimeouts()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not cancel the stuck handler")
	}
	close(release)

	var timedOut *ResponseExecution
	for _, exec := range f.orch.ExecutionsForThreat(event.ID) {
		if exec.ActionName == ActionBlockAddress {
			cp := exec
			timedOut = &cp
		}
	}
	if timedOut == nil || timedOut.Status != StatusTimeout {
		t.Fatalf("stuck execution should be TIMEOUT, got %+v", timedOut)
	}
	if timedOut.EndedAt == nil {
		t.Error("timed out execution has no end time")
	}
}

func TestOrchestrator_Cleanup_RemovesExpiredRecords(t *testing.T) {
	f := newOrchFixture(t, nil)
	event := floodEvent()
	f.orch.HandleThreat(event)

	// Age every terminal record past retention.
	old := time.Now().UTC().Add(-48 * time.Hour)
	f.orch.mu.Lock()
	for _, exec := range f.orch.executions {
		exec.EndedAt = &old
	}
	f.orch.mu.Unlock()

	f.orch.cleanupRecords()

	if got := f.orch.ExecutionsForThreat(event.ID); len(got) != 0 {
		t.Errorf("got %d records after cleanup, want 0", len(got))
	}
}

// ─── Audit trail ─────────────────────────────────────────────────────────────

func TestOrchestrator_AuditSink_ReceivesTerminalRecords(t *testing.T) {
	f := newOrchFixture(t, map[string]ActionHandlerFunc{
		ActionIsolateDevice: func(_ context.Context, _ *ThreatEvent) (string, error) {
			return "", fmt.Errorf("device unreachable")
		},
	})
	event := floodEvent()
	f.orch.HandleThreat(event)

	recs := f.sink.records()
	if len(recs) != 6 {
		t.Fatalf("got %d audit records, want 6", len(recs))
	}
	for _, rec := range recs {
		if !rec.Status.Terminal() {
			t.Errorf("audit record %s has non-terminal status %s", rec.ActionName, rec.Status)
		}
	}
}

// ─── Concurrency ─────────────────────────────────────────────────────────────

func TestOrchestrator_ConcurrentThreats(t *testing.T) {
	f := newOrchFixture(t, nil)

	var wg sync.WaitGroup
	const n = 20
	events := make([]*ThreatEvent, n)
	for i := range events {
		events[i] = floodEvent()
	}
	for _, event := range events {
		wg.Add(1)
		go func(e *ThreatEvent) {
			defer wg.Done()
			f.orch.HandleThreat(e)
		}(event)
	}
	wg.Wait()

	for _, event := range events {
		execs := f.orch.ExecutionsForThreat(event.ID)
		if len(execs) != 6 {
			t.Fatalf("threat %s: got %d executions, want 6", event.ID, len(execs))
		}
	}
	if snap := f.metrics.Snapshot(); snap.ResponsesTriggered != n*6 {
		t.Errorf("responses triggered = %d, want %d", snap.ResponsesTriggered, n*6)
	}
}
