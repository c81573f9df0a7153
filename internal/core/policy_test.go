package core

import (
	"context"
	"reflect"
	"testing"
)

func TestResponsesFor_ModbusFlooding(t *testing.T) {
	got := ResponsesFor(ThreatModbusFlooding)
	want := []string{
		ActionBlockAddress, ActionIsolateDevice, ActionEmergencyStop, ActionActivateBackup,
		ActionAlertOperators, ActionForensicSnapshot,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResponsesFor_Deterministic(t *testing.T) {
	first := ResponsesFor(ThreatCredentialStuffing)
	for i := 0; i < 50; i++ {
		if !reflect.DeepEqual(ResponsesFor(ThreatCredentialStuffing), first) {
			t.Fatal("plan for the same threat type varied between calls")
		}
	}
}

func TestResponsesFor_UnmappedType_ImplicitPairOnly(t *testing.T) {
	got := ResponsesFor(ThreatType("something_new"))
	want := []string{ActionAlertOperators, ActionForensicSnapshot}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResponsesFor_NoDuplicates(t *testing.T) {
	for threatType := range responseTable {
		seen := make(map[string]bool)
		for _, name := range ResponsesFor(threatType) {
			if seen[name] {
				t.Errorf("%s: duplicate action %s in plan", threatType, name)
			}
			seen[name] = true
		}
	}
}

func TestResponsesFor_AlwaysEndsWithImplicitPair(t *testing.T) {
	for threatType := range responseTable {
		plan := ResponsesFor(threatType)
		found := map[string]bool{}
		for _, name := range plan {
			found[name] = true
		}
		if !found[ActionAlertOperators] || !found[ActionForensicSnapshot] {
			t.Errorf("%s: plan %v missing implicit actions", threatType, plan)
		}
	}
}

func TestIsEmergencyThreat(t *testing.T) {
	if !IsEmergencyThreat(ThreatUnauthorizedControl) {
		t.Error("unauthorized_control should be an emergency threat")
	}
	if !IsEmergencyThreat(ThreatManInTheMiddle) {
		t.Error("man_in_the_middle should be an emergency threat")
	}
	if IsEmergencyThreat(ThreatModbusFlooding) {
		t.Error("modbus_flooding should not be an emergency threat")
	}
}

func TestEscalationSequence_ReturnsCopy(t *testing.T) {
	seq := EscalationSequence()
	seq[0] = "tampered"
	if EscalationSequence()[0] != ActionEmergencyStop {
		t.Error("mutating the returned sequence changed the internal one")
	}
}

func TestValidatePolicy_FullCatalog(t *testing.T) {
	catalog := newFullTestCatalog(t, nil)
	if err := ValidatePolicy(catalog); err != nil {
		t.Errorf("builtin action set should satisfy the policy: %v", err)
	}
}

func TestValidatePolicy_MissingAction(t *testing.T) {
	catalog := NewActionCatalog()
	if err := ValidatePolicy(catalog); err == nil {
		t.Error("empty catalog should fail policy validation")
	}
}

func TestMergePlans_EscalationFirst(t *testing.T) {
	got := mergePlans(EscalationSequence(), ResponsesFor(ThreatUnauthorizedControl))
	want := []string{
		ActionEmergencyStop, ActionIsolateDevice, ActionActivateBackup,
		ActionForensicSnapshot, ActionAlertOperators,
		ActionLockAccount, ActionInvalidateSessions,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

// newFullTestCatalog registers the full action name set with no-op handlers,
// keeping the production auto-execute flags. overrides replaces individual
// handlers by name.
func newFullTestCatalog(t *testing.T, overrides map[string]ActionHandlerFunc) *ActionCatalog {
	t.Helper()
	manual := map[string]bool{
		ActionResetDevice: true,
		ActionLockAccount: true,
	}
	catalog := NewActionCatalog()
	names := []string{
		ActionBlockAddress, ActionIsolateDevice, ActionRateLimit, ActionRedirectHoneypot,
		ActionEmergencyStop, ActionResetDevice, ActionActivateBackup, ActionValidateSensors,
		ActionLockAccount, ActionInvalidateSessions, ActionRequireReauth,
		ActionAlertOperators, ActionBackupData, ActionForensicSnapshot,
	}
	for _, name := range names {
		handler := overrides[name]
		if handler == nil {
			handler = func(_ context.Context, _ *ThreatEvent) (string, error) { return "done", nil }
		}
		err := catalog.Register(&ResponseAction{
			Name:        name,
			Description: name,
			Severity:    SeverityMedium,
			AutoExecute: !manual[name],
			Handler:     handler,
		})
		if err != nil {
			t.Fatalf("registering %s: %v", name, err)
		}
	}
	return catalog
}
