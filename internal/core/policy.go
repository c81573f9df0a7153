package core

import "fmt"

// ---------------------------------------------------------------------------
// policy.go — static threat-to-response mapping.
//
// Every threat type maps to an ordered list of catalog action names. Two
// actions are appended to every result regardless of type: alert-operators
// and capture-forensic-snapshot. Every threat, however minor, must be
// observable and leave evidence.
// ---------------------------------------------------------------------------

// implicitActions are appended to every policy result.
var implicitActions = []string{ActionAlertOperators, ActionForensicSnapshot}

// responseTable is the fixed threat → action mapping. Order matters: actions
// for one threat execute strictly in this order.
var responseTable = map[ThreatType][]string{
	ThreatModbusFlooding: {
		ActionBlockAddress, ActionIsolateDevice, ActionEmergencyStop, ActionActivateBackup,
	},
	ThreatUnauthorizedControl: {
		ActionEmergencyStop, ActionIsolateDevice, ActionActivateBackup,
		ActionLockAccount, ActionInvalidateSessions,
	},
	ThreatManInTheMiddle: {
		ActionIsolateDevice, ActionBlockAddress, ActionResetDevice, ActionRequireReauth,
	},
	ThreatDataInjection: {
		ActionBlockAddress, ActionValidateSensors, ActionBackupData,
	},
	ThreatReplayAttack: {
		ActionBlockAddress, ActionInvalidateSessions, ActionRequireReauth,
	},
	ThreatCredentialStuffing: {
		ActionLockAccount, ActionInvalidateSessions, ActionRequireReauth, ActionBlockAddress,
	},
	ThreatDoSAttack: {
		ActionRateLimit, ActionBlockAddress, ActionRedirectHoneypot,
	},
	ThreatNetworkScan: {
		ActionRedirectHoneypot, ActionRateLimit,
	},
	ThreatSensorAnomaly: {
		ActionValidateSensors, ActionRateLimit,
	},
	ThreatFirmwareTampering: {
		ActionIsolateDevice, ActionResetDevice, ActionBackupData,
	},
}

// escalationSequence is the fixed, policy-bypassing action list run when a
// threat in the emergency set arrives, in addition to the normal mapping.
var escalationSequence = []string{
	ActionEmergencyStop,
	ActionIsolateDevice,
	ActionActivateBackup,
	ActionForensicSnapshot,
	ActionAlertOperators,
}

// emergencyThreats are the threat types that trigger the escalation path.
var emergencyThreats = map[ThreatType]bool{
	ThreatUnauthorizedControl: true,
	ThreatManInTheMiddle:      true,
}

// IsEmergencyThreat reports whether a threat type triggers the escalation path.
func IsEmergencyThreat(t ThreatType) bool {
	return emergencyThreats[t]
}

// EscalationSequence returns a copy of the fixed escalation action list.
func EscalationSequence() []string {
	out := make([]string, len(escalationSequence))
	copy(out, escalationSequence)
	return out
}

// ResponsesFor returns the ordered, deduplicated action names for a threat
// type, with the implicit pair appended. Unmapped types yield only the
// implicit pair. Insertion order of first occurrence is preserved; the
// result is deterministic for a given type.
func ResponsesFor(threatType ThreatType) []string {
	mapped := responseTable[threatType]

	out := make([]string, 0, len(mapped)+len(implicitActions))
	seen := make(map[string]bool, len(mapped)+len(implicitActions))
	for _, name := range mapped {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, name := range implicitActions {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// ValidatePolicy checks that every action name the policy table, the implicit
// pair, and the escalation sequence reference is present in the catalog.
// Called once at startup; a failure here is fatal.
func ValidatePolicy(catalog *ActionCatalog) error {
	check := func(names []string, where string) error {
		for _, name := range names {
			if _, err := catalog.Lookup(name); err != nil {
				return fmt.Errorf("policy references unregistered action in %s: %w", where, err)
			}
		}
		return nil
	}

	for threatType, names := range responseTable {
		if err := check(names, string(threatType)); err != nil {
			return err
		}
	}
	if err := check(implicitActions, "implicit actions"); err != nil {
		return err
	}
	return check(escalationSequence, "escalation sequence")
}
