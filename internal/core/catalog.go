package core

import (
	"context"
	"fmt"
	"sync"
)

// Action names, grouped by target. These are the keys the policy table and
// the escalation sequence refer to.
const (
	// Network-level
	ActionBlockAddress     = "block-address"
	ActionIsolateDevice    = "isolate-device"
	ActionRateLimit        = "rate-limit"
	ActionRedirectHoneypot = "redirect-to-honeypot"

	// Device-level
	ActionEmergencyStop   = "emergency-stop"
	ActionResetDevice     = "reset-device"
	ActionActivateBackup  = "activate-backup-control"
	ActionValidateSensors = "validate-sensors"

	// Account-level
	ActionLockAccount        = "lock-account"
	ActionInvalidateSessions = "invalidate-sessions"
	ActionRequireReauth      = "require-reauthentication"

	// System-level
	ActionAlertOperators   = "alert-operators"
	ActionBackupData       = "backup-critical-data"
	ActionForensicSnapshot = "capture-forensic-snapshot"
)

// ActionHandler executes a single remediation action for a threat event.
// The returned detail string is recorded in the execution's outcome.
type ActionHandler interface {
	Execute(ctx context.Context, event *ThreatEvent) (detail string, err error)
}

// ActionHandlerFunc adapts a plain function to the ActionHandler interface.
type ActionHandlerFunc func(ctx context.Context, event *ThreatEvent) (string, error)

func (f ActionHandlerFunc) Execute(ctx context.Context, event *ThreatEvent) (string, error) {
	return f(ctx, event)
}

// ResponseAction is a catalog entry: created once at startup, immutable after.
type ResponseAction struct {
	Name        string
	Description string
	Severity    Severity
	AutoExecute bool
	Handler     ActionHandler
}

// ActionCatalog is the static registry of named response actions. It is
// populated once during engine construction and read-only afterwards; the
// lock only guards against misuse during concurrent startup.
type ActionCatalog struct {
	mu      sync.RWMutex
	actions map[string]*ResponseAction
	order   []string
}

// NewActionCatalog creates an empty catalog.
func NewActionCatalog() *ActionCatalog {
	return &ActionCatalog{
		actions: make(map[string]*ResponseAction),
	}
}

// Register adds an action definition. Registering the same name twice fails
// with ErrDuplicateAction.
func (c *ActionCatalog) Register(action *ResponseAction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.actions[action.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAction, action.Name)
	}
	c.actions[action.Name] = action
	c.order = append(c.order, action.Name)
	return nil
}

// Lookup returns the action registered under name, or ErrUnknownAction.
func (c *ActionCatalog) Lookup(name string) (*ResponseAction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	action, ok := c.actions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	return action, nil
}

// Names returns all registered action names in registration order.
func (c *ActionCatalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Len returns the number of registered actions.
func (c *ActionCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.actions)
}
