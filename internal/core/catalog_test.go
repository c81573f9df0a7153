package core

import (
	"context"
	"errors"
	"testing"
)

func noopHandler(_ context.Context, _ *ThreatEvent) (string, error) {
	return "done", nil
}

func TestActionCatalog_RegisterAndLookup(t *testing.T) {
	c := NewActionCatalog()
	err := c.Register(&ResponseAction{Name: "test-action", Severity: SeverityLow, AutoExecute: true, Handler: ActionHandlerFunc(noopHandler)})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	action, err := c.Lookup("test-action")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if action.Name != "test-action" {
		t.Errorf("got %s, want test-action", action.Name)
	}
}

func TestActionCatalog_DuplicateRegistration(t *testing.T) {
	c := NewActionCatalog()
	action := &ResponseAction{Name: "test-action", Handler: ActionHandlerFunc(noopHandler)}
	if err := c.Register(action); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	err := c.Register(action)
	if !errors.Is(err, ErrDuplicateAction) {
		t.Errorf("got %v, want ErrDuplicateAction", err)
	}
}

func TestActionCatalog_UnknownLookup(t *testing.T) {
	c := NewActionCatalog()
	_, err := c.Lookup("no-such-action")
	if !errors.Is(err, ErrUnknownAction) {
		t.Errorf("got %v, want ErrUnknownAction", err)
	}
}

func TestActionCatalog_Names(t *testing.T) {
	c := newFullTestCatalog(t, nil)
	if c.Len() != 14 {
		t.Errorf("got %d actions, want 14", c.Len())
	}
	if len(c.Names()) != 14 {
		t.Errorf("got %d names, want 14", len(c.Names()))
	}
}
