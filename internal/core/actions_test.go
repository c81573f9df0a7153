package core

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/nacl/box"

	"github.com/gridward-project/gridward/internal/securechannel"
	"github.com/gridward-project/gridward/internal/store"
)

const testDeviceID = "TRANSMISSION_LINE_345KV_001"

type actionFixture struct {
	catalog *ActionCatalog
	channel *securechannel.Channel
	store   *store.Store
}

func newActionFixture(t *testing.T) *actionFixture {
	t.Helper()
	logger := zerolog.Nop()

	st, err := store.Open(":memory:", logger)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	anchorPub, anchorPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating anchor: %v", err)
	}
	devicePub, _, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating device keys: %v", err)
	}

	channel := securechannel.NewChannel(logger, securechannel.NewTrustStore(anchorPub), time.Hour)
	t.Cleanup(channel.Close)

	devices := NewDeviceRegistry()
	devices.Register(securechannel.IssueCertificate(anchorPriv, testDeviceID, *devicePub, time.Hour))

	catalog := NewActionCatalog()
	err = RegisterBuiltinActions(catalog, ActionDeps{
		Logger:  logger,
		Control: NewLogControlPlane(logger),
		Channel: channel,
		Devices: devices,
		Store:   st,
	})
	if err != nil {
		t.Fatalf("registering actions: %v", err)
	}

	return &actionFixture{catalog: catalog, channel: channel, store: st}
}

func (f *actionFixture) run(t *testing.T, name string, event *ThreatEvent) (string, error) {
	t.Helper()
	action, err := f.catalog.Lookup(name)
	if err != nil {
		t.Fatalf("lookup %s: %v", name, err)
	}
	return action.Handler.Execute(context.Background(), event)
}

func TestRegisterBuiltinActions_SatisfiesPolicy(t *testing.T) {
	f := newActionFixture(t)
	if f.catalog.Len() != 14 {
		t.Errorf("got %d actions, want 14", f.catalog.Len())
	}
	if err := ValidatePolicy(f.catalog); err != nil {
		t.Errorf("policy validation failed: %v", err)
	}
}

func TestBlockAddress_RequiresSourceAddress(t *testing.T) {
	f := newActionFixture(t)
	event := NewThreatEvent(ThreatDoSAttack, SeverityHigh)
	if _, err := f.run(t, ActionBlockAddress, event); err == nil {
		t.Error("block-address without source_address should fail")
	}
}

func TestBlockAddress_Succeeds(t *testing.T) {
	f := newActionFixture(t)
	event := NewThreatEvent(ThreatDoSAttack, SeverityHigh)
	event.Details["source_address"] = "10.40.1.17"
	detail, err := f.run(t, ActionBlockAddress, event)
	if err != nil {
		t.Fatalf("block-address failed: %v", err)
	}
	if !strings.Contains(detail, "10.40.1.17") {
		t.Errorf("detail %q does not mention the address", detail)
	}
}

func TestDeviceCommand_EstablishesSecureSession(t *testing.T) {
	f := newActionFixture(t)
	event := NewThreatEvent(ThreatModbusFlooding, SeverityCritical)
	event.Details["device_id"] = testDeviceID

	detail, err := f.run(t, ActionEmergencyStop, event)
	if err != nil {
		t.Fatalf("emergency-stop failed: %v", err)
	}
	if !strings.Contains(detail, testDeviceID) {
		t.Errorf("detail %q does not mention the device", detail)
	}
	if f.channel.SessionForDevice(testDeviceID) == "" {
		t.Error("no session established for the device")
	}
}

func TestDeviceCommand_ReusesSession(t *testing.T) {
	f := newActionFixture(t)
	event := NewThreatEvent(ThreatSensorAnomaly, SeverityMedium)
	event.Details["device_id"] = testDeviceID

	if _, err := f.run(t, ActionValidateSensors, event); err != nil {
		t.Fatalf("first command failed: %v", err)
	}
	first := f.channel.SessionForDevice(testDeviceID)
	if _, err := f.run(t, ActionValidateSensors, event); err != nil {
		t.Fatalf("second command failed: %v", err)
	}
	if second := f.channel.SessionForDevice(testDeviceID); second != first {
		t.Errorf("session changed between commands: %s vs %s", first, second)
	}
	if n := len(f.channel.Sessions()); n != 1 {
		t.Errorf("got %d sessions, want 1", n)
	}
}

func TestDeviceCommand_UnknownDevice_Fails(t *testing.T) {
	f := newActionFixture(t)
	event := NewThreatEvent(ThreatFirmwareTampering, SeverityHigh)
	event.Details["device_id"] = "NO_SUCH_DEVICE"
	if _, err := f.run(t, ActionResetDevice, event); err == nil {
		t.Error("device command to an unregistered device should fail")
	}
}

func TestIsolateDevice_TearsDownSession(t *testing.T) {
	f := newActionFixture(t)
	event := NewThreatEvent(ThreatModbusFlooding, SeverityCritical)
	event.Details["device_id"] = testDeviceID

	if _, err := f.run(t, ActionEmergencyStop, event); err != nil {
		t.Fatalf("emergency-stop failed: %v", err)
	}
	if _, err := f.run(t, ActionIsolateDevice, event); err != nil {
		t.Fatalf("isolate-device failed: %v", err)
	}
	if f.channel.SessionForDevice(testDeviceID) != "" {
		t.Error("isolating a device should tear down its session")
	}
}

func TestLockAccount_PersistsLockout(t *testing.T) {
	f := newActionFixture(t)
	event := NewThreatEvent(ThreatCredentialStuffing, SeverityHigh)
	event.Details["account_id"] = "operator-7"

	if _, err := f.run(t, ActionLockAccount, event); err != nil {
		t.Fatalf("lock-account failed: %v", err)
	}
	locked, err := f.store.IsAccountLocked("operator-7")
	if err != nil {
		t.Fatalf("checking lockout: %v", err)
	}
	if !locked {
		t.Error("account should be locked")
	}
}

func TestLockAccount_RequiresAccountID(t *testing.T) {
	f := newActionFixture(t)
	event := NewThreatEvent(ThreatCredentialStuffing, SeverityHigh)
	if _, err := f.run(t, ActionLockAccount, event); err == nil {
		t.Error("lock-account without account_id should fail")
	}
}

func TestCaptureForensicSnapshot_PersistsContext(t *testing.T) {
	f := newActionFixture(t)
	event := NewThreatEvent(ThreatDataInjection, SeverityHigh)
	event.Details["source_address"] = "10.40.1.17"

	if _, err := f.run(t, ActionForensicSnapshot, event); err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	snaps, err := f.store.SnapshotsForThreat(event.ID)
	if err != nil {
		t.Fatalf("loading snapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(snaps))
	}
	if !strings.Contains(snaps[0].Payload, event.ID) {
		t.Error("snapshot payload does not carry the threat context")
	}
}

func TestAlertOperators_SucceedsWithoutBus(t *testing.T) {
	f := newActionFixture(t)
	event := NewThreatEvent(ThreatNetworkScan, SeverityLow)
	if _, err := f.run(t, ActionAlertOperators, event); err != nil {
		t.Errorf("alert-operators failed: %v", err)
	}
}

func TestAccountControls_RequireAccountID(t *testing.T) {
	f := newActionFixture(t)
	event := NewThreatEvent(ThreatReplayAttack, SeverityMedium)
	for _, name := range []string{ActionInvalidateSessions, ActionRequireReauth} {
		if _, err := f.run(t, name, event); err == nil {
			t.Errorf("%s without account_id should fail", name)
		}
	}
}
