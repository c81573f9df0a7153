package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gridward-project/gridward/internal/securechannel"
	"github.com/gridward-project/gridward/internal/store"
)

// ---------------------------------------------------------------------------
// actions.go — the builtin response actions. Network-level actions go through
// the control plane, device-level actions through the secure command channel,
// account-level actions fan out as control events, and system-level actions
// write to the store or alert operators.
// ---------------------------------------------------------------------------

// ControlPublisher fans control and alert events out to external consumers.
type ControlPublisher interface {
	PublishControl(subject string, payload interface{}) error
}

// ActionDeps carries the collaborators the builtin handlers need. Publisher
// and Store may be nil; handlers degrade to logging where a collaborator is
// absent.
type ActionDeps struct {
	Logger   zerolog.Logger
	Control  ControlPlane
	Channel  *securechannel.Channel
	Devices  *DeviceRegistry
	Store    *store.Store
	Bus      ControlPublisher
	Notifier *WebhookNotifier
}

type builtinActions struct {
	logger   zerolog.Logger
	control  ControlPlane
	channel  *securechannel.Channel
	devices  *DeviceRegistry
	store    *store.Store
	bus      ControlPublisher
	notifier *WebhookNotifier
}

// RegisterBuiltinActions registers the full action set on the catalog.
func RegisterBuiltinActions(catalog *ActionCatalog, deps ActionDeps) error {
	b := &builtinActions{
		logger:   deps.Logger.With().Str("component", "actions").Logger(),
		control:  deps.Control,
		channel:  deps.Channel,
		devices:  deps.Devices,
		store:    deps.Store,
		bus:      deps.Bus,
		notifier: deps.Notifier,
	}

	actions := []*ResponseAction{
		// Network level.
		{Name: ActionBlockAddress, Description: "Drop all traffic from the offending address", Severity: SeverityHigh, AutoExecute: true, Handler: ActionHandlerFunc(b.blockAddress)},
		{Name: ActionIsolateDevice, Description: "Cut the affected device off from the operational network", Severity: SeverityCritical, AutoExecute: true, Handler: ActionHandlerFunc(b.isolateDevice)},
		{Name: ActionRateLimit, Description: "Throttle traffic from the offending address", Severity: SeverityMedium, AutoExecute: true, Handler: ActionHandlerFunc(b.rateLimit)},
		{Name: ActionRedirectHoneypot, Description: "Reroute attacker traffic to a decoy endpoint", Severity: SeverityMedium, AutoExecute: true, Handler: ActionHandlerFunc(b.redirectToHoneypot)},

		// Device level. Commands travel over the encrypted session channel.
		{Name: ActionEmergencyStop, Description: "Send an authenticated emergency stop to the device", Severity: SeverityCritical, AutoExecute: true, Handler: b.deviceCommand("emergency_stop")},
		{Name: ActionResetDevice, Description: "Reset the device to a known-good state", Severity: SeverityHigh, AutoExecute: false, Handler: b.deviceCommand("reset")},
		{Name: ActionActivateBackup, Description: "Fail over to the backup control path", Severity: SeverityCritical, AutoExecute: true, Handler: b.deviceCommand("activate_backup")},
		{Name: ActionValidateSensors, Description: "Run a sensor plausibility check on the device", Severity: SeverityMedium, AutoExecute: true, Handler: b.deviceCommand("validate_sensors")},

		// Account level.
		{Name: ActionLockAccount, Description: "Lock the implicated operator account", Severity: SeverityHigh, AutoExecute: false, Handler: ActionHandlerFunc(b.lockAccount)},
		{Name: ActionInvalidateSessions, Description: "Invalidate all sessions for the implicated account", Severity: SeverityHigh, AutoExecute: true, Handler: b.accountControl("invalidate_sessions")},
		{Name: ActionRequireReauth, Description: "Force fresh authentication for the implicated account", Severity: SeverityMedium, AutoExecute: true, Handler: b.accountControl("require_reauth")},

		// System level.
		{Name: ActionAlertOperators, Description: "Notify the operations team", Severity: SeverityLow, AutoExecute: true, Handler: ActionHandlerFunc(b.alertOperators)},
		{Name: ActionBackupData, Description: "Trigger an out-of-band backup of critical data", Severity: SeverityMedium, AutoExecute: true, Handler: ActionHandlerFunc(b.backupCriticalData)},
		{Name: ActionForensicSnapshot, Description: "Preserve the full threat context for investigation", Severity: SeverityLow, AutoExecute: true, Handler: ActionHandlerFunc(b.captureForensicSnapshot)},
	}

	for _, action := range actions {
		if err := catalog.Register(action); err != nil {
			return fmt.Errorf("registering %s: %w", action.Name, err)
		}
	}
	return nil
}

// ─── Network level ───────────────────────────────────────────────────────────

func (b *builtinActions) blockAddress(ctx context.Context, event *ThreatEvent) (string, error) {
	addr := event.SourceAddress()
	if addr == "" {
		return "", fmt.Errorf("threat %s carries no source_address", event.ID)
	}
	if err := b.control.BlockAddress(ctx, addr); err != nil {
		return "", err
	}
	return fmt.Sprintf("blocked %s", addr), nil
}

func (b *builtinActions) rateLimit(ctx context.Context, event *ThreatEvent) (string, error) {
	addr := event.SourceAddress()
	if addr == "" {
		return "", fmt.Errorf("threat %s carries no source_address", event.ID)
	}
	if err := b.control.RateLimitAddress(ctx, addr); err != nil {
		return "", err
	}
	return fmt.Sprintf("rate limited %s", addr), nil
}

func (b *builtinActions) redirectToHoneypot(ctx context.Context, event *ThreatEvent) (string, error) {
	addr := event.SourceAddress()
	if addr == "" {
		return "", fmt.Errorf("threat %s carries no source_address", event.ID)
	}
	if err := b.control.RedirectToHoneypot(ctx, addr); err != nil {
		return "", err
	}
	return fmt.Sprintf("redirected %s to honeypot", addr), nil
}

func (b *builtinActions) isolateDevice(ctx context.Context, event *ThreatEvent) (string, error) {
	deviceID := event.DeviceID()
	if deviceID == "" {
		return "", fmt.Errorf("threat %s carries no device_id", event.ID)
	}
	if err := b.control.IsolateDevice(ctx, deviceID); err != nil {
		return "", err
	}
	// An isolated device is unreachable; its command session is dead weight.
	if sid := b.channel.SessionForDevice(deviceID); sid != "" {
		b.channel.Teardown(sid)
	}
	return fmt.Sprintf("isolated %s", deviceID), nil
}

// ─── Device level ────────────────────────────────────────────────────────────

// deviceCommandPayload is the plaintext command shape inside an envelope.
type deviceCommandPayload struct {
	CommandID string    `json:"command_id"`
	Command   string    `json:"command"`
	ThreatID  string    `json:"threat_id"`
	IssuedAt  time.Time `json:"issued_at"`
}

// deviceAck is the expected plaintext reply. Devices that simply echo the
// envelope (the standalone control plane) produce no status field, which
// counts as delivery.
type deviceAck struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

func (b *builtinActions) deviceCommand(command string) ActionHandlerFunc {
	return func(ctx context.Context, event *ThreatEvent) (string, error) {
		deviceID := event.DeviceID()
		if deviceID == "" {
			return "", fmt.Errorf("threat %s carries no device_id", event.ID)
		}
		return b.sendDeviceCommand(ctx, deviceID, deviceCommandPayload{
			CommandID: uuid.New().String(),
			Command:   command,
			ThreatID:  event.ID,
			IssuedAt:  time.Now().UTC(),
		})
	}
}

// sendDeviceCommand drives the full secure command path: establish a session
// if the device has none, encrypt the command, deliver the envelope, and
// decrypt and check the reply.
func (b *builtinActions) sendDeviceCommand(ctx context.Context, deviceID string, payload deviceCommandPayload) (string, error) {
	sessionID := b.channel.SessionForDevice(deviceID)
	if sessionID == "" {
		cert, err := b.devices.CertificateFor(deviceID)
		if err != nil {
			return "", err
		}
		res, err := b.channel.EstablishSession(cert)
		if err != nil {
			return "", fmt.Errorf("establishing session with %s: %w", deviceID, err)
		}
		if err := b.control.AnnounceSession(ctx, deviceID, res.SessionID, res.SealedKey); err != nil {
			b.channel.Teardown(res.SessionID)
			return "", fmt.Errorf("announcing session to %s: %w", deviceID, err)
		}
		sessionID = res.SessionID
	}

	env, err := b.channel.EncryptCommand(sessionID, payload)
	if err != nil {
		return "", fmt.Errorf("encrypting %s for %s: %w", payload.Command, deviceID, err)
	}
	reply, err := b.control.DeliverEnvelope(ctx, deviceID, env)
	if err != nil {
		return "", fmt.Errorf("delivering %s to %s: %w", payload.Command, deviceID, err)
	}
	plain, err := b.channel.DecryptResponse(sessionID, reply)
	if err != nil {
		return "", fmt.Errorf("reply from %s: %w", deviceID, err)
	}

	var ack deviceAck
	if err := json.Unmarshal(plain, &ack); err != nil {
		return "", fmt.Errorf("malformed reply from %s: %w", deviceID, err)
	}
	switch ack.Status {
	case "", "ok":
		return fmt.Sprintf("%s acknowledged by %s", payload.Command, deviceID), nil
	default:
		return "", fmt.Errorf("device %s rejected %s: %s", deviceID, payload.Command, ack.Detail)
	}
}

// ─── Account level ───────────────────────────────────────────────────────────

func (b *builtinActions) lockAccount(_ context.Context, event *ThreatEvent) (string, error) {
	accountID := event.AccountID()
	if accountID == "" {
		return "", fmt.Errorf("threat %s carries no account_id", event.ID)
	}
	if b.store == nil {
		return "", fmt.Errorf("no store configured for account lockout")
	}
	err := b.store.LockAccount(&store.LockedAccount{
		AccountID: accountID,
		ThreatID:  event.ID,
		Reason:    string(event.Type),
		LockedAt:  time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("locking account %s: %w", accountID, err)
	}
	b.publish("grid.control.accounts", map[string]interface{}{
		"op":         "lock",
		"account_id": accountID,
		"threat_id":  event.ID,
	})
	return fmt.Sprintf("locked account %s", accountID), nil
}

func (b *builtinActions) accountControl(op string) ActionHandlerFunc {
	return func(_ context.Context, event *ThreatEvent) (string, error) {
		accountID := event.AccountID()
		if accountID == "" {
			return "", fmt.Errorf("threat %s carries no account_id", event.ID)
		}
		b.publish("grid.control.accounts", map[string]interface{}{
			"op":         op,
			"account_id": accountID,
			"threat_id":  event.ID,
		})
		b.logger.Info().
			Str("account_id", accountID).
			Str("op", op).
			Msg("account control event emitted")
		return fmt.Sprintf("%s for account %s", op, accountID), nil
	}
}

// ─── System level ────────────────────────────────────────────────────────────

func (b *builtinActions) alertOperators(_ context.Context, event *ThreatEvent) (string, error) {
	b.logger.Warn().
		Str("threat_id", event.ID).
		Str("threat_type", string(event.Type)).
		Str("severity", event.Severity.String()).
		Msg("OPERATOR ALERT: active threat response in progress")
	b.publish("grid.alerts.operators", event)
	if b.notifier != nil {
		b.notifier.Notify(OperatorAlert{
			ThreatID:   event.ID,
			ThreatType: string(event.Type),
			Severity:   event.Severity.String(),
			Message:    "automated response engaged",
			Details:    event.Details,
			RaisedAt:   time.Now().UTC(),
		})
	}
	return "operators alerted", nil
}

func (b *builtinActions) backupCriticalData(_ context.Context, event *ThreatEvent) (string, error) {
	b.publish("grid.control.backup", map[string]interface{}{
		"op":        "backup_critical",
		"threat_id": event.ID,
	})
	b.logger.Info().Str("threat_id", event.ID).Msg("critical data backup triggered")
	return "backup triggered", nil
}

func (b *builtinActions) captureForensicSnapshot(_ context.Context, event *ThreatEvent) (string, error) {
	if b.store == nil {
		return "", fmt.Errorf("no store configured for forensic capture")
	}
	payload, err := event.Marshal()
	if err != nil {
		return "", fmt.Errorf("serializing threat context: %w", err)
	}
	snap := &store.ForensicSnapshot{
		ID:         uuid.New().String(),
		ThreatID:   event.ID,
		CapturedAt: time.Now().UTC(),
		Payload:    string(payload),
	}
	if err := b.store.SaveSnapshot(snap); err != nil {
		return "", fmt.Errorf("persisting snapshot: %w", err)
	}
	return fmt.Sprintf("snapshot %s captured", snap.ID), nil
}

// publish best-effort emits a control event; the bus is optional and a
// publish failure must not fail the action itself.
func (b *builtinActions) publish(subject string, payload interface{}) {
	if b.bus == nil {
		return
	}
	if err := b.bus.PublishControl(subject, payload); err != nil {
		b.logger.Warn().Err(err).Str("subject", subject).Msg("control event publish failed")
	}
}
