package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gridward-project/gridward/internal/securechannel"
)

// ControlPlane is the device/network control plane the engine drives. It is
// an external collaborator: the engine produces calls and envelopes, the
// control plane implements the actual filtering and device transport.
type ControlPlane interface {
	// BlockAddress drops all traffic from a network address.
	BlockAddress(ctx context.Context, address string) error
	// RateLimitAddress throttles traffic from a network address.
	RateLimitAddress(ctx context.Context, address string) error
	// RedirectToHoneypot reroutes an address's traffic to a decoy endpoint.
	RedirectToHoneypot(ctx context.Context, address string) error
	// IsolateDevice cuts a field device off from the operational network.
	IsolateDevice(ctx context.Context, deviceID string) error
	// AnnounceSession delivers a sealed session key to a device as part of
	// secure-session establishment.
	AnnounceSession(ctx context.Context, deviceID, sessionID string, sealedKey []byte) error
	// DeliverEnvelope transports an encrypted command envelope to a device
	// and returns the device's encrypted response envelope.
	DeliverEnvelope(ctx context.Context, deviceID string, env *securechannel.EncryptedEnvelope) (*securechannel.EncryptedEnvelope, error)
}

// LogControlPlane is the development/standalone adapter: network actions are
// logged and acknowledged, and command envelopes are echoed back so the
// response path stays exercised end to end.
type LogControlPlane struct {
	logger zerolog.Logger
}

// NewLogControlPlane creates a logging control-plane adapter.
func NewLogControlPlane(logger zerolog.Logger) *LogControlPlane {
	return &LogControlPlane{
		logger: logger.With().Str("component", "control_plane").Logger(),
	}
}

func (p *LogControlPlane) BlockAddress(_ context.Context, address string) error {
	p.logger.Info().Str("address", address).Msg("control plane: block address")
	return nil
}

func (p *LogControlPlane) RateLimitAddress(_ context.Context, address string) error {
	p.logger.Info().Str("address", address).Msg("control plane: rate limit address")
	return nil
}

func (p *LogControlPlane) RedirectToHoneypot(_ context.Context, address string) error {
	p.logger.Info().Str("address", address).Msg("control plane: redirect to honeypot")
	return nil
}

func (p *LogControlPlane) IsolateDevice(_ context.Context, deviceID string) error {
	p.logger.Info().Str("device_id", deviceID).Msg("control plane: isolate device")
	return nil
}

func (p *LogControlPlane) AnnounceSession(_ context.Context, deviceID, sessionID string, _ []byte) error {
	p.logger.Info().
		Str("device_id", deviceID).
		Str("session_id", sessionID).
		Msg("control plane: session announced")
	return nil
}

func (p *LogControlPlane) DeliverEnvelope(_ context.Context, deviceID string, env *securechannel.EncryptedEnvelope) (*securechannel.EncryptedEnvelope, error) {
	p.logger.Info().
		Str("device_id", deviceID).
		Str("session_id", env.SessionID).
		Int("ciphertext_bytes", len(env.Ciphertext)).
		Msg("control plane: envelope delivered (echo)")
	return env, nil
}

// controlPlaneRequest is the wire shape for network-level control calls over NATS.
type controlPlaneRequest struct {
	Op      string `json:"op"`
	Target  string `json:"target"`
	Payload []byte `json:"payload,omitempty"`
}

type controlPlaneReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// NATSControlPlane drives a remote control plane over NATS request/reply.
// Network ops go to grid.control.<op>; device envelopes to
// grid.commands.<deviceID>.
type NATSControlPlane struct {
	bus     *EventBus
	logger  zerolog.Logger
	timeout time.Duration
}

// NewNATSControlPlane creates a NATS-backed control-plane adapter.
func NewNATSControlPlane(bus *EventBus, logger zerolog.Logger, timeout time.Duration) *NATSControlPlane {
	return &NATSControlPlane{
		bus:     bus,
		logger:  logger.With().Str("component", "control_plane").Logger(),
		timeout: timeout,
	}
}

func (p *NATSControlPlane) networkOp(ctx context.Context, op, target string) error {
	data, err := json.Marshal(controlPlaneRequest{Op: op, Target: target})
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", op, err)
	}
	respData, err := p.bus.Request(ctx, "grid.control."+op, data, p.timeout)
	if err != nil {
		return fmt.Errorf("control plane %s for %s: %w", op, target, err)
	}
	var reply controlPlaneReply
	if err := json.Unmarshal(respData, &reply); err != nil {
		return fmt.Errorf("decoding %s reply: %w", op, err)
	}
	if !reply.OK {
		return fmt.Errorf("control plane %s for %s rejected: %s", op, target, reply.Error)
	}
	return nil
}

func (p *NATSControlPlane) BlockAddress(ctx context.Context, address string) error {
	return p.networkOp(ctx, "block", address)
}

func (p *NATSControlPlane) RateLimitAddress(ctx context.Context, address string) error {
	return p.networkOp(ctx, "ratelimit", address)
}

func (p *NATSControlPlane) RedirectToHoneypot(ctx context.Context, address string) error {
	return p.networkOp(ctx, "honeypot", address)
}

func (p *NATSControlPlane) IsolateDevice(ctx context.Context, deviceID string) error {
	return p.networkOp(ctx, "isolate", deviceID)
}

func (p *NATSControlPlane) AnnounceSession(ctx context.Context, deviceID, sessionID string, sealedKey []byte) error {
	data, err := json.Marshal(controlPlaneRequest{Op: "session", Target: sessionID, Payload: sealedKey})
	if err != nil {
		return fmt.Errorf("marshaling session announcement: %w", err)
	}
	respData, err := p.bus.Request(ctx, "grid.commands."+deviceID+".session", data, p.timeout)
	if err != nil {
		return fmt.Errorf("announcing session to %s: %w", deviceID, err)
	}
	var reply controlPlaneReply
	if err := json.Unmarshal(respData, &reply); err != nil {
		return fmt.Errorf("decoding session reply: %w", err)
	}
	if !reply.OK {
		return fmt.Errorf("device %s rejected session: %s", deviceID, reply.Error)
	}
	return nil
}

func (p *NATSControlPlane) DeliverEnvelope(ctx context.Context, deviceID string, env *securechannel.EncryptedEnvelope) (*securechannel.EncryptedEnvelope, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope: %w", err)
	}
	respData, err := p.bus.Request(ctx, "grid.commands."+deviceID, data, p.timeout)
	if err != nil {
		return nil, fmt.Errorf("delivering envelope to %s: %w", deviceID, err)
	}
	var resp securechannel.EncryptedEnvelope
	if err := json.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("decoding response envelope from %s: %w", deviceID, err)
	}
	return &resp, nil
}
