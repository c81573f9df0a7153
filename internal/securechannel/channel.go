package securechannel

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/box"
)

// ---------------------------------------------------------------------------
// channel.go — per-device secure command channel.
//
// Session establishment verifies the device certificate against the trust
// store and generates a fresh symmetric session key, returned to the caller
// sealed for the device's public key — only the legitimate device can unseal
// it. Commands are encrypted under HKDF-derived subkeys with encrypt-then-MAC;
// responses are verified before any decryption is attempted. Sessions are
// addressable by opaque id only, so a command envelope cannot be replayed
// against a different device.
// ---------------------------------------------------------------------------

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrIntegrity      = errors.New("integrity check failed")
)

const (
	sessionKeySize = 32
	nonceSize      = aes.BlockSize
)

// HKDF labels for the two subkeys derived from a session key. The device
// side derives the same pair after unsealing the key.
var (
	infoEncryption = []byte("gridward/v1/command-encryption")
	infoIntegrity  = []byte("gridward/v1/command-integrity")
)

// EncryptedEnvelope is the wire shape delivered to the control plane. The
// engine is transport-agnostic; it only produces and consumes this shape.
type EncryptedEnvelope struct {
	SessionID    string `json:"session_id"`
	Nonce        []byte `json:"nonce"`
	Ciphertext   []byte `json:"ciphertext"`
	IntegrityTag []byte `json:"integrity_tag"`
}

// Session is the per-device cryptographic context. Owned exclusively by the
// Channel; never handed out. The mutex serializes commands through one
// session so concurrent callers cannot interleave a device's traffic.
type session struct {
	mu            sync.Mutex
	id            string
	deviceID      string
	key           [sessionKeySize]byte
	establishedAt time.Time
	lastUsedAt    time.Time // guarded by mu
}

// lastUsed reads lastUsedAt under the session mutex so snapshot and expiry
// paths never observe a torn time.Time.
func (s *session) lastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsedAt
}

// EstablishResult is returned to the caller of EstablishSession: the opaque
// session handle plus the session key sealed for the device's public key.
type EstablishResult struct {
	SessionID     string    `json:"session_id"`
	DeviceID      string    `json:"device_id"`
	SealedKey     []byte    `json:"sealed_key"`
	EstablishedAt time.Time `json:"established_at"`
}

// SessionInfo is a read-only snapshot for the status API.
type SessionInfo struct {
	SessionID     string    `json:"session_id"`
	DeviceID      string    `json:"device_id"`
	EstablishedAt time.Time `json:"established_at"`
	LastUsedAt    time.Time `json:"last_used_at"`
}

// Channel owns all device sessions and performs command encryption and
// response verification.
type Channel struct {
	mu       sync.RWMutex
	logger   zerolog.Logger
	trust    *TrustStore
	sessions map[string]*session
	maxIdle  time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewChannel creates a secure command channel. Sessions idle longer than
// maxIdle are torn down by a background loop, bounding session lifetime.
func NewChannel(logger zerolog.Logger, trust *TrustStore, maxIdle time.Duration) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		logger:   logger.With().Str("component", "secure_channel").Logger(),
		trust:    trust,
		sessions: make(map[string]*session),
		maxIdle:  maxIdle,
		ctx:      ctx,
		cancel:   cancel,
	}
	go c.expiryLoop()
	return c
}

// EstablishSession verifies the device certificate, generates a fresh session
// key, and returns the session handle plus the key sealed for the device's
// public key. Fails with ErrInvalidCertificate if the credential does not
// verify against the trust store.
func (c *Channel) EstablishSession(cert *DeviceCertificate) (*EstablishResult, error) {
	if err := c.trust.Verify(cert, time.Now().UTC()); err != nil {
		c.logger.Warn().Err(err).Msg("session establishment rejected")
		return nil, err
	}

	s := &session{
		id:            uuid.New().String(),
		deviceID:      cert.DeviceID,
		establishedAt: time.Now().UTC(),
	}
	s.lastUsedAt = s.establishedAt
	if _, err := io.ReadFull(rand.Reader, s.key[:]); err != nil {
		return nil, fmt.Errorf("generating session key: %w", err)
	}

	devicePub := cert.PublicKey
	sealed, err := box.SealAnonymous(nil, s.key[:], &devicePub, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sealing session key for device %s: %w", cert.DeviceID, err)
	}

	c.mu.Lock()
	c.sessions[s.id] = s
	c.mu.Unlock()

	c.logger.Info().
		Str("session_id", s.id).
		Str("device_id", cert.DeviceID).
		Msg("device session established")

	return &EstablishResult{
		SessionID:     s.id,
		DeviceID:      cert.DeviceID,
		SealedKey:     sealed,
		EstablishedAt: s.establishedAt,
	}, nil
}

// EncryptCommand serializes command to JSON, encrypts it under the session
// key with a fresh random nonce, and attaches an integrity tag computed over
// the ciphertext. Fails with ErrUnknownSession for an unknown id.
func (c *Channel) EncryptCommand(sessionID string, command interface{}) (*EncryptedEnvelope, error) {
	s, err := c.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("serializing command: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsedAt = time.Now().UTC()

	encKey, macKey, err := deriveSubkeys(s.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, nonce).XORKeyStream(ciphertext, plaintext)

	return &EncryptedEnvelope{
		SessionID:    s.id,
		Nonce:        nonce,
		Ciphertext:   ciphertext,
		IntegrityTag: computeTag(macKey, s.id, nonce, ciphertext),
	}, nil
}

// DecryptResponse recomputes and compares the envelope's integrity tag before
// decrypting. Any mismatch fails closed with ErrIntegrity: no decryption is
// attempted on tampered input.
func (c *Channel) DecryptResponse(sessionID string, env *EncryptedEnvelope) ([]byte, error) {
	s, err := c.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsedAt = time.Now().UTC()

	encKey, macKey, err := deriveSubkeys(s.key)
	if err != nil {
		return nil, err
	}

	expected := computeTag(macKey, s.id, env.Nonce, env.Ciphertext)
	if !hmac.Equal(expected, env.IntegrityTag) {
		c.logger.Warn().
			Str("session_id", s.id).
			Str("device_id", s.deviceID).
			Msg("response failed integrity check — possible tampering")
		return nil, fmt.Errorf("%w: session %s", ErrIntegrity, s.id)
	}
	if len(env.Nonce) != nonceSize {
		return nil, fmt.Errorf("%w: bad nonce length %d", ErrIntegrity, len(env.Nonce))
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	plaintext := make([]byte, len(env.Ciphertext))
	cipher.NewCTR(block, env.Nonce).XORKeyStream(plaintext, env.Ciphertext)
	return plaintext, nil
}

// SessionForDevice returns the id of an existing live session for a device,
// or "" if none. Callers that get "" must establish a session first; there is
// no way to address a device without one.
func (c *Channel) SessionForDevice(deviceID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, s := range c.sessions {
		if s.deviceID == deviceID {
			return id
		}
	}
	return ""
}

// Teardown destroys a session. Returns false if the id is unknown.
func (c *Channel) Teardown(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[sessionID]; !ok {
		return false
	}
	delete(c.sessions, sessionID)
	c.logger.Info().Str("session_id", sessionID).Msg("session torn down")
	return true
}

// Sessions returns snapshots of all live sessions.
func (c *Channel) Sessions() []SessionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]SessionInfo, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, SessionInfo{
			SessionID:     s.id,
			DeviceID:      s.deviceID,
			EstablishedAt: s.establishedAt,
			LastUsedAt:    s.lastUsed(),
		})
	}
	return out
}

// Close stops the expiry loop and destroys all sessions.
func (c *Channel) Close() {
	c.cancel()
	c.mu.Lock()
	c.sessions = make(map[string]*session)
	c.mu.Unlock()
	c.logger.Info().Msg("secure channel closed")
}

func (c *Channel) lookup(sessionID string) (*session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return s, nil
}

func (c *Channel) expiryLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			c.mu.Lock()
			for id, s := range c.sessions {
				if now.Sub(s.lastUsed()) > c.maxIdle {
					delete(c.sessions, id)
					c.logger.Info().
						Str("session_id", id).
						Str("device_id", s.deviceID).
						Msg("idle session expired")
				}
			}
			c.mu.Unlock()
		}
	}
}

// deriveSubkeys expands a session key into independent encryption and
// integrity keys.
func deriveSubkeys(key [sessionKeySize]byte) (encKey, macKey []byte, err error) {
	encKey = make([]byte, sessionKeySize)
	if _, err = io.ReadFull(hkdf.New(sha256.New, key[:], nil, infoEncryption), encKey); err != nil {
		return nil, nil, fmt.Errorf("deriving encryption key: %w", err)
	}
	macKey = make([]byte, sessionKeySize)
	if _, err = io.ReadFull(hkdf.New(sha256.New, key[:], nil, infoIntegrity), macKey); err != nil {
		return nil, nil, fmt.Errorf("deriving integrity key: %w", err)
	}
	return encKey, macKey, nil
}

// computeTag binds the tag to the session, the nonce, and the ciphertext so
// no piece of the envelope can be swapped independently.
func computeTag(macKey []byte, sessionID string, nonce, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, macKey)
	mac.Write([]byte(sessionID))
	mac.Write(nonce)
	mac.Write(ciphertext)
	return mac.Sum(nil)
}

// UnsealSessionKey recovers a sealed session key with the device's keypair.
// This is the device-side half of establishment; it lives here so simulators
// and tests share one implementation of the scheme.
func UnsealSessionKey(sealed []byte, devicePub, devicePriv *[32]byte) ([sessionKeySize]byte, error) {
	var key [sessionKeySize]byte
	opened, ok := box.OpenAnonymous(nil, sealed, devicePub, devicePriv)
	if !ok || len(opened) != sessionKeySize {
		return key, fmt.Errorf("%w: sealed key does not open", ErrInvalidCertificate)
	}
	copy(key[:], opened)
	return key, nil
}

// DeviceSeal encrypts a device-side response under a session key using the
// same envelope scheme the channel expects. Simulator/test helper.
func DeviceSeal(key [sessionKeySize]byte, sessionID string, plaintext []byte) (*EncryptedEnvelope, error) {
	encKey, macKey, err := deriveSubkeys(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, nonce).XORKeyStream(ciphertext, plaintext)
	return &EncryptedEnvelope{
		SessionID:    sessionID,
		Nonce:        nonce,
		Ciphertext:   ciphertext,
		IntegrityTag: computeTag(macKey, sessionID, nonce, ciphertext),
	}, nil
}
