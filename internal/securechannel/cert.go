package securechannel

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidCertificate = errors.New("invalid device certificate")

// DeviceCertificate binds a device identity to its X25519 sealing key,
// signed by a provisioning trust anchor.
type DeviceCertificate struct {
	DeviceID  string    `json:"device_id"`
	PublicKey [32]byte  `json:"public_key"`
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
	Signature []byte    `json:"signature"`
}

// signingPayload is the canonical byte string the anchor signs: length-prefixed
// device ID, the sealing key, and the validity window as unix seconds.
func (c *DeviceCertificate) signingPayload() []byte {
	buf := make([]byte, 0, 4+len(c.DeviceID)+32+16)
	var n [8]byte
	binary.BigEndian.PutUint32(n[:4], uint32(len(c.DeviceID)))
	buf = append(buf, n[:4]...)
	buf = append(buf, c.DeviceID...)
	buf = append(buf, c.PublicKey[:]...)
	binary.BigEndian.PutUint64(n[:], uint64(c.NotBefore.Unix()))
	buf = append(buf, n[:]...)
	binary.BigEndian.PutUint64(n[:], uint64(c.NotAfter.Unix()))
	buf = append(buf, n[:]...)
	return buf
}

// IssueCertificate signs a device certificate with a trust anchor key.
// Used by provisioning tooling and tests; the engine itself only verifies.
func IssueCertificate(anchor ed25519.PrivateKey, deviceID string, devicePub [32]byte, validFor time.Duration) *DeviceCertificate {
	now := time.Now().UTC()
	cert := &DeviceCertificate{
		DeviceID:  deviceID,
		PublicKey: devicePub,
		NotBefore: now,
		NotAfter:  now.Add(validFor),
	}
	cert.Signature = ed25519.Sign(anchor, cert.signingPayload())
	return cert
}

// TrustStore holds the provisioning anchors device certificates are verified
// against. Anchors are fixed at construction.
type TrustStore struct {
	anchors []ed25519.PublicKey
}

// NewTrustStore creates a trust store over the given anchor public keys.
func NewTrustStore(anchors ...ed25519.PublicKey) *TrustStore {
	ts := &TrustStore{anchors: make([]ed25519.PublicKey, len(anchors))}
	copy(ts.anchors, anchors)
	return ts
}

// Verify checks the certificate's validity window and signature against the
// trust anchors. Any failure is ErrInvalidCertificate.
func (ts *TrustStore) Verify(cert *DeviceCertificate, now time.Time) error {
	if cert == nil || cert.DeviceID == "" {
		return fmt.Errorf("%w: missing device identity", ErrInvalidCertificate)
	}
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return fmt.Errorf("%w: outside validity window for device %s", ErrInvalidCertificate, cert.DeviceID)
	}

	payload := cert.signingPayload()
	for _, anchor := range ts.anchors {
		if ed25519.Verify(anchor, payload, cert.Signature) {
			return nil
		}
	}
	return fmt.Errorf("%w: signature not issued by a trusted anchor (device %s)", ErrInvalidCertificate, cert.DeviceID)
}
