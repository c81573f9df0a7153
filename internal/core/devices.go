package core

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/gridward-project/gridward/internal/securechannel"
)

// DeviceRegistry holds the provisioning certificates of known field devices.
// The secure channel needs a device's certificate before the engine can
// address it; devices absent from the registry cannot receive commands.
type DeviceRegistry struct {
	mu    sync.RWMutex
	certs map[string]*securechannel.DeviceCertificate
}

// NewDeviceRegistry creates an empty registry.
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{
		certs: make(map[string]*securechannel.DeviceCertificate),
	}
}

// Register adds or replaces a device certificate.
func (r *DeviceRegistry) Register(cert *securechannel.DeviceCertificate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.certs[cert.DeviceID] = cert
}

// CertificateFor returns the certificate for a device id.
func (r *DeviceRegistry) CertificateFor(deviceID string) (*securechannel.DeviceCertificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cert, ok := r.certs[deviceID]
	if !ok {
		return nil, fmt.Errorf("device %s not provisioned", deviceID)
	}
	return cert, nil
}

// Count returns the number of provisioned devices.
func (r *DeviceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.certs)
}

// LoadCertificateFile reads a JSON-encoded device certificate from disk and
// registers it.
func (r *DeviceRegistry) LoadCertificateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading device certificate %s: %w", path, err)
	}
	var cert securechannel.DeviceCertificate
	if err := json.Unmarshal(data, &cert); err != nil {
		return fmt.Errorf("parsing device certificate %s: %w", path, err)
	}
	if cert.DeviceID == "" {
		return fmt.Errorf("device certificate %s has no device_id", path)
	}
	r.Register(&cert)
	return nil
}
