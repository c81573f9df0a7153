package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Severity represents the severity level of a threat event or response action.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity converts a severity string to a Severity. Unknown strings map to LOW.
func ParseSeverity(s string) Severity {
	switch s {
	case "MEDIUM":
		return SeverityMedium
	case "HIGH":
		return SeverityHigh
	case "CRITICAL":
		return SeverityCritical
	default:
		return SeverityLow
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseSeverity(str)
	return nil
}

// ThreatType enumerates the threat classifications produced by the detection layer.
type ThreatType string

const (
	ThreatModbusFlooding      ThreatType = "modbus_flooding"
	ThreatUnauthorizedControl ThreatType = "unauthorized_control"
	ThreatManInTheMiddle      ThreatType = "man_in_the_middle"
	ThreatDataInjection       ThreatType = "data_injection"
	ThreatReplayAttack        ThreatType = "replay_attack"
	ThreatCredentialStuffing  ThreatType = "credential_stuffing"
	ThreatDoSAttack           ThreatType = "dos_attack"
	ThreatNetworkScan         ThreatType = "network_scan"
	ThreatSensorAnomaly       ThreatType = "sensor_anomaly"
	ThreatFirmwareTampering   ThreatType = "firmware_tampering"
)

// ThreatEvent is the immutable input consumed from the detection engine.
// The engine never mutates it; Details is opaque structured context
// (source address, device identifier, account identifier, ...).
type ThreatEvent struct {
	ID         string                 `json:"id"`
	Type       ThreatType             `json:"type"`
	Severity   Severity               `json:"severity"`
	Details    map[string]interface{} `json:"details,omitempty"`
	DetectedAt time.Time              `json:"detected_at"`
}

// NewThreatEvent creates a ThreatEvent with a generated ID and current timestamp.
func NewThreatEvent(threatType ThreatType, severity Severity) *ThreatEvent {
	return &ThreatEvent{
		ID:         uuid.New().String(),
		Type:       threatType,
		Severity:   severity,
		Details:    make(map[string]interface{}),
		DetectedAt: time.Now().UTC(),
	}
}

// Marshal serializes the event to JSON.
func (e *ThreatEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalThreatEvent deserializes a ThreatEvent from JSON.
func UnmarshalThreatEvent(data []byte) (*ThreatEvent, error) {
	var event ThreatEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// SourceAddress returns the source network address from the event details, if present.
func (e *ThreatEvent) SourceAddress() string {
	return e.stringDetail("source_address")
}

// DeviceID returns the targeted device identifier from the event details, if present.
func (e *ThreatEvent) DeviceID() string {
	return e.stringDetail("device_id")
}

// AccountID returns the implicated account identifier from the event details, if present.
func (e *ThreatEvent) AccountID() string {
	return e.stringDetail("account_id")
}

func (e *ThreatEvent) stringDetail(key string) string {
	if e.Details == nil {
		return ""
	}
	v, _ := e.Details[key].(string)
	return v
}
