package core

import (
	"testing"
)

func TestSeverity_String(t *testing.T) {
	cases := map[Severity]string{
		SeverityLow:      "LOW",
		SeverityMedium:   "MEDIUM",
		SeverityHigh:     "HIGH",
		SeverityCritical: "CRITICAL",
	}
	for sev, want := range cases {
		if got := sev.String(); got != want {
			t.Errorf("got %s, want %s", got, want)
		}
	}
}

func TestParseSeverity_Roundtrip(t *testing.T) {
	for _, sev := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		if got := ParseSeverity(sev.String()); got != sev {
			t.Errorf("roundtrip of %s gave %s", sev, got)
		}
	}
}

func TestParseSeverity_Unknown_DefaultsLow(t *testing.T) {
	if got := ParseSeverity("nonsense"); got != SeverityLow {
		t.Errorf("got %s, want LOW", got)
	}
}

func TestThreatEvent_MarshalRoundtrip(t *testing.T) {
	event := NewThreatEvent(ThreatModbusFlooding, SeverityHigh)
	event.Details["source_address"] = "10.40.1.17"
	event.Details["device_id"] = "RTU_FEEDER_12"

	data, err := event.Marshal()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	got, err := UnmarshalThreatEvent(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got.ID != event.ID || got.Type != event.Type || got.Severity != event.Severity {
		t.Errorf("roundtrip mismatch: %+v vs %+v", got, event)
	}
	if got.SourceAddress() != "10.40.1.17" {
		t.Errorf("source address %q lost in roundtrip", got.SourceAddress())
	}
}

func TestThreatEvent_DetailAccessors_NilDetails(t *testing.T) {
	event := &ThreatEvent{ID: "x", Type: ThreatNetworkScan}
	if event.SourceAddress() != "" || event.DeviceID() != "" || event.AccountID() != "" {
		t.Error("accessors on nil details should return empty strings")
	}
}

func TestThreatEvent_DetailAccessors_WrongType(t *testing.T) {
	event := NewThreatEvent(ThreatNetworkScan, SeverityLow)
	event.Details["device_id"] = 42
	if event.DeviceID() != "" {
		t.Error("non-string detail should read as empty")
	}
}

func TestUnmarshalThreatEvent_Invalid(t *testing.T) {
	if _, err := UnmarshalThreatEvent([]byte("{not json")); err == nil {
		t.Error("invalid JSON should fail to unmarshal")
	}
}
