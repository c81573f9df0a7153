package core

import (
	"fmt"
	"testing"
	"time"
)

func dedupEvent(id string, threatType ThreatType, source string) *ThreatEvent {
	e := NewThreatEvent(threatType, SeverityHigh)
	e.ID = id
	e.Details["source_address"] = source
	return e
}

func TestThreatDedup_NewEvent_NotDuplicate(t *testing.T) {
	d := NewThreatDedup(5*time.Second, 1000)
	if d.IsDuplicate(dedupEvent("t-1", ThreatModbusFlooding, "10.0.0.1")) {
		t.Error("first event should not be a duplicate")
	}
}

func TestThreatDedup_SameEvent_IsDuplicate(t *testing.T) {
	d := NewThreatDedup(5*time.Second, 1000)
	e := dedupEvent("t-1", ThreatModbusFlooding, "10.0.0.1")
	d.IsDuplicate(e)
	if !d.IsDuplicate(e) {
		t.Error("redelivered event should be a duplicate")
	}
}

func TestThreatDedup_DifferentType_NotDuplicate(t *testing.T) {
	d := NewThreatDedup(5*time.Second, 1000)
	d.IsDuplicate(dedupEvent("t-1", ThreatModbusFlooding, "10.0.0.1"))
	if d.IsDuplicate(dedupEvent("t-1", ThreatNetworkScan, "10.0.0.1")) {
		t.Error("different threat type should not be a duplicate")
	}
}

func TestThreatDedup_DifferentSource_NotDuplicate(t *testing.T) {
	d := NewThreatDedup(5*time.Second, 1000)
	d.IsDuplicate(dedupEvent("t-1", ThreatModbusFlooding, "10.0.0.1"))
	if d.IsDuplicate(dedupEvent("t-1", ThreatModbusFlooding, "10.0.0.2")) {
		t.Error("different source address should not be a duplicate")
	}
}

func TestThreatDedup_DifferentDevice_NotDuplicate(t *testing.T) {
	d := NewThreatDedup(5*time.Second, 1000)
	e1 := dedupEvent("t-1", ThreatFirmwareTampering, "")
	e1.Details["device_id"] = "RTU_NORTH_01"
	e2 := dedupEvent("t-1", ThreatFirmwareTampering, "")
	e2.Details["device_id"] = "RTU_SOUTH_02"
	d.IsDuplicate(e1)
	if d.IsDuplicate(e2) {
		t.Error("different device should not be a duplicate")
	}
}

func TestThreatDedup_TTLExpiry(t *testing.T) {
	d := NewThreatDedup(50*time.Millisecond, 1000)
	e := dedupEvent("t-1", ThreatModbusFlooding, "10.0.0.1")
	d.IsDuplicate(e)
	time.Sleep(100 * time.Millisecond)
	if d.IsDuplicate(e) {
		t.Error("event past the TTL window should not be a duplicate")
	}
}

func TestThreatDedup_CapacityEviction(t *testing.T) {
	d := NewThreatDedup(time.Minute, 10)
	for i := 0; i < 25; i++ {
		d.IsDuplicate(dedupEvent(fmt.Sprintf("t-%d", i), ThreatNetworkScan, "10.0.0.1"))
	}
	if d.Size() > 15 {
		t.Errorf("cache should evict past capacity, size = %d", d.Size())
	}
}

func TestThreatDedup_StartCleanup_Evicts(t *testing.T) {
	d := NewThreatDedup(20*time.Millisecond, 1000)
	stop := d.StartCleanup(10 * time.Millisecond)
	defer stop()

	d.IsDuplicate(dedupEvent("t-1", ThreatModbusFlooding, "10.0.0.1"))
	time.Sleep(80 * time.Millisecond)
	if d.Size() != 0 {
		t.Errorf("cleanup loop should evict expired entries, size = %d", d.Size())
	}
}
