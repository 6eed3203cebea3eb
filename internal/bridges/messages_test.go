package bridges

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewAck(t *testing.T) {
	cmd := &CommandMessage{
		ID:       "cmd-123",
		DeviceID: "vacuum-lounge",
		Command:  "start",
	}

	ack := NewAck(cmd, "xiaomi", "192.168.1.60", AckAccepted, nil)
	if ack.CommandID != "cmd-123" {
		t.Errorf("CommandID = %q", ack.CommandID)
	}
	if ack.DeviceID != "vacuum-lounge" {
		t.Errorf("DeviceID = %q", ack.DeviceID)
	}
	if ack.Protocol != "xiaomi" || ack.Address != "192.168.1.60" {
		t.Errorf("Protocol/Address = %q/%q", ack.Protocol, ack.Address)
	}
	if ack.Error != nil {
		t.Error("Error set on accepted ack")
	}

	failed := NewAck(cmd, "xiaomi", "192.168.1.60", AckFailed, &AckError{
		Code:    ErrCodeDeviceUnreachable,
		Message: "no reply",
	})
	if failed.Status != AckFailed {
		t.Errorf("Status = %q, want failed", failed.Status)
	}
	if failed.Error == nil || failed.Error.Code != ErrCodeDeviceUnreachable {
		t.Errorf("Error = %+v", failed.Error)
	}
}

func TestAckMessageOmitsEmptyError(t *testing.T) {
	ack := NewAck(&CommandMessage{ID: "x"}, "presence", "mac", AckAccepted, nil)

	payload, err := json.Marshal(ack)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := decoded["error"]; present {
		t.Error("error field present on accepted ack")
	}
}

func TestNewStateMessage(t *testing.T) {
	msg := NewStateMessage("presence", "aa-bb-cc-dd-ee-ff", "AA:BB:CC:DD:EE:FF", map[string]any{
		"home": true,
	})
	if msg.Protocol != "presence" {
		t.Errorf("Protocol = %q", msg.Protocol)
	}
	if msg.State["home"] != true {
		t.Errorf("State = %v", msg.State)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestNewHealthMessageUptime(t *testing.T) {
	started := time.Now().Add(-90 * time.Second)
	msg := NewHealthMessage("xiaomi", "1.0.0", HealthHealthy, 2, started)

	if msg.UptimeSeconds < 89 || msg.UptimeSeconds > 92 {
		t.Errorf("UptimeSeconds = %d, want ~90", msg.UptimeSeconds)
	}
	if msg.Bridge != "xiaomi" || msg.DevicesManaged != 2 {
		t.Errorf("Bridge/Devices = %q/%d", msg.Bridge, msg.DevicesManaged)
	}
}
