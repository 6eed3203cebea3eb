package xiaomi

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-bridges/internal/bridges"
	"github.com/nerrad567/gray-logic-bridges/internal/miio"
)

// mockProperties implements propertyDevice.
type mockProperties struct {
	values  map[string]string
	err     error
	gotKeys []string
}

func (m *mockProperties) Properties(_ context.Context, keys []string) ([]json.RawMessage, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.gotKeys = keys
	values := make([]json.RawMessage, len(keys))
	for i, key := range keys {
		raw, ok := m.values[key]
		if !ok {
			raw = "null"
		}
		values[i] = json.RawMessage(raw)
	}
	return values, nil
}

func (m *mockProperties) Close() error { return nil }

func TestSensorRefresh(t *testing.T) {
	device := &mockProperties{values: map[string]string{
		"no_water":            "true",
		"water_tank_detached": "false",
		"temperature":         "38.5",
		"mode":                `"silent"`,
	}}
	entity, err := NewSensorEntity("humidifier-bedroom", "Bedroom Humidifier", device, []PropertySpec{
		{Name: "water_tank_empty", Property: "no_water"},
		{Name: "water_tank", Property: "water_tank_detached", Invert: true},
		{Name: "temperature"},
		{Name: "mode"},
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewSensorEntity() error = %v", err)
	}

	state, err := entity.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if state["water_tank_empty"] != true {
		t.Errorf("water_tank_empty = %v, want true", state["water_tank_empty"])
	}
	if state["water_tank"] != true {
		t.Errorf("water_tank = %v, want inverted true", state["water_tank"])
	}
	if state["temperature"] != 38.5 {
		t.Errorf("temperature = %v, want 38.5", state["temperature"])
	}
	if state["mode"] != "silent" {
		t.Errorf("mode = %v, want silent", state["mode"])
	}
	if state["name"] != "Bedroom Humidifier" {
		t.Errorf("name = %v", state["name"])
	}

	want := []string{"no_water", "water_tank_detached", "temperature", "mode"}
	if len(device.gotKeys) != len(want) {
		t.Fatalf("queried keys = %v, want %v", device.gotKeys, want)
	}
	for i, key := range want {
		if device.gotKeys[i] != key {
			t.Errorf("key[%d] = %q, want %q", i, device.gotKeys[i], key)
		}
	}
}

func TestSensorRefreshSkipsNullReadings(t *testing.T) {
	device := &mockProperties{values: map[string]string{"power": `"on"`}}
	entity, err := NewSensorEntity("plug-diag", "", device, []PropertySpec{
		{Name: "power"},
		{Name: "temperature"},
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewSensorEntity() error = %v", err)
	}

	state, err := entity.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if state["power"] != true {
		t.Errorf("power = %v, want true for \"on\"", state["power"])
	}
	if _, present := state["temperature"]; present {
		t.Errorf("temperature = %v, want absent for null reading", state["temperature"])
	}
}

func TestSensorRefreshError(t *testing.T) {
	device := &mockProperties{err: miio.ErrDeviceUnreachable}
	entity, err := NewSensorEntity("plug-diag", "", device, []PropertySpec{{Name: "power"}}, nil, nil)
	if err != nil {
		t.Fatalf("NewSensorEntity() error = %v", err)
	}

	if _, err := entity.Refresh(context.Background()); !errors.Is(err, miio.ErrDeviceUnreachable) {
		t.Errorf("Refresh() error = %v", err)
	}
}

func TestSensorRejectsCommands(t *testing.T) {
	device := &mockProperties{values: map[string]string{"power": "true"}}
	entity, err := NewSensorEntity("plug-diag", "", device, []PropertySpec{{Name: "power"}}, nil, nil)
	if err != nil {
		t.Fatalf("NewSensorEntity() error = %v", err)
	}

	if _, err := entity.Execute(context.Background(), &bridges.CommandMessage{Command: "on"}); !errors.Is(err, errUnknownCommand) {
		t.Errorf("Execute() error = %v, want errUnknownCommand", err)
	}
}

func TestNewSensorEntityValidation(t *testing.T) {
	device := &mockProperties{}

	if _, err := NewSensorEntity("plug-diag", "", device, nil, nil, nil); err == nil {
		t.Error("NewSensorEntity() with no properties returned nil error")
	}
	if _, err := NewSensorEntity("plug-diag", "", device, []PropertySpec{{Property: "power"}}, nil, nil); err == nil {
		t.Error("NewSensorEntity() with unnamed property returned nil error")
	}
}
