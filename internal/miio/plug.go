package miio

import (
	"context"
	"encoding/json"
	"fmt"
)

// Plug is a miio smart plug or power strip (chuangmi.plug.*, qmi.powerstrip.*,
// zimi.powerstrip.*). All of these expose power via get_prop / set_power.
type Plug struct {
	*Device
}

// NewPlug wraps a transport as a plug.
func NewPlug(device *Device) *Plug {
	return &Plug{Device: device}
}

// PlugStatus is a point-in-time reading from get_prop.
type PlugStatus struct {
	Power bool

	// Temperature is the internal sensor reading in degrees Celsius.
	// Zero when the model does not report one.
	Temperature float64
}

// Status queries the plug's power state and temperature.
func (p *Plug) Status(ctx context.Context) (*PlugStatus, error) {
	result, err := p.Send(ctx, "get_prop", []string{"power", "temperature"})
	if err != nil {
		return nil, err
	}

	// Result order mirrors the request: ["on", 41].
	var values []json.RawMessage
	if err := json.Unmarshal(result, &values); err != nil {
		return nil, fmt.Errorf("%w: decoding get_prop: %w", ErrMalformedReply, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: empty get_prop result", ErrMalformedReply)
	}

	status := &PlugStatus{}

	var power string
	if err := json.Unmarshal(values[0], &power); err != nil {
		return nil, fmt.Errorf("%w: decoding power: %w", ErrMalformedReply, err)
	}
	status.Power = power == "on"

	if len(values) > 1 {
		// Temperature is optional and numeric; ignore decode failures so
		// models that return null do not break polling.
		_ = json.Unmarshal(values[1], &status.Temperature)
	}
	return status, nil
}

// SetPower switches the plug on or off.
func (p *Plug) SetPower(ctx context.Context, on bool) error {
	state := "off"
	if on {
		state = "on"
	}

	result, err := p.Send(ctx, "set_power", []string{state})
	if err != nil {
		return err
	}
	return expectOK(result, "set_power")
}

// expectOK verifies the conventional ["ok"] acknowledgement.
func expectOK(result json.RawMessage, method string) error {
	var values []string
	if err := json.Unmarshal(result, &values); err != nil {
		return fmt.Errorf("%w: decoding %s result: %w", ErrMalformedReply, method, err)
	}
	if len(values) == 0 || values[0] != "ok" {
		return fmt.Errorf("%w: %s returned %v", ErrMalformedReply, method, values)
	}
	return nil
}
