package ubus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Station is one associated wireless client as reported by iwinfo assoclist.
type Station struct {
	MAC      string `json:"mac"`
	Signal   int    `json:"signal"`
	Noise    int    `json:"noise"`
	Inactive int    `json:"inactive"`
}

// WirelessDevices returns the router's wireless interface names
// (e.g. "wlan0", "wlan1") via iwinfo.
func (c *Client) WirelessDevices(ctx context.Context) ([]string, error) {
	result, err := c.Call(ctx, "iwinfo", "devices", nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Devices []string `json:"devices"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("%w: decoding devices: %w", ErrBadResponse, err)
	}
	return payload.Devices, nil
}

// AssocList returns the stations currently associated with a wireless
// interface. MAC addresses are normalised to upper case.
func (c *Client) AssocList(ctx context.Context, device string) ([]Station, error) {
	result, err := c.Call(ctx, "iwinfo", "assoclist", map[string]any{
		"device": device,
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Results []Station `json:"results"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("%w: decoding assoclist: %w", ErrBadResponse, err)
	}

	for i := range payload.Results {
		payload.Results[i].MAC = strings.ToUpper(payload.Results[i].MAC)
	}
	return payload.Results, nil
}
