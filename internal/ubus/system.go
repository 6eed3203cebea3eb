package ubus

import (
	"context"
	"encoding/json"
	"fmt"
)

// LeaseFilePaths returns the leasefile option of every dnsmasq section in
// /etc/config/dhcp. Sections without a leasefile are skipped. Most routers
// have exactly one entry.
func (c *Client) LeaseFilePaths(ctx context.Context) ([]string, error) {
	result, err := c.Call(ctx, "uci", "get", map[string]any{
		"config": "dhcp",
		"type":   "dnsmasq",
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Values map[string]struct {
			LeaseFile string `json:"leasefile"`
		} `json:"values"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("%w: decoding uci dhcp config: %w", ErrBadResponse, err)
	}

	paths := make([]string, 0, len(payload.Values))
	for _, section := range payload.Values {
		if section.LeaseFile != "" {
			paths = append(paths, section.LeaseFile)
		}
	}
	return paths, nil
}

// ReadFile returns the contents of a file on the router via the file object.
// The session ACL must grant read access to the path.
func (c *Client) ReadFile(ctx context.Context, path string) (string, error) {
	result, err := c.Call(ctx, "file", "read", map[string]any{
		"path": path,
	})
	if err != nil {
		return "", err
	}

	var payload struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return "", fmt.Errorf("%w: decoding file read: %w", ErrBadResponse, err)
	}
	return payload.Data, nil
}

// ODHCPDLeases returns the raw odhcpd lease tables for the given method
// ("ipv4leases" or "ipv6leases"). odhcpd reports static host entries rather
// than live presence, so callers only log the payload for diagnostics.
func (c *Client) ODHCPDLeases(ctx context.Context, method string) (json.RawMessage, error) {
	return c.Call(ctx, "dhcp", method, nil)
}
