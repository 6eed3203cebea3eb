package miio

import (
	"context"
	"encoding/json"
	"fmt"
)

// Properties queries arbitrary get_prop keys and returns the raw values
// in request order. Models answer with null for keys they do not know,
// so callers decode each value themselves.
func (d *Device) Properties(ctx context.Context, keys []string) ([]json.RawMessage, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("miio: at least one property key is required")
	}

	result, err := d.Send(ctx, "get_prop", keys)
	if err != nil {
		return nil, err
	}

	var values []json.RawMessage
	if err := json.Unmarshal(result, &values); err != nil {
		return nil, fmt.Errorf("%w: decoding get_prop: %w", ErrMalformedReply, err)
	}
	if len(values) != len(keys) {
		return nil, fmt.Errorf("%w: get_prop returned %d values for %d keys", ErrMalformedReply, len(values), len(keys))
	}
	return values, nil
}
