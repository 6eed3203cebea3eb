package miio

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

const (
	// miioPort is the fixed UDP port every miio device listens on.
	miioPort = 54321

	// stampMaxAge is how long a learned clock stamp stays usable before a
	// fresh handshake is required. Devices reject packets whose stamp is
	// too far from their own clock.
	stampMaxAge = 2 * time.Minute

	// sendRetries is the number of request attempts per Send call.
	sendRetries = 3

	// defaultDeadline bounds each attempt when the context carries none.
	defaultDeadline = 5 * time.Second

	maxDatagram = 4096
)

// Device is a miio UDP transport bound to a single device.
//
// The handshake (device ID and clock stamp) is performed lazily on the
// first Send and refreshed when the stamp goes stale.
//
// Thread Safety:
//   - All methods are safe for concurrent use; requests are serialised
//     because the protocol matches replies by request ID over one socket.
type Device struct {
	host  string
	token []byte

	mu        sync.Mutex
	conn      net.Conn
	deviceID  uint32
	stamp     uint32
	stampTime time.Time
	requestID uint32
}

// Dial creates a transport for a device. The token is the 32 hex character
// device secret. No I/O happens until the first Send.
func Dial(host, token string) (*Device, error) {
	raw, err := hex.DecodeString(token)
	if err != nil || len(raw) != 16 {
		return nil, ErrInvalidToken
	}

	return &Device{
		host:  host,
		token: raw,
	}, nil
}

// DeviceID returns the device identifier learned during the handshake,
// or zero if no handshake has happened yet.
func (d *Device) DeviceID() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deviceID
}

// Close releases the UDP socket. The device can be redialled by calling
// Send again.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	d.stampTime = time.Time{}
	return err
}

// Send issues a method call and returns the raw result field.
//
// Parameters:
//   - ctx: Deadline/cancellation for the whole call including retries
//   - method: Device method (e.g. "get_status", "set_power")
//   - params: Marshalled as the params array; nil sends []
//
// Returns:
//   - json.RawMessage: The "result" field of the device response
//   - error: *DeviceError for device-reported failures,
//     ErrDeviceUnreachable after exhausted retries
func (d *Device) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureHandshake(ctx); err != nil {
		return nil, err
	}

	if params == nil {
		params = []any{}
	}
	d.requestID++
	request, err := json.Marshal(struct {
		ID     uint32 `json:"id"`
		Method string `json:"method"`
		Params any    `json:"params"`
	}{d.requestID, method, params})
	if err != nil {
		return nil, fmt.Errorf("miio: encoding request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < sendRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		reply, err := d.exchange(ctx, request)
		if err != nil {
			lastErr = err
			continue
		}

		result, err := d.parseResponse(reply, d.requestID)
		for errors.Is(err, errStaleReply) {
			// A delayed answer to an earlier request. Drop it and keep
			// reading within the attempt deadline.
			if reply, err = d.readDatagram(); err != nil {
				break
			}
			result, err = d.parseResponse(reply, d.requestID)
		}
		if err != nil {
			if errors.Is(err, ErrDeviceUnreachable) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrDeviceUnreachable, d.host, sendRetries, lastErr)
}

// ensureHandshake dials and performs the hello exchange if the connection
// or clock stamp is missing or stale. Callers hold d.mu.
func (d *Device) ensureHandshake(ctx context.Context) error {
	if d.conn == nil {
		conn, err := net.Dial("udp", net.JoinHostPort(d.host, fmt.Sprintf("%d", miioPort)))
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrDeviceUnreachable, d.host, err)
		}
		d.conn = conn
	}

	if time.Since(d.stampTime) < stampMaxAge {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < sendRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		reply, err := d.exchange(ctx, nil)
		if err != nil {
			lastErr = err
			continue
		}

		pkt, err := decodePacket(reply, d.token)
		if err != nil {
			lastErr = err
			continue
		}
		d.deviceID = pkt.deviceID
		d.stamp = pkt.stamp
		d.stampTime = time.Now()
		return nil
	}
	return fmt.Errorf("%w: handshake with %s failed: %w", ErrDeviceUnreachable, d.host, lastErr)
}

// exchange sends one datagram and reads one reply. A nil request sends the
// hello packet; otherwise the request is encrypted into a normal packet.
// Callers hold d.mu.
func (d *Device) exchange(ctx context.Context, request []byte) ([]byte, error) {
	var pkt []byte
	if request == nil {
		pkt = helloPacket()
	} else {
		// Advance the stamp by the elapsed wall time so the device
		// accepts the packet without a handshake round-trip per call.
		stamp := d.stamp + uint32(time.Since(d.stampTime)/time.Second)
		encoded, err := encodePacket(d.deviceID, stamp, d.token, request)
		if err != nil {
			return nil, err
		}
		pkt = encoded
	}

	deadline := time.Now().Add(defaultDeadline)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := d.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("miio: setting deadline: %w", err)
	}

	if _, err := d.conn.Write(pkt); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceUnreachable, d.host, err)
	}
	return d.readDatagram()
}

// readDatagram reads the next datagram within the deadline already set by
// exchange. Callers hold d.mu.
func (d *Device) readDatagram() ([]byte, error) {
	buf := make([]byte, maxDatagram)
	n, err := d.conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceUnreachable, d.host, err)
	}
	return buf[:n], nil
}

// parseResponse decrypts a reply packet and extracts the result field.
// Replies whose id does not match expectedID are reported as errStaleReply
// so the caller can discard them and read on. Callers hold d.mu.
func (d *Device) parseResponse(reply []byte, expectedID uint32) (json.RawMessage, error) {
	pkt, err := decodePacket(reply, d.token)
	if err != nil {
		return nil, err
	}
	// Replies carry the device clock; keep our stamp base fresh.
	d.stamp = pkt.stamp
	d.stampTime = time.Now()

	if len(pkt.payload) == 0 {
		return nil, fmt.Errorf("%w: empty response payload", ErrMalformedReply)
	}

	// Some firmwares terminate the JSON with trailing NULs.
	payload := trimNULs(pkt.payload)

	var response struct {
		ID     uint32          `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *DeviceError    `json:"error"`
	}
	if err := json.Unmarshal(payload, &response); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrMalformedReply, err)
	}
	if response.ID != expectedID {
		return nil, fmt.Errorf("%w: got id %d, want %d", errStaleReply, response.ID, expectedID)
	}
	if response.Error != nil {
		return nil, response.Error
	}
	return response.Result, nil
}

func trimNULs(data []byte) []byte {
	for len(data) > 0 && data[len(data)-1] == 0 {
		data = data[:len(data)-1]
	}
	return data
}
