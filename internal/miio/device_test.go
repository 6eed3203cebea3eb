package miio

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"
)

const fakeToken = "00112233445566778899aabbccddeeff"

// fakeDevice is an in-process miio device speaking the real wire protocol
// over a loopback UDP socket. handle receives each decoded method call and
// returns the value for the "result" field, or a DeviceError.
type fakeDevice struct {
	t        *testing.T
	deviceID uint32
	handle   func(method string, params json.RawMessage) (any, *DeviceError)

	// staleReplies is how many answers with a mismatched id the device
	// sends before the real one, mimicking delayed datagrams from an
	// earlier call.
	staleReplies int
}

// start runs the device loop and returns its host and port.
func (f *fakeDevice) start(t *testing.T) (string, int) {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	token := testToken(t)
	go func() {
		buf := make([]byte, maxDatagram)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			for _, reply := range f.respond(token, buf[:n]) {
				conn.WriteTo(reply, addr)
			}
		}
	}()

	addr := conn.LocalAddr().(*net.UDPAddr)
	return "127.0.0.1", addr.Port
}

func (f *fakeDevice) respond(token, data []byte) [][]byte {
	stamp := uint32(time.Now().Unix() % 100000)

	pkt, err := decodePacket(data, token)
	if err != nil {
		return nil
	}

	if len(pkt.payload) == 0 {
		// Hello: reply with a bare header carrying identity and clock.
		reply := make([]byte, headerSize)
		binary.BigEndian.PutUint16(reply[0:2], packetMagic)
		binary.BigEndian.PutUint16(reply[2:4], headerSize)
		binary.BigEndian.PutUint32(reply[8:12], f.deviceID)
		binary.BigEndian.PutUint32(reply[12:16], stamp)
		return [][]byte{reply}
	}

	var request struct {
		ID     uint32          `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(pkt.payload, &request); err != nil {
		return nil
	}

	var replies [][]byte
	for i := 0; i < f.staleReplies; i++ {
		stale := f.encodeResponse(token, stamp, map[string]any{
			"id":     request.ID + 1000 + uint32(i),
			"result": []string{"ok"},
		})
		if stale != nil {
			replies = append(replies, stale)
		}
	}

	response := map[string]any{"id": request.ID}
	result, devErr := f.handle(request.Method, request.Params)
	if devErr != nil {
		response["error"] = devErr
	} else {
		response["result"] = result
	}
	if reply := f.encodeResponse(token, stamp, response); reply != nil {
		replies = append(replies, reply)
	}
	return replies
}

func (f *fakeDevice) encodeResponse(token []byte, stamp uint32, response map[string]any) []byte {
	body, err := json.Marshal(response)
	if err != nil {
		return nil
	}
	reply, err := encodePacket(f.deviceID, stamp, token, body)
	if err != nil {
		return nil
	}
	return reply
}

func dialFake(t *testing.T, fake *fakeDevice) *Device {
	t.Helper()

	host, port := fake.start(t)
	device, err := Dial(host, fakeToken)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	// Point the transport at the fake's ephemeral port.
	conn, err := net.Dial("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("dialing fake: %v", err)
	}
	device.conn = conn
	t.Cleanup(func() { device.Close() })
	return device
}

func TestDialValidatesToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"short", "0011223344"},
		{"not hex", "zz112233445566778899aabbccddeeff"},
		{"too long", fakeToken + "00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Dial("192.168.1.50", tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Dial() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestSendHandshakesAndCalls(t *testing.T) {
	fake := &fakeDevice{
		t:        t,
		deviceID: 0xBEEF,
		handle: func(method string, params json.RawMessage) (any, *DeviceError) {
			if method != "miIO.info" {
				t.Errorf("method = %q, want miIO.info", method)
			}
			return map[string]any{"model": "chuangmi.plug.m1"}, nil
		},
	}
	device := dialFake(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	result, err := device.Send(ctx, "miIO.info", nil)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	var info struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(result, &info); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if info.Model != "chuangmi.plug.m1" {
		t.Errorf("model = %q", info.Model)
	}
	if device.DeviceID() != 0xBEEF {
		t.Errorf("DeviceID() = %#x, want 0xBEEF", device.DeviceID())
	}
}

func TestSendSkipsStaleReplies(t *testing.T) {
	fake := &fakeDevice{
		t:            t,
		deviceID:     5,
		staleReplies: 2,
		handle: func(method string, params json.RawMessage) (any, *DeviceError) {
			return map[string]any{"model": "chuangmi.plug.m1"}, nil
		},
	}
	device := dialFake(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	result, err := device.Send(ctx, "miIO.info", nil)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	var info struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(result, &info); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if info.Model != "chuangmi.plug.m1" {
		t.Errorf("model = %q, want answer matching the request id", info.Model)
	}
}

func TestParseResponseRejectsMismatchedID(t *testing.T) {
	token := testToken(t)
	body, err := json.Marshal(map[string]any{"id": 7, "result": []string{"ok"}})
	if err != nil {
		t.Fatalf("encoding body: %v", err)
	}
	reply, err := encodePacket(1, 100, token, body)
	if err != nil {
		t.Fatalf("encodePacket() error = %v", err)
	}

	device := &Device{token: token}
	if _, err := device.parseResponse(reply, 8); !errors.Is(err, errStaleReply) {
		t.Errorf("parseResponse() error = %v, want errStaleReply", err)
	}
	if _, err := device.parseResponse(reply, 7); err != nil {
		t.Errorf("parseResponse() with matching id error = %v", err)
	}
}

func TestSendDeviceError(t *testing.T) {
	fake := &fakeDevice{
		t:        t,
		deviceID: 1,
		handle: func(method string, params json.RawMessage) (any, *DeviceError) {
			return nil, &DeviceError{Code: -9999, Message: "user ack timeout"}
		},
	}
	device := dialFake(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := device.Send(ctx, "app_start", nil)
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("Send() error = %v, want *DeviceError", err)
	}
	if devErr.Code != -9999 {
		t.Errorf("Code = %d, want -9999", devErr.Code)
	}
}

func TestPlugStatusAndSetPower(t *testing.T) {
	power := "off"
	fake := &fakeDevice{
		t:        t,
		deviceID: 2,
		handle: func(method string, params json.RawMessage) (any, *DeviceError) {
			switch method {
			case "get_prop":
				return []any{power, 41.5}, nil
			case "set_power":
				var args []string
				if err := json.Unmarshal(params, &args); err != nil || len(args) != 1 {
					return nil, &DeviceError{Code: -1, Message: "bad params"}
				}
				power = args[0]
				return []string{"ok"}, nil
			default:
				return nil, &DeviceError{Code: -2, Message: "unknown method"}
			}
		},
	}
	plug := NewPlug(dialFake(t, fake))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	status, err := plug.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Power {
		t.Error("Power = true, want false")
	}
	if status.Temperature != 41.5 {
		t.Errorf("Temperature = %v, want 41.5", status.Temperature)
	}

	if err := plug.SetPower(ctx, true); err != nil {
		t.Fatalf("SetPower() error = %v", err)
	}

	status, err = plug.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !status.Power {
		t.Error("Power = false after SetPower(true)")
	}
}

func TestDeviceProperties(t *testing.T) {
	fake := &fakeDevice{
		t:        t,
		deviceID: 6,
		handle: func(method string, params json.RawMessage) (any, *DeviceError) {
			if method != "get_prop" {
				t.Errorf("method = %q, want get_prop", method)
			}
			return []any{"on", nil}, nil
		},
	}
	device := dialFake(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := device.Properties(ctx, nil); err == nil {
		t.Error("Properties() with no keys returned nil error")
	}

	values, err := device.Properties(ctx, []string{"power", "temperature"})
	if err != nil {
		t.Fatalf("Properties() error = %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("len(values) = %d, want 2", len(values))
	}
	if string(values[0]) != `"on"` {
		t.Errorf("values[0] = %s, want \"on\"", values[0])
	}
	if string(values[1]) != "null" {
		t.Errorf("values[1] = %s, want null", values[1])
	}

	if _, err := device.Properties(ctx, []string{"power", "temperature", "mode"}); err == nil {
		t.Error("Properties() with mismatched value count returned nil error")
	}
}

func TestVacuumStatusDecoding(t *testing.T) {
	fake := &fakeDevice{
		t:        t,
		deviceID: 3,
		handle: func(method string, params json.RawMessage) (any, *DeviceError) {
			return []any{map[string]any{
				"state":       8,
				"battery":     100,
				"fan_power":   102,
				"clean_time":  1720,
				"clean_area":  24250000,
				"error_code":  0,
				"in_cleaning": 0,
				"map_present": 1,
				"dnd_enabled": 0,
			}}, nil
		},
	}
	vacuum := NewVacuum(dialFake(t, fake), "roborock.vacuum.s5")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	status, err := vacuum.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.State != StateCharging {
		t.Errorf("State = %v, want charging", status.State)
	}
	if status.Battery != 100 {
		t.Errorf("Battery = %d, want 100", status.Battery)
	}
	if status.CleanTime != 1720*time.Second {
		t.Errorf("CleanTime = %v", status.CleanTime)
	}
	if status.CleanArea != 24.25 {
		t.Errorf("CleanArea = %v, want 24.25", status.CleanArea)
	}
	if !status.MapPresent {
		t.Error("MapPresent = false, want true")
	}
}

func TestVacuumZonedCleanParams(t *testing.T) {
	var got [][]int
	fake := &fakeDevice{
		t:        t,
		deviceID: 4,
		handle: func(method string, params json.RawMessage) (any, *DeviceError) {
			if method != "app_zoned_clean" {
				return nil, &DeviceError{Code: -2, Message: "unknown method"}
			}
			if err := json.Unmarshal(params, &got); err != nil {
				return nil, &DeviceError{Code: -1, Message: "bad params"}
			}
			return []string{"ok"}, nil
		},
	}
	vacuum := NewVacuum(dialFake(t, fake), "roborock.vacuum.s5")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := vacuum.ZonedClean(ctx, [][4]int{{25000, 25000, 26000, 26000}}, 2)
	if err != nil {
		t.Fatalf("ZonedClean() error = %v", err)
	}
	want := []int{25000, 25000, 26000, 26000, 2}
	if len(got) != 1 || len(got[0]) != 5 {
		t.Fatalf("params = %v, want one 5-element zone", got)
	}
	for i, v := range want {
		if got[0][i] != v {
			t.Errorf("zone[%d] = %d, want %d", i, got[0][i], v)
		}
	}
}

func TestVacuumZonedCleanValidation(t *testing.T) {
	vacuum := NewVacuum(&Device{}, "roborock.vacuum.s5")

	if err := vacuum.ZonedClean(context.Background(), [][4]int{{0, 0, 1, 1}}, 0); err == nil {
		t.Error("ZonedClean() with repeats 0 returned nil error")
	}
	if err := vacuum.ZonedClean(context.Background(), [][4]int{{0, 0, 1, 1}}, 4); err == nil {
		t.Error("ZonedClean() with repeats 4 returned nil error")
	}
	if err := vacuum.ZonedClean(context.Background(), nil, 1); err == nil {
		t.Error("ZonedClean() with no zones returned nil error")
	}
}
