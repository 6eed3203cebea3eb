package ubus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// fakeRouter is a minimal uhttpd-mod-ubus stand-in. The handler func
// receives the decoded parameters of each "call" request and returns the
// ubus result array to encode.
type fakeRouter struct {
	t       *testing.T
	session string
	handle  func(session, namespace, method string, params map[string]any) []any
}

func (f *fakeRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.t.Helper()

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.t.Fatalf("decoding request: %v", err)
	}

	var result []any
	switch req.Method {
	case "call":
		session := req.Params[0].(string)
		namespace := req.Params[1].(string)
		method := req.Params[2].(string)
		params, _ := req.Params[3].(map[string]any)

		if namespace == "session" && method == "login" {
			if params["username"] == "root" && params["password"] == "secret" {
				result = []any{statusOK, map[string]any{"ubus_rpc_session": f.session}}
			} else {
				result = []any{statusPermissionDenied}
			}
		} else {
			result = f.handle(session, namespace, method, params)
		}
	case "list":
		result = nil // handled below
	default:
		f.t.Fatalf("unexpected rpc method %q", req.Method)
	}

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if req.Method == "list" {
		resp["result"] = map[string]any{"iwinfo": map[string]any{}, "uci": map[string]any{}}
	} else {
		resp["result"] = result
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		f.t.Fatalf("encoding response: %v", err)
	}
}

func newTestClient(t *testing.T, router *fakeRouter) *Client {
	t.Helper()
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return NewClient(Config{
		Host:     server.URL,
		Username: "root",
		Password: "secret",
		Timeout:  2 * time.Second,
	})
}

func TestBuildEndpoint(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"192.168.1.1", "http://192.168.1.1/ubus"},
		{"router.lan", "http://router.lan/ubus"},
		{"http://192.168.1.1", "http://192.168.1.1/ubus"},
		{"http://192.168.1.1/", "http://192.168.1.1/ubus"},
		{"https://192.168.1.1/ubus", "https://192.168.1.1/ubus"},
	}

	for _, tt := range tests {
		if got := buildEndpoint(tt.host); got != tt.want {
			t.Errorf("buildEndpoint(%q) = %q, want %q", tt.host, got, tt.want)
		}
	}
}

func TestLogin(t *testing.T) {
	router := &fakeRouter{t: t, session: "abcdef0123456789abcdef0123456789"}
	client := newTestClient(t, router)

	if err := client.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if client.session != router.session {
		t.Errorf("session = %q, want %q", client.session, router.session)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	router := &fakeRouter{t: t, session: "abcdef0123456789abcdef0123456789"}
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	client := NewClient(Config{Host: server.URL, Username: "root", Password: "wrong"})
	err := client.Login(context.Background())
	if !errors.Is(err, ErrLoginFailed) {
		t.Errorf("Login() error = %v, want ErrLoginFailed", err)
	}
}

func TestCallLogsInOnDemand(t *testing.T) {
	router := &fakeRouter{t: t, session: "abcdef0123456789abcdef0123456789"}
	router.handle = func(session, namespace, method string, params map[string]any) []any {
		if session != router.session {
			return []any{statusPermissionDenied}
		}
		return []any{statusOK, map[string]any{"ok": true}}
	}
	client := newTestClient(t, router)

	result, err := client.Call(context.Background(), "iwinfo", "devices", nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if string(result) == "" {
		t.Error("Call() returned empty result")
	}
}

func TestCallRetriesAfterSessionExpiry(t *testing.T) {
	router := &fakeRouter{t: t, session: "abcdef0123456789abcdef0123456789"}
	calls := 0
	router.handle = func(session, namespace, method string, params map[string]any) []any {
		calls++
		if calls == 1 {
			// Simulate an expired session on the first attempt.
			return []any{statusPermissionDenied}
		}
		return []any{statusOK, map[string]any{"devices": []string{"wlan0"}}}
	}
	client := newTestClient(t, router)
	client.session = "deadbeefdeadbeefdeadbeefdeadbeef"

	devices, err := client.WirelessDevices(context.Background())
	if err != nil {
		t.Fatalf("WirelessDevices() error = %v", err)
	}
	if len(devices) != 1 || devices[0] != "wlan0" {
		t.Errorf("devices = %v, want [wlan0]", devices)
	}
	if calls != 2 {
		t.Errorf("handler called %d times, want 2", calls)
	}
}

func TestCallStatusErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{statusPermissionDenied, ErrPermissionDenied},
		{statusNotFound, ErrNotFound},
		{statusMethodNotFound, ErrNotFound},
		{statusInvalidArgument, ErrCallFailed},
		{statusUnknownError, ErrCallFailed},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			router := &fakeRouter{t: t, session: "abcdef0123456789abcdef0123456789"}
			attempts := 0
			router.handle = func(session, namespace, method string, params map[string]any) []any {
				attempts++
				return []any{tt.status}
			}
			client := newTestClient(t, router)

			_, err := client.Call(context.Background(), "uci", "get", nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("Call() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWirelessDevices(t *testing.T) {
	router := &fakeRouter{t: t, session: "abcdef0123456789abcdef0123456789"}
	router.handle = func(session, namespace, method string, params map[string]any) []any {
		if namespace != "iwinfo" || method != "devices" {
			t.Errorf("unexpected call %s.%s", namespace, method)
		}
		return []any{statusOK, map[string]any{"devices": []string{"wlan0", "wlan1"}}}
	}
	client := newTestClient(t, router)

	devices, err := client.WirelessDevices(context.Background())
	if err != nil {
		t.Fatalf("WirelessDevices() error = %v", err)
	}
	if len(devices) != 2 {
		t.Errorf("got %d devices, want 2", len(devices))
	}
}

func TestAssocListUppercasesMACs(t *testing.T) {
	router := &fakeRouter{t: t, session: "abcdef0123456789abcdef0123456789"}
	router.handle = func(session, namespace, method string, params map[string]any) []any {
		if params["device"] != "wlan0" {
			t.Errorf("device param = %v, want wlan0", params["device"])
		}
		return []any{statusOK, map[string]any{
			"results": []map[string]any{
				{"mac": "aa:bb:cc:dd:ee:ff", "signal": -52, "noise": -95},
			},
		}}
	}
	client := newTestClient(t, router)

	stations, err := client.AssocList(context.Background(), "wlan0")
	if err != nil {
		t.Fatalf("AssocList() error = %v", err)
	}
	if len(stations) != 1 {
		t.Fatalf("got %d stations, want 1", len(stations))
	}
	if stations[0].MAC != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("MAC = %q, want uppercased", stations[0].MAC)
	}
	if stations[0].Signal != -52 {
		t.Errorf("Signal = %d, want -52", stations[0].Signal)
	}
}

func TestLeaseFilePaths(t *testing.T) {
	router := &fakeRouter{t: t, session: "abcdef0123456789abcdef0123456789"}
	router.handle = func(session, namespace, method string, params map[string]any) []any {
		return []any{statusOK, map[string]any{
			"values": map[string]any{
				"cfg01411c": map[string]any{"leasefile": "/tmp/dhcp.leases"},
				"cfg02411c": map[string]any{},
			},
		}}
	}
	client := newTestClient(t, router)

	paths, err := client.LeaseFilePaths(context.Background())
	if err != nil {
		t.Fatalf("LeaseFilePaths() error = %v", err)
	}
	if len(paths) != 1 || paths[0] != "/tmp/dhcp.leases" {
		t.Errorf("paths = %v, want [/tmp/dhcp.leases]", paths)
	}
}

func TestReadFile(t *testing.T) {
	router := &fakeRouter{t: t, session: "abcdef0123456789abcdef0123456789"}
	router.handle = func(session, namespace, method string, params map[string]any) []any {
		if params["path"] != "/tmp/dhcp.leases" {
			t.Errorf("path param = %v", params["path"])
		}
		return []any{statusOK, map[string]any{"data": "lease contents"}}
	}
	client := newTestClient(t, router)

	data, err := client.ReadFile(context.Background(), "/tmp/dhcp.leases")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if data != "lease contents" {
		t.Errorf("data = %q", data)
	}
}

func TestHasObject(t *testing.T) {
	router := &fakeRouter{t: t, session: "abcdef0123456789abcdef0123456789"}
	client := newTestClient(t, router)

	ok, err := client.HasObject(context.Background(), "iwinfo")
	if err != nil {
		t.Fatalf("HasObject() error = %v", err)
	}
	if !ok {
		t.Error("HasObject(iwinfo) = false, want true")
	}

	ok, err = client.HasObject(context.Background(), "dhcp")
	if err != nil {
		t.Fatalf("HasObject() error = %v", err)
	}
	if ok {
		t.Error("HasObject(dhcp) = true, want false")
	}
}

func TestCallRouterUnreachable(t *testing.T) {
	client := NewClient(Config{
		Host:     "127.0.0.1:1",
		Username: "root",
		Password: "secret",
		Timeout:  500 * time.Millisecond,
	})

	_, err := client.Call(context.Background(), "iwinfo", "devices", nil)
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("Call() error = %v, want ErrUnreachable", err)
	}
}
