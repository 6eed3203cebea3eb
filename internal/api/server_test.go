package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-bridges/internal/bridges/presence"
	"github.com/nerrad567/gray-logic-bridges/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-bridges/internal/infrastructure/logging"
)

type fakePresence struct {
	clients []presence.ClientStatus
}

func (f *fakePresence) Clients() []presence.ClientStatus { return f.clients }

type fakeStore struct {
	records []presence.ClientRecord
	err     error
}

func (f *fakeStore) GetAll(context.Context) ([]presence.ClientRecord, error) {
	return f.records, f.err
}

type fakeDevices struct {
	states map[string]map[string]any
}

func (f *fakeDevices) States() map[string]map[string]any { return f.states }

// testServer creates a Server wired to the given data sources.
func testServer(t *testing.T, deps Deps) *Server {
	t.Helper()

	deps.Config = config.APIConfig{
		Host: "127.0.0.1",
		Port: 0,
		Timeouts: config.APITimeoutConfig{
			Read:  5,
			Write: 5,
			Idle:  5,
		},
	}
	deps.Logger = logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	deps.Version = "test"

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	srv.started = time.Now()
	return srv
}

func TestNewRequiresLogger(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatal("expected error for missing logger")
	}
}

func TestHandleHealth(t *testing.T) {
	srv := testServer(t, Deps{})
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %v, want test", body["version"])
	}
}

func TestHandleListClientsMergesLiveState(t *testing.T) {
	firstSeen := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	store := &fakeStore{
		records: []presence.ClientRecord{
			{
				MAC:       "AA:BB:CC:DD:EE:FF",
				Hostname:  "laptop",
				IP:        "192.168.1.50",
				FirstSeen: firstSeen,
				LastSeen:  firstSeen.Add(time.Hour),
			},
			{
				MAC:       "11:22:33:44:55:66",
				Hostname:  "old-phone",
				FirstSeen: firstSeen,
				LastSeen:  firstSeen,
			},
		},
	}
	live := &fakePresence{
		clients: []presence.ClientStatus{
			{
				ScanResult: presence.ScanResult{MAC: "AA:BB:CC:DD:EE:FF", Signal: -52},
				LastSeen:   time.Now(),
				Home:       true,
			},
		},
	}

	srv := testServer(t, Deps{Presence: live, Clients: store})
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/clients", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body struct {
		Clients []clientView `json:"clients"`
		Count   int          `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Count != 2 {
		t.Fatalf("count = %d, want 2", body.Count)
	}

	// Home clients sort first.
	first := body.Clients[0]
	if first.MAC != "AA:BB:CC:DD:EE:FF" || !first.Home {
		t.Errorf("first client = %+v, want home laptop", first)
	}
	if first.Hostname != "laptop" {
		t.Errorf("hostname = %q, want laptop (from history)", first.Hostname)
	}
	if first.Signal != -52 {
		t.Errorf("signal = %d, want -52 (from live scan)", first.Signal)
	}
	if first.FirstSeen == "" {
		t.Error("expected first_seen from history")
	}

	second := body.Clients[1]
	if second.MAC != "11:22:33:44:55:66" || second.Home {
		t.Errorf("second client = %+v, want away old-phone", second)
	}
}

func TestHandleListClientsStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("database locked")}
	srv := testServer(t, Deps{Clients: store})
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/clients", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestHandleListClientsDisabled(t *testing.T) {
	srv := testServer(t, Deps{})
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/clients", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHandleListDevices(t *testing.T) {
	devices := &fakeDevices{
		states: map[string]map[string]any{
			"vacuum_lounge": {"state": "docked", "battery": float64(100)},
		},
	}
	srv := testServer(t, Deps{Devices: devices})
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body struct {
		Devices map[string]map[string]any `json:"devices"`
		Count   int                       `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Count != 1 {
		t.Fatalf("count = %d, want 1", body.Count)
	}
	if body.Devices["vacuum_lounge"]["state"] != "docked" {
		t.Errorf("state = %v, want docked", body.Devices["vacuum_lounge"]["state"])
	}
}

func TestHandleListDevicesDisabled(t *testing.T) {
	srv := testServer(t, Deps{})
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv := testServer(t, Deps{})

	panicky := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	panicky.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}
