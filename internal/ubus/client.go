package ubus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// nullSession is the session ID used for unauthenticated calls (login).
const nullSession = "00000000000000000000000000000000"

// defaultSessionTimeout is the session lifetime requested at login (seconds).
// The router refreshes the deadline on every call; expiry only matters
// after long idle periods, which the retry-once logic covers anyway.
const defaultSessionTimeout = 300

// maxResponseBytes caps ubus HTTP responses. Lease files on large networks
// run to a few hundred KB; 4MB leaves ample headroom.
const maxResponseBytes = 4 << 20

// Client is a JSON-RPC 2.0 client for an OpenWrt router's ubus HTTP endpoint.
//
// A session is established lazily on the first call and re-established
// transparently once per call when the router reports it expired or denied.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	endpoint string
	username string
	password string

	httpClient *http.Client

	// session guards the current ubus_rpc_session token.
	session   string
	sessionMu sync.Mutex

	// requestID is the JSON-RPC correlation counter.
	requestID   int64
	requestIDMu sync.Mutex
}

// Config holds ubus client settings.
type Config struct {
	// Host is the router address. A bare host gets "http://" and "/ubus"
	// added; a full URL is used as-is.
	Host     string
	Username string
	Password string

	// Timeout is the per-request HTTP timeout. Zero means 10 seconds.
	Timeout time.Duration
}

// NewClient creates a ubus client for the given router.
// No I/O is performed; the session is established on first use.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		endpoint: buildEndpoint(cfg.Host),
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// buildEndpoint normalises a host into a full ubus endpoint URL.
func buildEndpoint(host string) string {
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		if strings.HasSuffix(host, "/ubus") {
			return host
		}
		return strings.TrimSuffix(host, "/") + "/ubus"
	}
	return "http://" + host + "/ubus"
}

// rpcRequest is the JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	Version string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// rpcResponse is the JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	Version string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// rpcError is the JSON-RPC error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("ubus: rpc error %d: %s", e.Code, e.Message)
}

// Login authenticates against the router and stores the session token.
//
// Calling Login explicitly is optional; Call establishes a session on
// demand. It is useful at startup to validate credentials early.
func (c *Client) Login(ctx context.Context) error {
	result, err := c.invoke(ctx, nullSession, "session", "login", map[string]any{
		"username": c.username,
		"password": c.password,
		"timeout":  defaultSessionTimeout,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	var login struct {
		Session string `json:"ubus_rpc_session"`
	}
	if err := json.Unmarshal(result, &login); err != nil {
		return fmt.Errorf("%w: decoding login result: %w", ErrLoginFailed, err)
	}
	if login.Session == "" {
		return fmt.Errorf("%w: no session token in response", ErrLoginFailed)
	}

	c.sessionMu.Lock()
	c.session = login.Session
	c.sessionMu.Unlock()

	return nil
}

// Call invokes namespace.method with the given params and returns the raw
// result object.
//
// If the router reports the session as expired or access denied, the client
// logs in again and retries the call once. All other ubus status codes map
// to sentinel errors (see errors.go).
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - namespace: ubus object (e.g. "iwinfo", "uci", "file")
//   - method: Method on the object (e.g. "devices", "assoclist")
//   - params: Method arguments, may be nil
//
// Returns:
//   - json.RawMessage: The result payload (second element of the ubus result)
//   - error: Wrapped sentinel describing the failure
func (c *Client) Call(ctx context.Context, namespace, method string, params map[string]any) (json.RawMessage, error) {
	session, err := c.currentSession(ctx)
	if err != nil {
		return nil, err
	}

	result, err := c.invoke(ctx, session, namespace, method, params)
	if isSessionError(err) {
		// Session expired on the router side; establish a fresh one and retry.
		if loginErr := c.Login(ctx); loginErr != nil {
			return nil, loginErr
		}
		c.sessionMu.Lock()
		session = c.session
		c.sessionMu.Unlock()
		result, err = c.invoke(ctx, session, namespace, method, params)
	}
	return result, err
}

// HasObject reports whether the router exposes the named ubus object.
// Used to detect optional services (e.g. odhcpd's "dhcp" object).
func (c *Client) HasObject(ctx context.Context, name string) (bool, error) {
	session, err := c.currentSession(ctx)
	if err != nil {
		return false, err
	}

	resp, err := c.roundTrip(ctx, rpcRequest{
		Version: "2.0",
		ID:      c.nextID(),
		Method:  "list",
		Params:  []any{session, name},
	})
	if err != nil {
		return false, err
	}
	if resp.Error != nil {
		return false, resp.Error
	}

	var objects map[string]json.RawMessage
	if err := json.Unmarshal(resp.Result, &objects); err != nil {
		return false, fmt.Errorf("%w: decoding list result: %w", ErrBadResponse, err)
	}
	_, ok := objects[name]
	return ok, nil
}

// currentSession returns the session token, logging in first if needed.
func (c *Client) currentSession(ctx context.Context) (string, error) {
	c.sessionMu.Lock()
	session := c.session
	c.sessionMu.Unlock()

	if session != "" {
		return session, nil
	}
	if err := c.Login(ctx); err != nil {
		return "", err
	}

	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.session, nil
}

// invoke performs a single ubus "call" RPC without retry logic.
func (c *Client) invoke(ctx context.Context, session, namespace, method string, params map[string]any) (json.RawMessage, error) {
	if params == nil {
		params = map[string]any{}
	}

	resp, err := c.roundTrip(ctx, rpcRequest{
		Version: "2.0",
		ID:      c.nextID(),
		Method:  "call",
		Params:  []any{session, namespace, method, params},
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}

	// The ubus result is an array: [status] or [status, payload].
	var elements []json.RawMessage
	if err := json.Unmarshal(resp.Result, &elements); err != nil {
		return nil, fmt.Errorf("%w: decoding result array: %w", ErrBadResponse, err)
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("%w: empty result array", ErrBadResponse)
	}

	var status int
	if err := json.Unmarshal(elements[0], &status); err != nil {
		return nil, fmt.Errorf("%w: decoding status: %w", ErrBadResponse, err)
	}
	if status != statusOK {
		return nil, statusError(status, namespace, method)
	}

	if len(elements) < 2 {
		return json.RawMessage("{}"), nil
	}
	return elements[1], nil
}

// roundTrip sends one JSON-RPC request and decodes the envelope.
func (c *Client) roundTrip(ctx context.Context, req rpcRequest) (*rpcResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ubus: encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ubus: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnreachable, httpResp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrUnreachable, err)
	}

	var resp rpcResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding envelope: %w", ErrBadResponse, err)
	}
	return &resp, nil
}

// nextID returns a monotonically increasing JSON-RPC request ID.
func (c *Client) nextID() int64 {
	c.requestIDMu.Lock()
	defer c.requestIDMu.Unlock()
	c.requestID++
	return c.requestID
}
