package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-bridges/internal/bridges"
	"github.com/nerrad567/gray-logic-bridges/internal/infrastructure/mqtt"
)

// topics builds graylogic topic names.
var topics = mqtt.Topics{}

// Protocol is the bridge identifier on the graylogic topic tree.
const Protocol = "presence"

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// MetricsWriter receives per-scan metrics. Satisfied by *influxdb.Client;
// nil disables metrics.
type MetricsWriter interface {
	WriteSignalMetric(mac string, signalDBm int)
	WritePresenceCount(count int)
}

// trackedClient is the bridge's view of one wireless client.
type trackedClient struct {
	ScanResult
	LastSeen time.Time
	Home     bool
}

// Bridge tracks wireless clients on an OpenWrt router and publishes their
// presence over MQTT. It handles:
//   - Periodic scans of the router's association tables
//   - home/not_home transitions with an away timeout
//   - Persisting sightings to the client registry
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg     Config
	mqtt    MQTTClient
	scanner *Scanner
	health  *bridges.HealthReporter
	repo    *Repository   // Optional client registry persistence
	metrics MetricsWriter // Optional InfluxDB metrics

	// Tracked clients keyed by upper-cased MAC
	clients   map[string]*trackedClient
	clientsMu sync.RWMutex

	// routerUp is 1 while the last scan reached the router.
	routerUp atomic.Bool

	// Shutdown coordination
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger bridges.Logger
}

// Config holds bridge timing settings.
type Config struct {
	// ScanInterval is how often the router is polled.
	ScanInterval time.Duration

	// AwayTimeout is how long a client may be absent before it is
	// reported not home. Must exceed ScanInterval.
	AwayTimeout time.Duration

	// HealthInterval is how often health status is published.
	HealthInterval time.Duration

	// Version is reported in health messages.
	Version string
}

// BridgeOptions holds dependencies for creating a bridge.
type BridgeOptions struct {
	// Config is the bridge timing configuration.
	Config Config

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Scanner polls the router.
	Scanner *Scanner

	// Logger is optional structured logger.
	Logger bridges.Logger

	// Repository is optional client persistence.
	// If nil, sightings are not persisted.
	Repository *Repository

	// Metrics is optional metrics output.
	Metrics MetricsWriter
}

// NewBridge creates a new presence bridge.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Scanner == nil {
		return nil, fmt.Errorf("scanner is required")
	}

	cfg := opts.Config
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 30 * time.Second
	}
	if cfg.AwayTimeout <= cfg.ScanInterval {
		cfg.AwayTimeout = 6 * cfg.ScanInterval
	}

	b := &Bridge{
		cfg:     cfg,
		mqtt:    opts.MQTTClient,
		scanner: opts.Scanner,
		repo:    opts.Repository, // May be nil (optional)
		metrics: opts.Metrics,    // May be nil (optional)
		clients: make(map[string]*trackedClient),
		done:    make(chan struct{}),
		logger:  opts.Logger,
	}

	b.health = bridges.NewHealthReporter(bridges.HealthReporterConfig{
		Protocol:     Protocol,
		Version:      cfg.Version,
		Topic:        topics.BridgeHealth(Protocol),
		Interval:     cfg.HealthInterval,
		Publisher:    opts.MQTTClient,
		Upstream:     routerLink{&b.routerUp},
		UpstreamName: "router",
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start begins scanning and health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.health.Start(ctx)

	b.wg.Add(1)
	go b.scanLoop(ctx)

	b.logInfo("presence bridge started",
		"scan_interval", b.cfg.ScanInterval,
		"away_timeout", b.cfg.AwayTimeout)
	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
		b.health.Stop()
		b.logInfo("presence bridge stopped")
	})
}

// ClientStatus is a point-in-time view of one tracked client.
type ClientStatus struct {
	ScanResult
	LastSeen time.Time
	Home     bool
}

// Clients returns a snapshot of currently tracked clients.
// Used by the status API.
func (b *Bridge) Clients() []ClientStatus {
	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()

	snapshot := make([]ClientStatus, 0, len(b.clients))
	for _, client := range b.clients {
		snapshot = append(snapshot, ClientStatus{
			ScanResult: client.ScanResult,
			LastSeen:   client.LastSeen,
			Home:       client.Home,
		})
	}
	return snapshot
}

// scanLoop polls the router until shutdown. The first scan runs
// immediately so state is published without waiting a full interval.
func (b *Bridge) scanLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.ScanInterval)
	defer ticker.Stop()

	b.scanOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			b.scanOnce(ctx)
		}
	}
}

// scanOnce performs one scan and publishes the resulting transitions.
// A scan that reaches no interface leaves the previously published
// states untouched; absence only flips a client after the away timeout.
func (b *Bridge) scanOnce(ctx context.Context) {
	scanCtx, cancel := context.WithTimeout(ctx, b.cfg.ScanInterval)
	defer cancel()

	results, reachable := b.scanner.Scan(scanCtx)
	b.routerUp.Store(reachable)

	now := time.Now()
	b.clientsMu.Lock()

	var arrivals, updates []*trackedClient
	for mac, result := range results {
		client, known := b.clients[mac]
		if !known {
			client = &trackedClient{}
			b.clients[mac] = client
		}

		changed := client.ScanResult != result || !client.Home
		client.ScanResult = result
		client.LastSeen = now

		if !client.Home {
			client.Home = true
			arrivals = append(arrivals, client)
		} else if changed {
			updates = append(updates, client)
		}
	}

	var departures []*trackedClient
	for _, client := range b.clients {
		if client.Home && lastSeenStale(client.LastSeen, b.cfg.AwayTimeout) {
			client.Home = false
			departures = append(departures, client)
		}
	}

	homeCount := 0
	for _, client := range b.clients {
		if client.Home {
			homeCount++
		}
	}
	b.clientsMu.Unlock()

	b.health.SetDeviceCount(homeCount)

	for _, client := range arrivals {
		b.logInfo("client home", "mac", client.MAC, "hostname", client.Hostname)
		b.publishState(client)
	}
	for _, client := range updates {
		b.publishState(client)
	}
	for _, client := range departures {
		b.logInfo("client away", "mac", client.MAC, "hostname", client.Hostname)
		b.publishState(client)
	}

	b.persist(ctx, results, now)
	b.writeMetrics(results, homeCount)
}

// publishState publishes a retained state message for one client.
func (b *Bridge) publishState(client *trackedClient) {
	state := map[string]any{
		"home":      client.Home,
		"last_seen": client.LastSeen.UTC().Format(time.RFC3339),
	}
	if client.Hostname != "" {
		state["hostname"] = client.Hostname
	}
	if client.IP != "" {
		state["ip"] = client.IP
	}
	if client.Home {
		state["signal"] = client.Signal
	}

	msg := bridges.NewStateMessage(Protocol, macSlug(client.MAC), client.MAC, state)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to encode state", err)
		return
	}

	topic := topics.BridgeState(Protocol, macSlug(client.MAC))
	if err := b.mqtt.Publish(topic, payload, 1, true); err != nil {
		b.logError("failed to publish state", err, "mac", client.MAC)
	}
}

// persist upserts every sighted client into the registry.
func (b *Bridge) persist(ctx context.Context, results map[string]ScanResult, seenAt time.Time) {
	if b.repo == nil {
		return
	}
	for _, result := range results {
		if err := b.repo.Upsert(ctx, result, seenAt); err != nil {
			b.logError("failed to persist client", err, "mac", result.MAC)
		}
	}
}

// writeMetrics pushes per-scan metrics to InfluxDB.
func (b *Bridge) writeMetrics(results map[string]ScanResult, homeCount int) {
	if b.metrics == nil {
		return
	}
	for _, result := range results {
		b.metrics.WriteSignalMetric(result.MAC, result.Signal)
	}
	b.metrics.WritePresenceCount(homeCount)
}

// routerLink adapts the bridge's scan-success flag to the health
// reporter's upstream check.
type routerLink struct {
	up *atomic.Bool
}

func (r routerLink) IsConnected() bool {
	return r.up.Load()
}

// macSlug converts a MAC into a topic-safe address segment,
// e.g. "AA:BB:CC:DD:EE:FF" -> "aa-bb-cc-dd-ee-ff".
func macSlug(mac string) string {
	return strings.ToLower(strings.ReplaceAll(mac, ":", "-"))
}

func (b *Bridge) logInfo(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Info(msg, args...)
	}
}

func (b *Bridge) logError(msg string, err error, args ...any) {
	if b.logger != nil {
		b.logger.Error(msg, append([]any{"error", err}, args...)...)
	}
}
