package xiaomi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-bridges/internal/bridges"
	"github.com/nerrad567/gray-logic-bridges/internal/infrastructure/mqtt"
)

// Protocol is the bridge identifier on the graylogic topic tree.
const Protocol = "xiaomi"

// unavailableAfter is how many consecutive poll failures mark a device
// unavailable. The retained state stays as it was; only availability
// changes.
const unavailableAfter = 3

// topics builds graylogic topic names.
var topics = mqtt.Topics{}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// MetricsWriter receives per-poll metrics. Satisfied by *influxdb.Client;
// nil disables metrics.
type MetricsWriter interface {
	WriteVacuumMetrics(deviceID string, battery int, cleanAreaM2 float64, cleanTime time.Duration)
	WriteDeviceMetric(deviceID string, measurement string, value float64)
}

// Entity is one polled miio device adapter (switch, vacuum or sensor).
type Entity interface {
	// ID is the configured device identifier, used as the topic address.
	ID() string

	// Kind names the entity type ("switch", "vacuum", "sensor").
	Kind() string

	// Refresh polls the device and returns the state payload to publish.
	// A nil payload with nil error means the state must not be displayed.
	Refresh(ctx context.Context) (map[string]any, error)

	// Execute runs a command. A non-nil payload is published immediately
	// (optimistic state); otherwise the bridge refreshes after success.
	Execute(ctx context.Context, cmd *bridges.CommandMessage) (map[string]any, error)

	// Close releases the device transport.
	Close() error
}

// ManagedEntity pairs an entity with its poll interval.
type ManagedEntity struct {
	Entity Entity

	// PollInterval defaults to 15 seconds.
	PollInterval time.Duration
}

// entityState tracks per-entity runtime bookkeeping.
type entityState struct {
	entity       Entity
	pollInterval time.Duration

	mu            sync.Mutex
	failures      int
	available     bool
	everPublished bool
	lastState     map[string]any
}

// Config holds bridge timing settings.
type Config struct {
	// PollTimeout bounds each device poll. Default 10 seconds.
	PollTimeout time.Duration

	// CommandTimeout bounds each command execution. Default 10 seconds.
	CommandTimeout time.Duration

	// HealthInterval is how often health status is published.
	HealthInterval time.Duration

	// Version is reported in health messages.
	Version string
}

// Bridge polls miio devices and drives them from MQTT commands.
// It handles:
//   - A poll loop per device publishing retained state
//   - Commands from graylogic/command/xiaomi/{device-id} with acks
//   - Availability after consecutive poll failures
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg    Config
	mqtt   MQTTClient
	health *bridges.HealthReporter

	entities map[string]*entityState

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger bridges.Logger
}

// BridgeOptions holds dependencies for creating a bridge.
type BridgeOptions struct {
	// Config is the bridge timing configuration.
	Config Config

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Entities are the configured devices.
	Entities []ManagedEntity

	// Logger is optional structured logger.
	Logger bridges.Logger
}

// NewBridge creates a new xiaomi bridge.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if len(opts.Entities) == 0 {
		return nil, fmt.Errorf("at least one entity is required")
	}

	cfg := opts.Config
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 10 * time.Second
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:       cfg,
		mqtt:      opts.MQTTClient,
		entities:  make(map[string]*entityState, len(opts.Entities)),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	for _, managed := range opts.Entities {
		if managed.Entity == nil {
			ctxCancel()
			return nil, fmt.Errorf("nil entity")
		}
		id := managed.Entity.ID()
		if _, dup := b.entities[id]; dup {
			ctxCancel()
			return nil, fmt.Errorf("duplicate entity id %q", id)
		}
		interval := managed.PollInterval
		if interval <= 0 {
			interval = 15 * time.Second
		}
		b.entities[id] = &entityState{
			entity:       managed.Entity,
			pollInterval: interval,
			available:    true,
		}
	}

	b.health = bridges.NewHealthReporter(bridges.HealthReporterConfig{
		Protocol:     Protocol,
		Version:      cfg.Version,
		Topic:        topics.BridgeHealth(Protocol),
		Interval:     cfg.HealthInterval,
		Publisher:    opts.MQTTClient,
		Upstream:     deviceLink{b},
		UpstreamName: "devices",
	})
	b.health.SetDeviceCount(len(b.entities))
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to command topics and begins polling.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := topics.BridgeCommands(Protocol)
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.health.Start(ctx)

	for _, state := range b.entities {
		b.wg.Add(1)
		go b.pollLoop(ctx, state)
	}

	b.logInfo("xiaomi bridge started", "devices", len(b.entities))
	return nil
}

// Stop gracefully shuts down the bridge and closes device transports.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.wg.Wait()
		b.health.Stop()

		for _, state := range b.entities {
			if err := state.entity.Close(); err != nil {
				b.logError("failed to close device", err, "device_id", state.entity.ID())
			}
		}
		b.logInfo("xiaomi bridge stopped")
	})
}

// States returns the latest published state per device.
// Used by the status API.
func (b *Bridge) States() map[string]map[string]any {
	states := make(map[string]map[string]any, len(b.entities))
	for id, state := range b.entities {
		state.mu.Lock()
		if state.lastState != nil {
			copied := make(map[string]any, len(state.lastState))
			for k, v := range state.lastState {
				copied[k] = v
			}
			states[id] = copied
		}
		state.mu.Unlock()
	}
	return states
}

// pollLoop refreshes one device until shutdown. The first poll runs
// immediately so state is published without waiting a full interval.
func (b *Bridge) pollLoop(ctx context.Context, state *entityState) {
	defer b.wg.Done()

	ticker := time.NewTicker(state.pollInterval)
	defer ticker.Stop()

	b.pollOnce(ctx, state)

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			b.pollOnce(ctx, state)
		}
	}
}

// pollOnce refreshes one device and publishes the outcome. Poll failures
// never clear the retained state; they only flip availability after
// enough of them in a row.
func (b *Bridge) pollOnce(ctx context.Context, state *entityState) {
	pollCtx, cancel := context.WithTimeout(ctx, b.cfg.PollTimeout)
	defer cancel()

	payload, err := state.entity.Refresh(pollCtx)
	if err != nil {
		b.recordFailure(state, err)
		return
	}

	state.mu.Lock()
	state.failures = 0
	wasUnavailable := !state.available
	state.available = true
	changed := payload != nil && (!state.everPublished || !statesEqual(state.lastState, payload))
	if payload != nil {
		state.lastState = payload
		state.everPublished = true
	}
	state.mu.Unlock()

	if wasUnavailable {
		b.publishAvailability(state.entity.ID(), true)
	}
	if changed {
		b.publishState(state.entity.ID(), payload)
	}
}

// recordFailure counts a poll failure and marks the device unavailable
// once the threshold is reached.
func (b *Bridge) recordFailure(state *entityState, err error) {
	state.mu.Lock()
	state.failures++
	turnedUnavailable := state.available && state.failures >= unavailableAfter
	if turnedUnavailable {
		state.available = false
	}
	failures := state.failures
	state.mu.Unlock()

	b.logWarn("device poll failed",
		"device_id", state.entity.ID(),
		"failures", failures,
		"error", err)

	if turnedUnavailable {
		b.publishAvailability(state.entity.ID(), false)
	}
}

// handleCommand dispatches one command message. Execution happens on the
// subscriber callback goroutine; the MQTT client wraps handlers with
// panic recovery.
func (b *Bridge) handleCommand(topic string, payload []byte) {
	deviceID := topicAddress(topic)
	if deviceID == "" {
		b.logWarn("command on malformed topic", "topic", topic)
		return
	}

	var cmd bridges.CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logWarn("malformed command payload", "topic", topic, "error", err)
		return
	}
	if cmd.ID == "" {
		// Correlate acks even for senders that omit an ID.
		cmd.ID = uuid.NewString()
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = deviceID
	}

	state, known := b.entities[deviceID]
	if !known {
		b.publishAck(&cmd, deviceID, bridges.AckFailed, &bridges.AckError{
			Code:    bridges.ErrCodeInvalidCommand,
			Message: fmt.Sprintf("unknown device %q", deviceID),
		})
		return
	}

	cmdCtx, cancel := context.WithTimeout(b.ctx, b.cfg.CommandTimeout)
	defer cancel()

	immediate, err := state.entity.Execute(cmdCtx, &cmd)
	if err != nil {
		// The device state is left exactly as the last poll published it.
		b.logWarn("command failed",
			"device_id", deviceID,
			"command", cmd.Command,
			"error", err)
		b.publishAck(&cmd, deviceID, bridges.AckFailed, ackError(err))
		return
	}

	b.publishAck(&cmd, deviceID, bridges.AckAccepted, nil)
	b.logInfo("command executed", "device_id", deviceID, "command", cmd.Command)

	if immediate != nil {
		state.mu.Lock()
		state.lastState = immediate
		state.everPublished = true
		state.mu.Unlock()
		b.publishState(deviceID, immediate)
		return
	}
	b.pollOnce(b.ctx, state)
}

// publishState publishes a retained state message for one device.
func (b *Bridge) publishState(deviceID string, state map[string]any) {
	msg := bridges.NewStateMessage(Protocol, deviceID, deviceID, state)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to encode state", err, "device_id", deviceID)
		return
	}
	if err := b.mqtt.Publish(topics.BridgeState(Protocol, deviceID), payload, 1, true); err != nil {
		b.logError("failed to publish state", err, "device_id", deviceID)
	}
}

// publishAvailability publishes a retained availability flag next to the
// state topic, so the retained state survives device outages.
func (b *Bridge) publishAvailability(deviceID string, available bool) {
	value := "offline"
	if available {
		value = "online"
	}
	topic := topics.BridgeState(Protocol, deviceID) + "/availability"
	if err := b.mqtt.Publish(topic, []byte(value), 1, true); err != nil {
		b.logError("failed to publish availability", err, "device_id", deviceID)
	}
	b.logInfo("device availability changed", "device_id", deviceID, "available", available)
}

// publishAck publishes a command acknowledgment.
func (b *Bridge) publishAck(cmd *bridges.CommandMessage, deviceID string, status bridges.AckStatus, ackErr *bridges.AckError) {
	ack := bridges.NewAck(cmd, Protocol, deviceID, status, ackErr)
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to encode ack", err, "device_id", deviceID)
		return
	}
	if err := b.mqtt.Publish(topics.BridgeAck(Protocol, deviceID), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err, "device_id", deviceID)
	}
}

// deviceLink reports the device fleet as connected while any device is
// available, for health reporting.
type deviceLink struct {
	b *Bridge
}

func (d deviceLink) IsConnected() bool {
	for _, state := range d.b.entities {
		state.mu.Lock()
		available := state.available
		state.mu.Unlock()
		if available {
			return true
		}
	}
	return false
}

// topicAddress extracts the address segment of a bridge topic,
// e.g. "graylogic/command/xiaomi/vacuum-hall" -> "vacuum-hall".
func topicAddress(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 {
		return ""
	}
	return parts[len(parts)-1]
}

// statesEqual compares state payloads by their canonical JSON encoding.
// State maps are small; this avoids a reflective deep-equal dependency.
func statesEqual(a, b map[string]any) bool {
	aJSON, errA := json.Marshal(a)
	bJSON, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aJSON) == string(bJSON)
}

func (b *Bridge) logInfo(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Info(msg, args...)
	}
}

func (b *Bridge) logWarn(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, args...)
	}
}

func (b *Bridge) logError(msg string, err error, args ...any) {
	if b.logger != nil {
		b.logger.Error(msg, append([]any{"error", err}, args...)...)
	}
}
