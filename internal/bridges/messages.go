package bridges

import (
	"time"
)

// MQTT message types shared by all bridge protocols. These implement the
// Gray Logic bridge interface: commands flow in on
// graylogic/command/{protocol}/{address}, state and acks flow out on the
// matching state/ack topics, and health is reported per protocol.

// CommandMessage is received by a bridge to execute a device command.
// Topic: graylogic/command/{protocol}/{address}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the Gray Logic device identifier.
	DeviceID string `json:"device_id"`

	// Command is the command name (e.g., "on", "start", "fan_speed").
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"fan_speed": "Turbo"}
	//   {"zone": [[25000, 25000, 26000, 26000]], "repeats": 2}
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was received and sent to the device.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the device did not respond within the timeout.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is published by a bridge to acknowledge a command.
// Topic: graylogic/ack/{protocol}/{address}
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the Gray Logic device identifier.
	DeviceID string `json:"device_id"`

	// Status indicates the acknowledgment status.
	Status AckStatus `json:"status"`

	// Protocol is the protocol identifier (e.g., "xiaomi").
	Protocol string `json:"protocol"`

	// Address is the protocol-specific address (device host or MAC).
	Address string `json:"address"`

	// Error contains details if status is "failed" or "timeout".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g., "DEVICE_UNREACHABLE").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is published by a bridge when device state changes.
// Topic: graylogic/state/{protocol}/{address}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// DeviceID is the Gray Logic device identifier.
	DeviceID string `json:"device_id"`

	// Timestamp is when the state was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// State contains the current device state.
	// Structure depends on device type:
	//   Presence: {"home": true, "hostname": "phone", "signal": -58}
	//   Switch: {"on": true, "temperature": 41.5}
	State map[string]any `json:"state"`

	// Protocol is the protocol identifier.
	Protocol string `json:"protocol"`

	// Address is the protocol-specific address.
	Address string `json:"address"`
}

// HealthStatus represents the operational status of a bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published per protocol to report operational status.
// Topic: graylogic/health/{protocol}
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// Bridge is the protocol identifier (e.g., "presence").
	Bridge string `json:"bridge"`

	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the bridge software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// DevicesManaged is the number of tracked devices.
	DevicesManaged int `json:"devices_managed"`

	// Reason explains the status (especially for degraded).
	Reason string `json:"reason,omitempty"`
}

// NewHealthMessage builds a health message with the uptime computed from
// startTime.
func NewHealthMessage(protocol, version string, status HealthStatus, devices int, startTime time.Time) *HealthMessage {
	return &HealthMessage{
		Bridge:         protocol,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		DevicesManaged: devices,
	}
}

// NewStateMessage builds a state message stamped with the current time.
func NewStateMessage(protocol, deviceID, address string, state map[string]any) *StateMessage {
	return &StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		State:     state,
		Protocol:  protocol,
		Address:   address,
	}
}

// NewAck builds an acknowledgment for a command. err may be nil for
// accepted commands.
func NewAck(cmd *CommandMessage, protocol, address string, status AckStatus, err *AckError) *AckMessage {
	return &AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  protocol,
		Address:   address,
		Error:     err,
	}
}
