package mqtt

import "fmt"

// Topic prefixes per the Gray Logic MQTT specification.
//
// All bridge topics use the flat scheme: graylogic/{category}/{protocol}/{address}
// Core subscribes to the bridge topics; bridges subscribe to command/request
// topics addressed to their protocol.
const (
	// TopicPrefixBridge is the base for all bridge topics.
	// Flat scheme: graylogic/{category}/{protocol}/{address_or_id}
	TopicPrefixBridge = "graylogic"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"
)

// Topics provides builders for Gray Logic MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.BridgeState("presence", "aa-bb-cc-dd-ee-ff")
//	// Returns: "graylogic/state/presence/aa-bb-cc-dd-ee-ff"
type Topics struct{}

// BridgeState returns the topic for device state updates from a bridge.
//
// Example: graylogic/state/xiaomi/vacuum-hall
func (Topics) BridgeState(protocol, address string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeCommand returns the topic for commands to a bridge.
//
// Example: graylogic/command/xiaomi/vacuum-hall
func (Topics) BridgeCommand(protocol, address string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeAck returns the topic for command acknowledgements from a bridge.
//
// Example: graylogic/ack/xiaomi/vacuum-hall
func (Topics) BridgeAck(protocol, address string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: graylogic/health/presence
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// BridgeCommands returns a pattern matching all commands for a protocol.
//
// Pattern: graylogic/command/xiaomi/+
func (Topics) BridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefixBridge, protocol)
}

// AllBridgeStates returns a pattern matching all bridge state updates.
//
// Pattern: graylogic/state/+/+
func (Topics) AllBridgeStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefixBridge)
}

// SystemStatus returns the system status topic.
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}
