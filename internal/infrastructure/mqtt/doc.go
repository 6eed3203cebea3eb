// Package mqtt provides MQTT client connectivity for Gray Logic Bridges.
//
// This package manages:
//   - Connection to Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Gray Logic uses MQTT as the message bus connecting protocol bridges to
// the Core. This daemon hosts two bridges (presence, xiaomi); each publishes
// state and health and consumes commands over its own topic subtree.
//
//	Gray Logic Core ↔ MQTT Broker ↔ graybridge (presence, xiaomi)
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.BridgeCommands("xiaomi")
//	client.Subscribe(topic, 1, handleCommand)
package mqtt
