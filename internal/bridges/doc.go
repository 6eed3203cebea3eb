// Package bridges holds the MQTT contract shared by all bridge
// protocols: command, acknowledgment, state, and health message types,
// plus the periodic HealthReporter every bridge runs.
//
// Protocol-specific bridges live in subpackages (presence, xiaomi) and
// publish these messages on the graylogic/{state,ack,health}/{protocol}
// topic tree.
package bridges
