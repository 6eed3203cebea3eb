// Package xiaomi drives Xiaomi miio devices (smart plugs, roborock
// vacuums) over the Gray Logic MQTT contract.
//
// Each configured device gets its own poll loop publishing retained state
// to graylogic/state/xiaomi/{device-id}. Commands arrive on
// graylogic/command/xiaomi/{device-id} and are acknowledged on the
// matching ack topic; a failed command leaves the published state exactly
// as the last poll reported it.
//
// Switch commands publish their state optimistically after the device
// accepts them. Vacuum commands trigger an immediate refresh instead,
// because the device transitions asynchronously. A device that fails
// several polls in a row is marked offline on a retained availability
// subtopic without disturbing its retained state.
package xiaomi
