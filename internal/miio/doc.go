// Package miio implements the Xiaomi miio UDP protocol and typed façades
// for the device kinds the xiaomi bridge drives.
//
// Transport: each device listens on UDP 54321 and speaks a framed binary
// protocol. A hello handshake learns the device ID and clock stamp; every
// subsequent packet carries an AES-128-CBC encrypted JSON body
// ({"id", "method", "params"}) keyed off the per-device token and sealed
// with an MD5 checksum. Replies are matched by request ID.
//
// Façades: Plug (get_prop / set_power) and Vacuum (roborock get_status
// plus the app_* command set). Both embed the Device transport, so Close
// and DeviceID work on either.
package miio
