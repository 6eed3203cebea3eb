// Package presence tracks wireless clients on an OpenWrt router and
// publishes device-tracker state over the Gray Logic MQTT contract.
//
// The bridge polls the router's iwinfo association tables through ubus,
// resolves hostnames and IPs from the dnsmasq lease file, and publishes
// retained state to graylogic/state/presence/{mac-slug}. A client that
// stays absent beyond the away timeout transitions to not home; a failed
// scan changes nothing.
//
// Deployments on the router itself can read the lease file locally with
// LocalLeaseFile (fsnotify) instead of round-tripping through ubus.
//
// Sightings are persisted to the clients table and, when configured,
// signal strength and presence counts go to InfluxDB.
package presence
