// Package ubus provides a JSON-RPC 2.0 client for the OpenWrt ubus
// HTTP endpoint (uhttpd-mod-ubus).
//
// The client authenticates with session.login using the all-zero null
// session, then threads the returned ubus_rpc_session token through every
// call. Sessions expire server-side; the client re-authenticates and
// retries once when the router reports access denied.
//
// Typed helpers wrap the objects the presence bridge needs:
//
//	WirelessDevices  iwinfo devices     wireless interface names
//	AssocList        iwinfo assoclist   associated stations per interface
//	LeaseFilePaths   uci get            dnsmasq leasefile locations
//	ReadFile         file read          lease file contents
//	ODHCPDLeases     dhcp ipv4leases    odhcpd lease tables (diagnostics)
//
// The ACL on the router must grant the login user access to these objects;
// see the OpenWrt rpcd documentation for /usr/share/rpcd/acl.d.
package ubus
