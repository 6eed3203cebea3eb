package presence

import (
	"strconv"
	"strings"
	"time"
)

// Lease is one dnsmasq DHCP lease record.
type Lease struct {
	// Expires is when the lease runs out.
	Expires time.Time

	// MAC is the client hardware address, upper case.
	MAC string

	// IP is the leased address (IPv4 or IPv6).
	IP string

	// Hostname is the client-reported name, empty when unknown
	// (dnsmasq writes "*").
	Hostname string

	// ClientID is the DHCP client identifier, empty when absent.
	ClientID string
}

// leaseFields is the column count of a dnsmasq lease line:
// expiry, MAC, IP, hostname, client ID.
const leaseFields = 5

// ParseLeases parses dnsmasq lease file contents into a map keyed by
// upper-cased MAC. Malformed lines are skipped; the skip count is
// returned so callers can log it.
func ParseLeases(data string) (map[string]Lease, int) {
	leases := make(map[string]Lease)
	skipped := 0

	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != leaseFields {
			skipped++
			continue
		}

		expires, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			skipped++
			continue
		}

		mac := strings.ToUpper(fields[1])
		hostname := fields[3]
		if hostname == "*" {
			hostname = ""
		}
		clientID := fields[4]
		if clientID == "*" {
			clientID = ""
		}

		leases[mac] = Lease{
			Expires:  time.Unix(expires, 0),
			MAC:      mac,
			IP:       fields[2],
			Hostname: hostname,
			ClientID: clientID,
		}
	}
	return leases, skipped
}
