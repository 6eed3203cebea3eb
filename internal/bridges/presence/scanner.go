package presence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-bridges/internal/bridges"
	"github.com/nerrad567/gray-logic-bridges/internal/ubus"
)

// RouterClient is the subset of the ubus client the scanner uses.
// Defined here so tests can substitute a fake router.
type RouterClient interface {
	WirelessDevices(ctx context.Context) ([]string, error)
	AssocList(ctx context.Context, device string) ([]ubus.Station, error)
	LeaseFilePaths(ctx context.Context) ([]string, error)
	ReadFile(ctx context.Context, path string) (string, error)
	HasObject(ctx context.Context, name string) (bool, error)
	ODHCPDLeases(ctx context.Context, method string) (json.RawMessage, error)
}

// LeaseSource provides the current DHCP lease table, keyed by upper-cased
// MAC. Implemented by the scanner itself (leases read through ubus) and by
// LocalLeaseFile (lease file on the local filesystem).
type LeaseSource interface {
	Leases(ctx context.Context) (map[string]Lease, error)
}

// ScanResult is one wireless client observed during a scan, merged with
// its DHCP lease when one exists.
type ScanResult struct {
	MAC      string
	Hostname string
	IP       string
	Signal   int
}

// Scanner polls the router for associated wireless clients.
//
// Interfaces are discovered once at startup; a router that cannot be
// reached at that point yields an empty interface list and the scanner
// retries discovery on the next scan. Every router error is logged and
// produces an empty contribution rather than a failed scan.
type Scanner struct {
	router RouterClient
	leases LeaseSource
	logger bridges.Logger

	// leaseFile, when set, overrides lease path discovery through uci.
	leaseFile string

	interfaces   []string
	interfacesMu sync.Mutex

	// odhcpdChecked tracks the one-time probe for the odhcpd dhcp object.
	odhcpdChecked bool
	odhcpdPresent bool
}

// ScannerOptions holds dependencies for a Scanner.
type ScannerOptions struct {
	Router RouterClient

	// Leases overrides lease lookup through the router; nil means read
	// lease files via ubus file.read.
	Leases LeaseSource

	// LeaseFile is an explicit lease file path on the router. Empty means
	// discover paths from the dhcp uci config.
	LeaseFile string

	Logger bridges.Logger
}

// NewScanner creates a scanner. Interface discovery happens on first Scan.
func NewScanner(opts ScannerOptions) *Scanner {
	s := &Scanner{
		router:    opts.Router,
		leases:    opts.Leases,
		leaseFile: opts.LeaseFile,
		logger:    opts.Logger,
	}
	if s.leases == nil {
		s.leases = routerLeaseSource{s}
	}
	return s
}

// Scan queries every wireless interface and merges the results with the
// lease table.
//
// Returns:
//   - map[string]ScanResult: Clients keyed by upper-cased MAC; empty on
//     total router failure, never nil
//   - bool: Whether at least one router call succeeded this scan
func (s *Scanner) Scan(ctx context.Context) (map[string]ScanResult, bool) {
	results := make(map[string]ScanResult)
	reachable := false

	for _, iface := range s.wirelessInterfaces(ctx) {
		stations, err := s.router.AssocList(ctx, iface)
		if err != nil {
			s.logWarn("assoclist failed", "interface", iface, "error", err)
			continue
		}
		reachable = true
		for _, station := range stations {
			results[station.MAC] = ScanResult{
				MAC:    station.MAC,
				Signal: station.Signal,
			}
		}
	}

	if len(results) == 0 {
		return results, reachable
	}

	leases, err := s.leases.Leases(ctx)
	if err != nil {
		s.logWarn("lease lookup failed", "error", err)
		return results, reachable
	}
	for mac, result := range results {
		if lease, ok := leases[mac]; ok {
			result.Hostname = lease.Hostname
			result.IP = lease.IP
			results[mac] = result
		}
	}

	s.logODHCPD(ctx)
	return results, reachable
}

// wirelessInterfaces returns the cached interface list, discovering it
// via iwinfo when empty.
func (s *Scanner) wirelessInterfaces(ctx context.Context) []string {
	s.interfacesMu.Lock()
	defer s.interfacesMu.Unlock()

	if len(s.interfaces) > 0 {
		return s.interfaces
	}

	devices, err := s.router.WirelessDevices(ctx)
	if err != nil {
		s.logWarn("wireless interface discovery failed", "error", err)
		return nil
	}
	s.interfaces = devices
	if len(devices) > 0 {
		s.logInfo("discovered wireless interfaces", "interfaces", devices)
	}
	return s.interfaces
}

// logODHCPD dumps the odhcpd lease tables at debug level when the router
// runs odhcpd. The tables list static host entries rather than live
// clients, so they contribute nothing to presence.
func (s *Scanner) logODHCPD(ctx context.Context) {
	if !s.odhcpdChecked {
		present, err := s.router.HasObject(ctx, "dhcp")
		if err != nil {
			return
		}
		s.odhcpdChecked = true
		s.odhcpdPresent = present
	}
	if !s.odhcpdPresent {
		return
	}

	for _, method := range []string{"ipv4leases", "ipv6leases"} {
		raw, err := s.router.ODHCPDLeases(ctx, method)
		if err != nil {
			s.logWarn("odhcpd query failed", "method", method, "error", err)
			continue
		}
		s.logDebug("odhcpd leases", "method", method, "payload", string(raw))
	}
}

// routerLeaseSource reads lease files through ubus file.read.
type routerLeaseSource struct {
	s *Scanner
}

func (r routerLeaseSource) Leases(ctx context.Context) (map[string]Lease, error) {
	paths := []string{r.s.leaseFile}
	if r.s.leaseFile == "" {
		discovered, err := r.s.router.LeaseFilePaths(ctx)
		if err != nil {
			return nil, err
		}
		paths = discovered
	}

	leases := make(map[string]Lease)
	for _, path := range paths {
		data, err := r.s.router.ReadFile(ctx, path)
		if err != nil {
			r.s.logWarn("lease file read failed", "path", path, "error", err)
			continue
		}
		parsed, skipped := ParseLeases(data)
		if skipped > 0 {
			r.s.logWarn("skipped malformed lease lines", "path", path, "count", skipped)
		}
		for mac, lease := range parsed {
			leases[mac] = lease
		}
	}
	return leases, nil
}

// lastSeenStale reports whether a client seen at lastSeen has been absent
// longer than the away timeout.
func lastSeenStale(lastSeen time.Time, awayTimeout time.Duration) bool {
	return time.Since(lastSeen) > awayTimeout
}

func (s *Scanner) logDebug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Scanner) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Scanner) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
