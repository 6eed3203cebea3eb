package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteSignalMetric records a wifi client's signal strength.
//
// One point per client per presence scan. The write is non-blocking;
// data is batched and sent asynchronously.
//
// Parameters:
//   - mac: Uppercased hardware address of the client
//   - signalDBm: Received signal strength in dBm (negative)
//
// Example:
//
//	client.WriteSignalMetric("AA:BB:CC:DD:EE:FF", -54)
func (c *Client) WriteSignalMetric(mac string, signalDBm int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"wifi_signal",
		map[string]string{
			"mac": mac,
		},
		map[string]interface{}{
			"signal_dbm": signalDBm,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePresenceCount records the number of connected wifi clients.
//
// One point per presence scan.
func (c *Client) WritePresenceCount(count int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"presence",
		nil,
		map[string]interface{}{
			"client_count": count,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteVacuumMetrics records a vacuum's poll telemetry.
//
// Parameters:
//   - deviceID: Gray Logic device identifier
//   - battery: Battery percentage (0-100)
//   - cleanAreaM2: Area cleaned in the current/last run (square metres)
//   - cleanTime: Duration of the current/last run
func (c *Client) WriteVacuumMetrics(deviceID string, battery int, cleanAreaM2 float64, cleanTime time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"vacuum",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"battery":        battery,
			"clean_area_m2":  cleanAreaM2,
			"clean_time_sec": cleanTime.Seconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeviceMetric writes a single named device measurement.
//
// Generic fallback for entity attributes that don't have a dedicated
// writer (e.g. a plug's temperature).
func (c *Client) WriteDeviceMetric(deviceID string, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_metrics",
		map[string]string{
			"device_id":   deviceID,
			"measurement": measurement,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
