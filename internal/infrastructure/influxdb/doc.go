// Package influxdb provides InfluxDB connectivity for Gray Logic Bridges.
//
// It wraps the official influxdb-client-go v2 library with Gray Logic-specific
// patterns for connection management, metric writing, and health monitoring.
//
// # Purpose
//
// This package handles time-series data storage for:
//   - Wifi client signal strength per presence scan
//   - Connected client counts
//   - Vacuum telemetry (battery, clean time/area)
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteSignalMetric("AA:BB:CC:DD:EE:FF", -54)
//
// Writes are non-blocking and batched; failures surface through the
// SetOnError callback.
package influxdb
