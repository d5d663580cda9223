// Package influxdb writes appliance telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Writes are
// non-blocking and batched according to influxdb.batch_size and
// influxdb.flush_interval; write failures are reported asynchronously
// through SetOnError.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WritePoint("hvac_state", tags, fields, time.Now())
package influxdb
