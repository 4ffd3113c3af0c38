// Package influxdb provides InfluxDB connectivity for ParkFlow Core.
//
// Every sample carries a site tag, so several parks can share one bucket.
//
// # Measurements
//
//	point_state       tags site, device; fields in_1..in_8, out_1..out_8 (bool)
//	order_submission  tags site, source, destination, outcome; fields attempts, duration_ms
//
// A point_state sample is written after every successful point sync, an
// order_submission sample after every finished order (submitted or given up).
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WritePointState("io-1", row.Inputs[:], row.Outputs[:], row.UpdatedAt)
//
// Batches that fail are reported as *WriteError through SetOnError.
package influxdb
