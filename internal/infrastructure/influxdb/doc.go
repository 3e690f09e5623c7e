// Package influxdb records fpcore capture telemetry in InfluxDB.
//
// Three measurements are written, all tagged by reader:
//   - capture_outcome: one point per continuous capture attempt (mode,
//     quality, consecutive_errors)
//   - identification: one point per attendance verdict (identified, score)
//   - enrollment_step: one point per enrollment capture step (quality,
//     remaining, complete)
//
// Writes are non-blocking and batched per the influxdb config section.
// Asynchronous write failures go to the SetOnError callback. A nil or
// closed *Client silently drops writes, so telemetry stays optional.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	sched.SetMetrics(client)
package influxdb
