// Package influxdb writes doorgate telemetry to InfluxDB v2.
//
// Three measurements are recorded:
//   - login_attempts: one point per login, tagged by outcome
//   - door_commands: one point per controller command, with latency
//   - lockout_stats: periodic snapshots of tracked and blocked addresses
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Write errors arrive asynchronously through SetOnError.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteLogin("invalid_credentials", time.Now())
package influxdb
