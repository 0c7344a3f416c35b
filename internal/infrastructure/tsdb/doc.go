// Package tsdb stores sensor telemetry in InfluxDB.
//
// # Features
//
//   - Non-blocking batched writes via the InfluxDB v2 write API
//   - One point per reading tagged by device and location
//   - Async write errors delivered through an error callback
//
// # Usage
//
//	client, err := tsdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSensorReading("env-lobby", "Lobby",
//	    map[string]float64{"co2": 850, "temperature": 23.5})
//
// Telemetry is optional: when disabled in config, Connect returns
// ErrDisabled and the rest of the service runs without it.
package tsdb
