// Package mqtt publishes alert and device-status events to an MQTT
// broker for consumption by external systems (BMS head-ends, wall
// dashboards, historians).
//
// # Features
//
//   - Connection management with auto-reconnect and exponential backoff
//   - Last Will and Testament on the system status topic, so a crashed
//     gateway is visible to subscribers
//   - Retained online/offline status with graceful-shutdown reason
//   - Event mirror that sits in front of the WebSocket hub and copies
//     every broadcast onto the bus, best-effort
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	notifier := mqtt.NewMirror(hub, client, logger)
//
// The mirror implements the same Broadcast interface as the hub, so it
// is handed to the alert service in place of the hub when MQTT is
// enabled.
package mqtt
