package tsdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteSensorReading writes one environment reading as a point per
// parameter. Non-blocking; points are batched and sent asynchronously.
//
// Measurement: "environment". Tags: device_id and, when known,
// location. Fields: the reading values in engineering units
// (temperature in C, humidity in %, co2 in ppm, pm25 in ug/m3).
func (c *Client) WriteSensorReading(deviceID, location string, reading map[string]float64) {
	if !c.IsConnected() || len(reading) == 0 {
		return
	}

	tags := map[string]string{"device_id": deviceID}
	if location != "" {
		tags["location"] = location
	}

	fields := make(map[string]interface{}, len(reading))
	for parameter, value := range reading {
		fields[parameter] = value
	}

	c.writeAPI.WritePoint(write.NewPoint("environment", tags, fields, time.Now()))
}

// WriteDeviceStatus records a connectivity transition for trend
// analysis. Online is stored as 1, offline as 0.
func (c *Client) WriteDeviceStatus(deviceID string, online bool) {
	if !c.IsConnected() {
		return
	}

	status := 0
	if online {
		status = 1
	}

	point := write.NewPoint(
		"device_status",
		map[string]string{"device_id": deviceID},
		map[string]interface{}{"online": status},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}
