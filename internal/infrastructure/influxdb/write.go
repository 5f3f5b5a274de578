package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	// MeasurementState holds one point per device status event.
	MeasurementState = "vitrea_state"

	// MeasurementConnection holds one point per VBox session transition.
	MeasurementConnection = "vitrea_connection"
)

// WriteDeviceState records a device status event.
//
// Parameters:
//   - deviceID: device identifier, e.g. "N005-2" or "A003"
//   - kind: event kind, e.g. "node_status"
//   - fields: the event's values; must not be empty
//   - at: when the event was received
//
// Example:
//
//	client.WriteDeviceState("A003", "ac_status", map[string]any{"on": true, "temperature": 22}, time.Now())
func (c *Client) WriteDeviceState(deviceID, kind string, fields map[string]any, at time.Time) {
	if len(fields) == 0 {
		return
	}
	c.WritePointWithTime(MeasurementState,
		map[string]string{
			"device_id": deviceID,
			"kind":      kind,
		},
		fields,
		at,
	)
}

// WriteConnectionState records a VBox session going up or down.
// reason is the controller's error reason and may be empty.
func (c *Client) WriteConnectionState(up bool, reason string, at time.Time) {
	tags := map[string]string{}
	if reason != "" {
		tags["reason"] = reason
	}
	c.WritePointWithTime(MeasurementConnection, tags, map[string]any{"connected": up}, at)
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
// It is a no-op when the client is not connected.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
	c.written.Add(1)
}
