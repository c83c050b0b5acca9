package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteStateValue writes a single device state value to InfluxDB.
//
// This is the primary method for recording device state telemetry.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - address: Endpoint address the value came from (e.g., "192.168.1.40:4999")
//   - key: The state key (e.g., "VOLUME", "TEMPERATURE")
//   - value: The state value as reported by the device
//
// Example:
//
//	client.WriteStateValue("192.168.1.40:4999", "VOLUME", "42")
func (c *Client) WriteStateValue(address string, key string, value string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_state",
		map[string]string{
			"address": address,
			"key":     key,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteConnectionStatus writes a connection status transition.
//
// Used for tracking endpoint availability over time.
//
// Parameters:
//   - address: Endpoint address
//   - status: Connection status ("connected", "connecting", "disconnected")
//   - connected: 1 when connected, 0 otherwise (queryable as a gauge)
func (c *Client) WriteConnectionStatus(address string, status string, connected bool) {
	if !c.IsConnected() {
		return
	}

	gauge := 0
	if connected {
		gauge = 1
	}

	point := write.NewPoint(
		"connection_status",
		map[string]string{
			"address": address,
			"status":  status,
		},
		map[string]interface{}{
			"connected": gauge,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoolStats writes pool-level operational counters.
//
// Parameters:
//   - connections: Total managed connections
//   - connected: Connections currently established
//   - attemptsTotal: Cumulative connect iterations
//   - reconnectsTotal: Cumulative successful automatic reconnects
func (c *Client) WritePoolStats(connections, connected int, attemptsTotal, reconnectsTotal uint64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"pool_stats",
		nil,
		map[string]interface{}{
			"connections":      connections,
			"connected":        connected,
			"attempts_total":   attemptsTotal,
			"reconnects_total": reconnectsTotal,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "conduit-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
