package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePoint queues one point. Writes on a disconnected client are dropped.
//
// Parameters:
//   - measurement: Measurement name, e.g. "hvac_state"
//   - tags: Low-cardinality index values such as accessory_id
//   - fields: The recorded values
//   - ts: Point timestamp
//
// Example:
//
//	client.WritePoint("hvac_state",
//	    map[string]string{"accessory_id": id, "name": "Living Room"},
//	    map[string]any{"current_temperature": 24, "power": true},
//	    time.Now())
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}
