package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// SampleMeasurement is the measurement name for mirrored samples.
const SampleMeasurement = "rtr_sample"

// NewSamplePoint builds the point for one decoded sample: tag device_id,
// one field per layout field, timestamped at observation time.
func NewSamplePoint(deviceID string, fields map[string]any, observedAt time.Time) *write.Point {
	return write.NewPoint(
		SampleMeasurement,
		map[string]string{"device_id": deviceID},
		fields,
		observedAt,
	)
}

// WriteSample queues one decoded sample. Non-blocking; a disconnected
// client drops the sample silently.
//
// Example:
//
//	client.WriteSample("0x100", map[string]any{"adc_ch1": int64(1000)}, ts)
func (c *Client) WriteSample(deviceID string, fields map[string]any, observedAt time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}
	c.writeAPI.WritePoint(NewSamplePoint(deviceID, fields, observedAt))
}
