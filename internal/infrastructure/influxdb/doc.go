// Package influxdb mirrors decoded RTR samples into InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. The mirror is
// optional (influxdb.enabled) and never on the primary read path: the
// store keeps serving snapshots from its ring buffers whether or not
// InfluxDB is reachable.
//
// # Data Model
//
// One point per sample:
//
//	rtr_sample,device_id=0x100 adc_ch1=1000i,adc_ch2=-500i 1712312312000000000
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // mirror off
//	}
//	defer client.Close()
//	client.SetOnError(func(err error) { logger.Warn("influx write failed", "error", err) })
//	client.WriteSample("0x100", fields, observedAt)
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are batched according to
// batch_size and flush_interval.
package influxdb
