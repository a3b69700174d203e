// Package store is the backend store: it consumes frames from the DATA
// channel, decodes them against the layout, keeps the newest values of
// every field in fixed-size ring buffers and appends every sample to the
// durable sample log.
//
// Frames are handed from the transport to a single consumer goroutine
// through a bounded queue. A frame that cannot be decoded is logged and
// dropped; the consumer never exits on a per-frame error. A failing
// sample log does not stop the in-memory path.
//
// Readers get copies: Snapshot never exposes the buffers themselves.
package store
