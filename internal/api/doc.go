// Package api implements the HTTP read API and WebSocket live feed of the
// RTR Telemetry store.
//
// This package provides:
//   - Device listing and per-device buffer snapshots
//   - Frequency change requests, relayed onto the CONTROL channel
//   - A WebSocket hub broadcasting every accepted sample
//   - Prometheus metrics at /metrics and a JSON system summary
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API sits in front of the store. Reads never touch the ring buffers
// directly: every response is built from the copies the store hands out.
// Frequency changes are not applied here; they are published for the
// scheduler, which validates and applies them.
//
// # Security
//
// There is no authentication. Bind the listener to a trusted interface
// (api.host, 127.0.0.1 by default).
package api
