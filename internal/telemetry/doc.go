// Package telemetry holds the data model shared by the scheduler, broker
// and store: device ids, raw bus frames, decoded samples and control
// messages, plus their wire encodings.
//
// # Wire Formats
//
// DATA channel messages carry one Frame encoded as deterministic CBOR
// (RFC 8949 core deterministic encoding) with integer keys:
//
//	{1: device id, 2: observed-at unix nanoseconds, 3: payload bytes, 4: remote flag}
//
// CONTROL channel messages are JSON, compatible with the operator tools:
//
//	{"type":"rtr_frequency_update","id":"0x100","frequency":5}
//
// Optional "msg_id" (UUID) and "issued_at" fields are added by this
// module's producers and ignored by older consumers.
package telemetry
