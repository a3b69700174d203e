// Package scheduler issues periodic remote-transmission requests, one
// independent schedule per device, and publishes the frames the bus
// observes onto the DATA channel.
//
// Each device cycles IDLE -> REQUEST_SENT -> IDLE. A fire sends one request
// and arms the next fire one period later; the response, if any, arrives
// through the bus callback. A missing response is data loss, not an error:
// the next fire asks again.
//
// Frequencies change at runtime through control messages on the CONTROL
// channel. A change takes effect immediately: the pending fire is cancelled
// and the next one is armed one new period from now.
package scheduler
