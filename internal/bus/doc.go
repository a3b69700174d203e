// Package bus talks to the CAN bus on behalf of the scheduler.
//
// A Collaborator issues remote-transmission requests and reports every frame
// it observes through a callback. Two implementations exist:
//
//   - Simulator answers requests with random field values after a
//     configurable delay, optionally dropping a share of them.
//   - SocketCAN uses a Linux raw CAN socket (bus.interface). Link setup,
//     including the bitrate, stays with the operating system.
//
// Frame callbacks run on a small worker pool. Each device is pinned to one
// worker with its own bounded queue, so a device's frames are delivered in
// bus order. When a queue is full the frame is dropped and counted; the bus
// reader never blocks on a slow consumer.
package bus
