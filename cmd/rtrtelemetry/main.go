// RTR Telemetry - periodic CAN telemetry acquisition.
//
// One binary runs each process of the pipeline:
//
//	rtrtelemetry broker      relays producer topics onto canonical topics
//	rtrtelemetry scheduler   polls devices with remote-transmission requests
//	rtrtelemetry store       decodes, buffers and logs samples; serves the API
//
// plus two operator tools, snapshot and set-frequency.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
