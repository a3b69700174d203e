// Package logging provides structured logging for RTR Telemetry.
//
// It wraps log/slog so the broker, scheduler and store processes all emit
// records with the same shape.
//
// # Features
//
//   - JSON output for production, text output for a terminal
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Component sub-loggers via Component("scheduler")
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("decoded sample", "device_id", "0x100", "fields", 2)
//
// Per-frame failures are logged at warn with the device id in hex so they
// can be grepped against the layout document.
package logging
