// Package logging provides structured logging for ParkFlow Core.
//
// It wraps log/slog so that every component logs with the same handler,
// level and default fields (service, version).
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("trigger").Info("trigger fired", "node_id", id)
//
// Operator console entries produced by the flow engine are a separate stream
// (see the automation and audit packages); this package is for process logs.
package logging
