// Package logging wraps log/slog into Conduit's structured logger.
//
// Every record carries the service name and build version, so logs from
// several services on a site controller stay attributable. Output
// format, level, and destination come from the logging section of
// config.yaml:
//
//	logging:
//	  level: info     # debug, info, warn, error
//	  format: json    # json for production, text for a dev console
//	  output: stdout  # stdout or stderr
//
// Subsystems take a child logger tagged with their component name:
//
//	poolLog := log.With("component", "pool")
//	poolLog.Info("endpoint connected", "address", addr)
//
// Never log credentials or tokens; the JWT secret and broker passwords
// exist only in config and env vars, keep them out of records.
package logging
