// Package log provides structured event logging for the bluemesh engine.
//
// This package defines the Logger interface and Event types for capturing
// engine-level events at multiple layers (transport, wire, mesh). It is
// separate from operational logging (slog) - event capture provides a
// complete machine-readable trace of what the mesh engine did and why.
//
// # Basic Usage
//
// Applications configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.EventLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.EventLogger, _ = log.NewFileLogger("/var/log/bluemesh/node.blog")
//
//	// Both: use MultiLogger
//	cfg.EventLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    log.NewFileLogger("/var/log/bluemesh/node.blog"),
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: raw frame traffic per link (FrameEvent)
//   - Wire: decoded mesh messages and routing outcomes (MessageEvent)
//   - Mesh: link/discovery state changes (StateChangeEvent), peer
//     sightings and losses (PeerEvent)
//
// Errors at any layer have a dedicated event type.
//
// # File Format
//
// Log files use CBOR encoding. Reader streams captured events back with
// optional filtering.
package log
