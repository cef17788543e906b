// Package log provides structured protocol logging for peerlink nodes.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events from the transport core: frames and datagrams,
// handshake progress, registry membership, ping/pong and reachability
// probes, and traffic counters. It is separate from operational logging
// (slog); protocol capture provides a machine-readable trace for debugging.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to a binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/peerlink/node.plog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(consoleLogger, fileLogger)
//
// # File Format
//
// Log files are a stream of CBOR-encoded events with the .plog extension.
// The peerlink-log tool views and filters them.
package log
