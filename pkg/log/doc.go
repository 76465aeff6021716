// Package log provides protocol capture for device sessions.
//
// Capture is separate from operational logging (slog): it records every
// frame, decoded message, ACK/NAK byte, state change and protocol error so a
// session can be replayed and analyzed after the fact.
//
// # Basic Usage
//
//	// Console, at debug level
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Binary capture file
//	fl, _ := log.NewFileLogger("/var/log/bss/venue.blog")
//	cfg.ProtocolLogger = fl
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Event Types
//
// Events are captured at three layers:
//   - Transport: raw frame bytes as written or received (FrameEvent)
//   - Wire: decoded messages (MessageEvent) and ACK/NAK (ControlEvent)
//   - Session: connection state changes (StateChangeEvent)
//
// Errors at any layer use ErrorEventData.
//
// # File Format
//
// Capture files are a stream of CBOR-encoded events with integer keys, by
// convention with a .blog extension. The bss-log tool views and summarizes
// them.
package log
