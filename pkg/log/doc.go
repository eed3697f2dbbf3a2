// Package log provides protocol event capture for liveconn connections.
//
// This is separate from operational logging (slog). Protocol capture
// records a machine-readable trace of what happened on each connection:
// frames read and written, heartbeat and close control messages, state
// changes of the connection and of its heartbeat checker, and errors such
// as liveness failures.
//
// # Basic Usage
//
//	// Console output via slog while developing
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Binary capture for later analysis with liveconn-log
//	fl, _ := log.NewFileLogger("/var/log/liveconn/probe.llog")
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # File Format
//
// Log files are a stream of CBOR-encoded Events using integer keys,
// conventionally with the .llog extension.
package log
