// Package heartbeat provides the connection liveness watchdog.
//
// A Watchdog is owned by a connection. The connection starts it with a
// FailureSink once the connection is open and stops it on close. The
// frame reader calls RegisterFrameReceived for every frame it reads and
// RegisterHeartbeatReceived for heartbeat frames.
//
// # Detection
//
// Every interval the watchdog checks whether any frame arrived since the
// previous check. A peer under load may skip its own heartbeat frames
// while still sending data, so only a window with no frame of any kind
// counts as silence. The connection is declared dead when no frame was
// seen since the last check and the time since the last heartbeat
// exceeds the threshold (twice the interval):
//
//	interval:  1s
//	threshold: 2s (strictly greater than)
//	worst-case detection: about 3 × interval after the last activity
//
// A detected failure is appended to the sink as a *LivenessError. The
// watchdog keeps running after reporting; the owner drains the sink and
// decides to close the connection.
//
// # Lifecycle
//
//	IDLE ──Start──> STARTING ──> RUNNING ──Stop──> STOPPED
//
// STOPPED is terminal. A connection that reconnects builds a new Watchdog.
package heartbeat
