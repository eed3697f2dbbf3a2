// Package transport provides framed connections supervised by a
// heartbeat checker.
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   CBOR control / data payloads │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│       TLS 1.3 (optional)       │
//	├────────────────────────────────┤
//	│              TCP               │
//	└────────────────────────────────┘
//
// # Liveness
//
// Both sides send a heartbeat control frame every interval. Each
// Connection runs a heartbeat.Watchdog fed by its read loop: every frame
// counts as a sign of life and heartbeat frames also reset the silence
// window. When nothing arrives for twice the interval the watchdog
// reports a failure, the connection passes it to OnError and closes.
//
// A dead connection is not reconnected. Callers that want to retry
// create a new Connection.
package transport
