// Package wire defines the CBOR payloads carried in liveconn frames.
//
// Payloads use CBOR (RFC 8949) maps with integer keys and canonical
// encoding. There are two payload kinds:
//   - ControlMessage: connection housekeeping (heartbeat, close, close ack)
//   - DataMessage: application data
//
// # Key layout
//
//	control: {1: type, 2: sequence}
//	data:    {1: messageId, 3: payload}
//
// Data messages always carry key 3, control messages never do. This is
// what PeekMessageType relies on.
package wire
