package wire

import "errors"

// ErrInvalidMessageID is returned for data messages with ID 0.
var ErrInvalidMessageID = errors.New("wire: message ID must be non-zero")

// ControlMessage is a transport-level control message.
//
// CBOR encoding:
//
//	{
//	  1: type,     // uint8: ControlMessageType
//	  2: sequence  // uint32, omitted when zero
//	}
type ControlMessage struct {
	Type     ControlMessageType `cbor:"1,keyasint"`
	Sequence uint32             `cbor:"2,keyasint,omitempty"`
}

// ControlMessageType is the type of a control message.
type ControlMessageType uint8

const (
	// ControlHeartbeat announces that the sender is alive. It has no reply.
	ControlHeartbeat ControlMessageType = 1

	// ControlClose initiates a graceful close.
	ControlClose ControlMessageType = 2

	// ControlCloseAck acknowledges a ControlClose.
	ControlCloseAck ControlMessageType = 3
)

// String returns the control message type name.
func (t ControlMessageType) String() string {
	switch t {
	case ControlHeartbeat:
		return "heartbeat"
	case ControlClose:
		return "close"
	case ControlCloseAck:
		return "close-ack"
	default:
		return "unknown"
	}
}

// Valid reports whether t is a known control message type.
func (t ControlMessageType) Valid() bool {
	return t >= ControlHeartbeat && t <= ControlCloseAck
}

// DataMessage carries application data.
//
// CBOR encoding:
//
//	{
//	  1: messageId,  // uint32, non-zero
//	  3: payload     // bytes, always present (null when empty)
//	}
type DataMessage struct {
	ID      uint32 `cbor:"1,keyasint"`
	Payload []byte `cbor:"3,keyasint"`
}

// Validate checks the message for protocol compliance.
func (m *DataMessage) Validate() error {
	if m.ID == 0 {
		return ErrInvalidMessageID
	}
	return nil
}
