package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Lenient decoding for forward compatibility.
	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// EncodeControlMessage encodes a control message.
func EncodeControlMessage(msg *ControlMessage) ([]byte, error) {
	if !msg.Type.Valid() {
		return nil, fmt.Errorf("invalid control message type %d", msg.Type)
	}
	return Marshal(msg)
}

// DecodeControlMessage decodes a control message.
func DecodeControlMessage(data []byte) (*ControlMessage, error) {
	var msg ControlMessage
	if err := Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode control message: %w", err)
	}
	if !msg.Type.Valid() {
		return nil, fmt.Errorf("invalid control message type %d", msg.Type)
	}
	return &msg, nil
}

// EncodeDataMessage encodes a data message.
func EncodeDataMessage(msg *DataMessage) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid data message: %w", err)
	}
	return Marshal(msg)
}

// DecodeDataMessage decodes a data message.
func DecodeDataMessage(data []byte) (*DataMessage, error) {
	var msg DataMessage
	if err := Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode data message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid data message: %w", err)
	}
	return &msg, nil
}

// MessageType is the kind of a frame payload.
type MessageType int

const (
	MessageTypeUnknown MessageType = iota
	MessageTypeControl
	MessageTypeData
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case MessageTypeControl:
		return "control"
	case MessageTypeData:
		return "data"
	default:
		return "unknown"
	}
}

// PeekMessageType determines the payload kind without fully decoding it.
// A payload with key 3 is data; one without key 3 and a valid control
// type at key 1 is control.
func PeekMessageType(data []byte) (MessageType, error) {
	var peek map[uint64]cbor.RawMessage
	if err := Unmarshal(data, &peek); err != nil {
		return MessageTypeUnknown, fmt.Errorf("failed to peek message: %w", err)
	}

	if _, ok := peek[3]; ok {
		return MessageTypeData, nil
	}

	raw, ok := peek[1]
	if !ok {
		return MessageTypeUnknown, nil
	}
	var t ControlMessageType
	if err := Unmarshal(raw, &t); err != nil || !t.Valid() {
		return MessageTypeUnknown, nil
	}
	return MessageTypeControl, nil
}
