package wire

import (
	"fmt"
)

// Control bytes.
const (
	// Start opens a frame.
	Start byte = 0x02

	// End closes a frame.
	End byte = 0x03

	// ACK acknowledges the last command (out of envelope).
	ACK byte = 0x06

	// NAK rejects the last command (out of envelope).
	NAK byte = 0x15

	// Esc introduces a two-byte escape pair.
	Esc byte = 0x1B
)

// MaxObjectID is the largest 24-bit object id.
const MaxObjectID = 0xFFFFFF

// MessageType is the first body byte of a frame.
type MessageType uint8

// Message types.
const (
	MsgSetRaw             MessageType = 0x88
	MsgSubscribeRaw       MessageType = 0x89
	MsgUnsubscribeRaw     MessageType = 0x8A
	MsgRecallPreset       MessageType = 0x8C
	MsgSetPercent         MessageType = 0x8D
	MsgSubscribePercent   MessageType = 0x8E
	MsgUnsubscribePercent MessageType = 0x8F
	MsgBumpPercent        MessageType = 0x90
)

// Body lengths (unescaped, without checksum).
const (
	addressedBodyLen = 1 + 2 + 1 + 3 + 2
	valueBodyLen     = addressedBodyLen + 4
	presetBodyLen    = 1 + 4
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case MsgSetRaw:
		return "SET_RAW"
	case MsgSubscribeRaw:
		return "SUBSCRIBE_RAW"
	case MsgUnsubscribeRaw:
		return "UNSUBSCRIBE_RAW"
	case MsgRecallPreset:
		return "RECALL_PRESET"
	case MsgSetPercent:
		return "SET_PERCENT"
	case MsgSubscribePercent:
		return "SUBSCRIBE_PERCENT"
	case MsgUnsubscribePercent:
		return "UNSUBSCRIBE_PERCENT"
	case MsgBumpPercent:
		return "BUMP_PERCENT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(t))
	}
}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t.bodyLen() > 0
}

// HasValue reports whether the body carries a 4-byte value.
func (t MessageType) HasValue() bool {
	switch t {
	case MsgSetRaw, MsgSetPercent, MsgBumpPercent:
		return true
	}
	return false
}

// IsPercent reports whether the value is in the percent family.
func (t MessageType) IsPercent() bool {
	switch t {
	case MsgSetPercent, MsgSubscribePercent, MsgUnsubscribePercent, MsgBumpPercent:
		return true
	}
	return false
}

// Nodeless reports whether the body carries no parameter address.
func (t MessageType) Nodeless() bool {
	return t == MsgRecallPreset
}

func (t MessageType) bodyLen() int {
	switch t {
	case MsgSetRaw, MsgSetPercent, MsgBumpPercent:
		return valueBodyLen
	case MsgSubscribeRaw, MsgUnsubscribeRaw, MsgSubscribePercent, MsgUnsubscribePercent:
		return addressedBodyLen
	case MsgRecallPreset:
		return presetBodyLen
	default:
		return 0
	}
}

// Address identifies one controllable value. It is comparable and usable as
// a map key; field order is node, virtual device, object, parameter.
type Address struct {
	Node          uint16 `yaml:"node" toml:"node"`
	VirtualDevice uint8  `yaml:"vdev" toml:"vdev"`
	Object        uint32 `yaml:"object" toml:"object"`
	Parameter     uint16 `yaml:"param" toml:"param"`
}

// String formats the address as node.vdev.object.param in hex.
func (a Address) String() string {
	return fmt.Sprintf("%04X.%02X.%06X.%04X", a.Node, a.VirtualDevice, a.Object, a.Parameter)
}

// Validate checks that the object id fits in 24 bits.
func (a Address) Validate() error {
	if a.Object > MaxObjectID {
		return fmt.Errorf("%w: object id 0x%X exceeds 24 bits", ErrFieldRange, a.Object)
	}
	return nil
}

// ParseAddress parses the String form of an address.
func ParseAddress(s string) (Address, error) {
	var a Address
	var node, vdev, obj, param uint64
	n, err := fmt.Sscanf(s, "%x.%x.%x.%x", &node, &vdev, &obj, &param)
	if err != nil || n != 4 {
		return a, fmt.Errorf("invalid address %q: want node.vdev.object.param in hex", s)
	}
	if node > 0xFFFF || vdev > 0xFF || obj > MaxObjectID || param > 0xFFFF {
		return a, fmt.Errorf("%w: address %q", ErrFieldRange, s)
	}
	a = Address{
		Node:          uint16(node),
		VirtualDevice: uint8(vdev),
		Object:        uint32(obj),
		Parameter:     uint16(param),
	}
	return a, nil
}

// Message is one semantic protocol command or notification.
type Message struct {
	// Type selects the body layout.
	Type MessageType

	// Address targets a parameter. Unused for RECALL_PRESET.
	Address Address

	// Value is the signed raw wire value for SET_* and BUMP_PERCENT.
	Value int32

	// PresetID is used by RECALL_PRESET only.
	PresetID uint32
}

// String returns a compact description for logs.
func (m Message) String() string {
	switch {
	case m.Type.Nodeless():
		return fmt.Sprintf("%s preset=%d", m.Type, m.PresetID)
	case m.Type.HasValue():
		return fmt.Sprintf("%s %s value=%d", m.Type, m.Address, m.Value)
	default:
		return fmt.Sprintf("%s %s", m.Type, m.Address)
	}
}

// SetRaw builds a SET_RAW message.
func SetRaw(addr Address, raw int32) Message {
	return Message{Type: MsgSetRaw, Address: addr, Value: raw}
}

// SetPercent builds a SET_PERCENT message from a raw percent value.
func SetPercent(addr Address, raw int32) Message {
	return Message{Type: MsgSetPercent, Address: addr, Value: raw}
}

// BumpPercent builds a BUMP_PERCENT message from a raw percent delta.
func BumpPercent(addr Address, raw int32) Message {
	return Message{Type: MsgBumpPercent, Address: addr, Value: raw}
}

// Subscribe builds a SUBSCRIBE_RAW or SUBSCRIBE_PERCENT message.
func Subscribe(addr Address, percent bool) Message {
	if percent {
		return Message{Type: MsgSubscribePercent, Address: addr}
	}
	return Message{Type: MsgSubscribeRaw, Address: addr}
}

// Unsubscribe builds an UNSUBSCRIBE_RAW or UNSUBSCRIBE_PERCENT message.
func Unsubscribe(addr Address, percent bool) Message {
	if percent {
		return Message{Type: MsgUnsubscribePercent, Address: addr}
	}
	return Message{Type: MsgUnsubscribeRaw, Address: addr}
}

// RecallPreset builds a RECALL_PRESET message.
func RecallPreset(presetID uint32) Message {
	return Message{Type: MsgRecallPreset, PresetID: presetID}
}

// Frame is a decoded inbound frame.
type Frame struct {
	Message

	// Checksum is the checksum byte as received.
	Checksum byte

	// Valid is false when the frame failed to decode; Err says why.
	Valid bool

	// Err is a *ProtocolError for invalid frames.
	Err error
}
