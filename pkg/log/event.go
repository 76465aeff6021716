package log

import (
	"strings"
	"time"

	"github.com/buzzspeakerhire/bss-control-app/pkg/wire"
)

// MaxFrameDataSize is the largest frame payload kept in a capture event.
const MaxFrameDataSize = 1024

// Event is one captured protocol event. Exactly one of the payload pointers
// is set. CBOR encoding uses integer keys.
type Event struct {
	// Timestamp when the event occurred.
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies one connection of a device session (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// DeviceID is the application's device id.
	DeviceID string `cbor:"3,keyasint,omitempty"`

	Direction Direction `cbor:"4,keyasint"`
	Layer     Layer     `cbor:"5,keyasint"`
	Category  Category  `cbor:"6,keyasint"`

	// RemoteAddr is the peer endpoint.
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Control     *ControlEvent     `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates message flow.
type Direction uint8

const (
	// DirectionIn is device to controller.
	DirectionIn Direction = 0
	// DirectionOut is controller to device.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates where an event was captured.
type Layer uint8

const (
	// LayerTransport is raw delimited frames.
	LayerTransport Layer = 0
	// LayerWire is decoded messages and flow-control bytes.
	LayerWire Layer = 1
	// LayerSession is connection lifecycle and command sequencing.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// ParseLayer parses a layer name, case-insensitive.
func ParseLayer(s string) (Layer, bool) {
	for _, l := range []Layer{LayerTransport, LayerWire, LayerSession} {
		if strings.EqualFold(s, l.String()) {
			return l, true
		}
	}
	return 0, false
}

// HasDirection reports whether Direction is meaningful for the event.
// State changes and link errors are not traffic.
func (e Event) HasDirection() bool {
	return e.Category == CategoryMessage || e.Category == CategoryControl
}

// Category classifies the event.
type Category uint8

const (
	CategoryMessage Category = 0
	CategoryControl Category = 1
	CategoryState   Category = 2
	CategoryError   Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame bytes.
type FrameEvent struct {
	// Size is the full frame size in bytes, delimiters included.
	Size int `cbor:"1,keyasint"`

	// Data is the frame, truncated to MaxFrameDataSize.
	Data []byte `cbor:"2,keyasint,omitempty"`

	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// NewFrameEvent builds a FrameEvent, truncating long frames.
func NewFrameEvent(frame []byte) *FrameEvent {
	fe := &FrameEvent{Size: len(frame)}
	data := frame
	if len(data) > MaxFrameDataSize {
		data = data[:MaxFrameDataSize]
		fe.Truncated = true
	}
	fe.Data = append([]byte(nil), data...)
	return fe
}

// MessageEvent captures a decoded message.
type MessageEvent struct {
	Type          wire.MessageType `cbor:"1,keyasint"`
	Node          uint16           `cbor:"2,keyasint,omitempty"`
	VirtualDevice uint8            `cbor:"3,keyasint,omitempty"`
	Object        uint32           `cbor:"4,keyasint,omitempty"`
	Parameter     uint16           `cbor:"5,keyasint,omitempty"`
	Value         int32            `cbor:"6,keyasint,omitempty"`
	PresetID      uint32           `cbor:"7,keyasint,omitempty"`
}

// NewMessageEvent builds a MessageEvent from a wire message.
func NewMessageEvent(m wire.Message) *MessageEvent {
	return &MessageEvent{
		Type:          m.Type,
		Node:          m.Address.Node,
		VirtualDevice: m.Address.VirtualDevice,
		Object:        m.Address.Object,
		Parameter:     m.Address.Parameter,
		Value:         m.Value,
		PresetID:      m.PresetID,
	}
}

// WireMessage converts the event back to a wire message.
func (m *MessageEvent) WireMessage() wire.Message {
	return wire.Message{
		Type: m.Type,
		Address: wire.Address{
			Node:          m.Node,
			VirtualDevice: m.VirtualDevice,
			Object:        m.Object,
			Parameter:     m.Parameter,
		},
		Value:    m.Value,
		PresetID: m.PresetID,
	}
}

// StateChangeEvent captures a session state transition.
type StateChangeEvent struct {
	OldState string `cbor:"1,keyasint,omitempty"`
	NewState string `cbor:"2,keyasint"`
	Reason   string `cbor:"3,keyasint,omitempty"`
}

// ControlType is an out-of-envelope flow-control byte.
type ControlType uint8

const (
	ControlACK ControlType = 0
	ControlNAK ControlType = 1
)

// String returns the control type name.
func (c ControlType) String() string {
	switch c {
	case ControlACK:
		return "ACK"
	case ControlNAK:
		return "NAK"
	default:
		return "UNKNOWN"
	}
}

// ControlEvent captures an ACK or NAK.
type ControlEvent struct {
	Type ControlType `cbor:"1,keyasint"`
}

// ErrorEventData captures an error at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Context names the operation that failed, e.g. "decode" or "write".
	Context string `cbor:"3,keyasint,omitempty"`
}
