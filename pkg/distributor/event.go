package distributor

import (
	"time"

	"github.com/buzzspeakerhire/bss-control-app/pkg/session"
	"github.com/buzzspeakerhire/bss-control-app/pkg/translate"
	"github.com/buzzspeakerhire/bss-control-app/pkg/wire"
)

// Event is one distributed notification. The set of implementations is
// closed: ParameterUpdate, StateChanged and DeviceDisconnected.
type Event interface {
	// Device returns the id of the device the event concerns.
	Device() string

	isEvent()
}

// ParameterUpdate reports a value a device sent for one address.
type ParameterUpdate struct {
	DeviceID string
	Address  wire.Address

	// Type is SET_RAW or SET_PERCENT as received.
	Type wire.MessageType

	// Raw is the value on the wire.
	Raw int32

	// Value is Raw converted by the law of Class. Percent-family messages
	// always use the percent law.
	Value float64
	Class translate.ControlClass

	Time time.Time
}

// StateChanged reports a connection state transition.
type StateChanged struct {
	DeviceID string
	Old      session.State
	New      session.State
	Time     time.Time
}

// DeviceDisconnected reports the end of a session. Err is session.ErrClosed
// for an explicit disconnect.
type DeviceDisconnected struct {
	DeviceID string
	Err      error
	Time     time.Time
}

func (e ParameterUpdate) Device() string    { return e.DeviceID }
func (e StateChanged) Device() string       { return e.DeviceID }
func (e DeviceDisconnected) Device() string { return e.DeviceID }

func (ParameterUpdate) isEvent()    {}
func (StateChanged) isEvent()       {}
func (DeviceDisconnected) isEvent() {}
