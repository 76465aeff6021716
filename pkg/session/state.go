package session

import (
	"errors"
	"fmt"
)

// State is the connection state of a device session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Session errors.
var (
	// ErrNotConnected is returned when writing to a session that is not up.
	ErrNotConnected = errors.New("session: not connected")

	// ErrClosed is the disconnect cause for an explicit Disconnect, or for a
	// session replaced by a newer Connect with the same id.
	ErrClosed = errors.New("session: closed")

	// ErrEmptyID is returned by Connect for an empty device id.
	ErrEmptyID = errors.New("session: empty device id")
)

// CapacityError reports an accumulator that outgrew its limit without a
// terminating delimiter. It is fatal to the session.
type CapacityError struct {
	DeviceID string
	Size     int
	Limit    int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("session %s: accumulator holds %d bytes, limit %d", e.DeviceID, e.Size, e.Limit)
}
