package wire

import (
	"errors"
	"fmt"
)

// Codec errors.
var (
	// ErrChecksumMismatch indicates the received checksum does not match the body.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrShortFrame indicates a delimited span too short to hold a frame.
	ErrShortFrame = errors.New("frame too short")

	// ErrUnknownType indicates an unrecognized message type byte.
	ErrUnknownType = errors.New("unknown message type")

	// ErrBodyLength indicates a body whose length does not match its type.
	ErrBodyLength = errors.New("body length mismatch")

	// ErrTruncatedEscape indicates an escape byte with nothing after it.
	ErrTruncatedEscape = errors.New("truncated escape sequence")

	// ErrStrayDelimiter indicates an unescaped START inside a frame.
	ErrStrayDelimiter = errors.New("unescaped delimiter in frame")

	// ErrFieldRange indicates a field value that does not fit its wire width.
	ErrFieldRange = errors.New("field out of range")
)

// ProtocolError describes a frame that could not be decoded. The frame is
// dropped; the session that received it stays alive.
type ProtocolError struct {
	// Type is the message type byte, if one was read.
	Type MessageType

	// Err is one of the codec sentinel errors.
	Err error
}

// Error implements error.
func (e *ProtocolError) Error() string {
	if e.Type == 0 {
		return fmt.Sprintf("protocol error: %v", e.Err)
	}
	return fmt.Sprintf("protocol error (%s): %v", e.Type, e.Err)
}

// Unwrap returns the underlying sentinel.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsChecksumMismatch reports whether err is a checksum failure.
func IsChecksumMismatch(err error) bool {
	return errors.Is(err, ErrChecksumMismatch)
}
