package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

const (
	// DefaultPort is the device control port.
	DefaultPort = 1023

	// DefaultBaudRate is the serial link speed of the legacy RS-232 port.
	DefaultBaudRate = 115200
)

// ErrUnknownKind is returned for a transport kind that is not tcp, udp or serial.
var ErrUnknownKind = errors.New("unknown transport kind")

// Kind selects the link type.
type Kind uint8

const (
	// KindTCP is a TCP byte stream.
	KindTCP Kind = iota

	// KindUDP is a connected UDP socket, one frame per datagram.
	KindUDP

	// KindSerial is an RS-232 port.
	KindSerial
)

// String returns the lowercase kind name used in configuration.
func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindUDP:
		return "udp"
	case KindSerial:
		return "serial"
	default:
		return "unknown"
	}
}

// FullDuplex reports whether writes may be issued without waiting for ACK/NAK.
func (k Kind) FullDuplex() bool {
	return k != KindSerial
}

// ParseKind parses a kind name. The empty string is TCP.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tcp":
		return KindTCP, nil
	case "udp":
		return KindUDP, nil
	case "serial", "rs232":
		return KindSerial, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	v, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Endpoint says where a device lives.
type Endpoint struct {
	Kind Kind

	// Host and Port are used by TCP and UDP. Port 0 means DefaultPort.
	Host string
	Port int

	// SerialDevice and BaudRate are used by serial. BaudRate 0 means
	// DefaultBaudRate.
	SerialDevice string
	BaudRate     int
}

// Address returns the dial address: host:port, or the serial device path.
func (e Endpoint) Address() string {
	if e.Kind == KindSerial {
		return e.SerialDevice
	}
	port := e.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

// String returns kind://address.
func (e Endpoint) String() string {
	return e.Kind.String() + "://" + e.Address()
}

// Conn is an open link to one device.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// Dialer opens links. Implementations must honour ctx for the duration of
// the dial only; the returned Conn outlives it.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Conn, error)
}

// Error is a transport failure: refused, timed out, or reset.
type Error struct {
	Op   string // "dial", "read", "write"
	Addr string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout reports whether the underlying error was a timeout.
func (e *Error) Timeout() bool {
	var ne net.Error
	if errors.As(e.Err, &ne) {
		return ne.Timeout()
	}
	return errors.Is(e.Err, context.DeadlineExceeded)
}
