package transport

import (
	"context"
	"net"
	"sync"

	"go.bug.st/serial"
)

// NetDialer is the production Dialer: TCP and UDP through package net,
// serial through go.bug.st/serial.
type NetDialer struct {
	net net.Dialer
}

// Dial opens ep.
func (d *NetDialer) Dial(ctx context.Context, ep Endpoint) (Conn, error) {
	switch ep.Kind {
	case KindTCP, KindUDP:
		conn, err := d.net.DialContext(ctx, ep.Kind.String(), ep.Address())
		if err != nil {
			return nil, &Error{Op: "dial", Addr: ep.String(), Err: err}
		}
		return conn, nil

	case KindSerial:
		if err := ctx.Err(); err != nil {
			return nil, &Error{Op: "dial", Addr: ep.String(), Err: err}
		}
		return openSerial(ep)
	}
	return nil, &Error{Op: "dial", Addr: ep.String(), Err: ErrUnknownKind}
}

func openSerial(ep Endpoint) (Conn, error) {
	baud := ep.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(ep.SerialDevice, mode)
	if err != nil {
		return nil, &Error{Op: "dial", Addr: ep.String(), Err: err}
	}
	// Drop whatever the device sent before we were listening.
	_ = port.ResetInputBuffer()
	return &serialConn{port: port}, nil
}

// serialConn adapts serial.Port to Conn. A read timeout on the port yields
// (0, nil); Read hides that from callers that expect io.Reader semantics.
type serialConn struct {
	port      serial.Port
	closeOnce sync.Once
	closeErr  error
}

func (c *serialConn) Read(p []byte) (int, error) {
	for {
		n, err := c.port.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
	}
}

func (c *serialConn) Write(p []byte) (int, error) {
	return c.port.Write(p)
}

func (c *serialConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.port.Close()
	})
	return c.closeErr
}

var _ Dialer = (*NetDialer)(nil)
