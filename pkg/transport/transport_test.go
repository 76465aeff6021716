package transport_test

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buzzspeakerhire/bss-control-app/pkg/transport"
	"github.com/buzzspeakerhire/bss-control-app/pkg/wire"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    transport.Kind
		wantErr bool
	}{
		{"", transport.KindTCP, false},
		{"tcp", transport.KindTCP, false},
		{"UDP", transport.KindUDP, false},
		{"serial", transport.KindSerial, false},
		{"rs232", transport.KindSerial, false},
		{"ws", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := transport.ParseKind(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, transport.ErrUnknownKind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKindFullDuplex(t *testing.T) {
	assert.True(t, transport.KindTCP.FullDuplex())
	assert.True(t, transport.KindUDP.FullDuplex())
	assert.False(t, transport.KindSerial.FullDuplex())
}

func TestEndpointAddress(t *testing.T) {
	assert.Equal(t, "10.0.0.5:1023", transport.Endpoint{Host: "10.0.0.5"}.Address())
	assert.Equal(t, "10.0.0.5:4000", transport.Endpoint{Host: "10.0.0.5", Port: 4000}.Address())
	assert.Equal(t, "udp://[::1]:1023", transport.Endpoint{Kind: transport.KindUDP, Host: "::1"}.String())
	assert.Equal(t, "/dev/ttyUSB0", transport.Endpoint{Kind: transport.KindSerial, SerialDevice: "/dev/ttyUSB0"}.Address())
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	d := &transport.NetDialer{}
	_, err = d.Dial(context.Background(), transport.Endpoint{Host: "127.0.0.1", Port: port})
	require.Error(t, err)

	var terr *transport.Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "dial", terr.Op)
}

func TestServerAutoAck(t *testing.T) {
	var mu sync.Mutex
	var got []wire.Message
	srv := transport.NewServer(transport.ServerConfig{
		Address: "127.0.0.1:0",
		AutoAck: true,
		OnMessage: func(_ *transport.ServerConn, m wire.Message) {
			mu.Lock()
			got = append(got, m)
			mu.Unlock()
		},
	})
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop()

	d := &transport.NetDialer{}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := d.Dial(ctx, srv.Endpoint())
	require.NoError(t, err)
	defer conn.Close()

	addr := wire.Address{Node: 1, VirtualDevice: 3, Object: 0x010203}
	frame := wire.MustEncode(wire.SetRaw(addr, 0x02))

	// Split across two writes; the emulator reassembles.
	_, err = conn.Write(frame[:5])
	require.NoError(t, err)
	_, err = conn.Write(frame[5:])
	require.NoError(t, err)

	ack := make([]byte, 1)
	_, err = io.ReadFull(conn, ack)
	require.NoError(t, err)
	assert.Equal(t, wire.ACK, ack[0])

	// Corrupt checksum draws a NAK.
	bad := append([]byte(nil), frame...)
	bad[len(bad)-2] ^= 0x01
	_, err = conn.Write(bad)
	require.NoError(t, err)
	_, err = io.ReadFull(conn, ack)
	require.NoError(t, err)
	assert.Equal(t, wire.NAK, ack[0])

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, wire.SetRaw(addr, 0x02), got[0])
}

func TestServerBroadcast(t *testing.T) {
	connected := make(chan struct{}, 2)
	srv := transport.NewServer(transport.ServerConfig{
		Address:   "127.0.0.1:0",
		OnConnect: func(*transport.ServerConn) { connected <- struct{}{} },
	})
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop()

	d := &transport.NetDialer{}
	var conns []transport.Conn
	for i := 0; i < 2; i++ {
		c, err := d.Dial(context.Background(), srv.Endpoint())
		require.NoError(t, err)
		defer c.Close()
		conns = append(conns, c)
		<-connected
	}
	assert.Equal(t, 2, srv.ConnectionCount())

	msg := wire.SetPercent(wire.Address{Node: 2, Object: 7, Parameter: 1}, 32768)
	require.NoError(t, srv.Broadcast(msg))

	want := wire.MustEncode(msg)
	for _, c := range conns {
		buf := make([]byte, len(want))
		_, err := io.ReadFull(c, buf)
		require.NoError(t, err)
		assert.Equal(t, want, buf)
	}
}
