package session

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/buzzspeakerhire/bss-control-app/pkg/log"
	"github.com/buzzspeakerhire/bss-control-app/pkg/transport"
	"github.com/buzzspeakerhire/bss-control-app/pkg/transport/mocks"
	"github.com/buzzspeakerhire/bss-control-app/pkg/wire"
)

// recorder is a Handler that keeps everything it is told.
type recorder struct {
	mu          sync.Mutex
	frames      []wire.Frame
	controls    []byte
	transitions [][2]State
	disconnects []error

	gotFrame      chan struct{}
	gotDisconnect chan struct{}
}

func newRecorder() *recorder {
	return &recorder{
		gotFrame:      make(chan struct{}, 64),
		gotDisconnect: make(chan struct{}, 8),
	}
}

func (r *recorder) OnFrame(_ *Session, f wire.Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
	r.gotFrame <- struct{}{}
}

func (r *recorder) OnControl(_ *Session, b byte) {
	r.mu.Lock()
	r.controls = append(r.controls, b)
	r.mu.Unlock()
	r.gotFrame <- struct{}{}
}

func (r *recorder) OnStateChange(_ *Session, o, n State) {
	r.mu.Lock()
	r.transitions = append(r.transitions, [2]State{o, n})
	r.mu.Unlock()
}

func (r *recorder) OnDisconnect(_ *Session, err error) {
	r.mu.Lock()
	r.disconnects = append(r.disconnects, err)
	r.mu.Unlock()
	r.gotDisconnect <- struct{}{}
}

func (r *recorder) waitFrames(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.gotFrame:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d frames", i, n)
		}
	}
}

func (r *recorder) waitDisconnect(t *testing.T) error {
	t.Helper()
	select {
	case <-r.gotDisconnect:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnects[len(r.disconnects)-1]
}

// pipeDialer hands out the client end of a net.Pipe and keeps the device end.
type pipeDialer struct {
	mu      sync.Mutex
	devices []net.Conn
}

func (d *pipeDialer) Dial(ctx context.Context, ep transport.Endpoint) (transport.Conn, error) {
	client, device := net.Pipe()
	d.mu.Lock()
	d.devices = append(d.devices, device)
	d.mu.Unlock()
	return client, nil
}

func (d *pipeDialer) device(i int) net.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.devices[i]
}

type captureLog struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureLog) Log(e log.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

var testAddr = wire.Address{Node: 0x0001, VirtualDevice: 0x03, Object: 0x010203, Parameter: 0}

func testDevice(id string) Device {
	return Device{ID: id, Endpoint: transport.Endpoint{Host: "10.0.0.1"}, Node: 1}
}

func connectPipe(t *testing.T, cfg Config) (*Registry, *recorder, *pipeDialer, *Session) {
	t.Helper()
	rec := newRecorder()
	d := &pipeDialer{}
	reg := NewRegistry(cfg, d, rec)
	s, err := reg.Connect(context.Background(), testDevice("amp-1"))
	require.NoError(t, err)
	t.Cleanup(reg.Close)
	return reg, rec, d, s
}

func TestChunkingInvariance(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	msgs := []wire.Message{
		wire.SetRaw(testAddr, 0x02030615),
		wire.SetPercent(testAddr, 32768),
		wire.Subscribe(testAddr, false),
		wire.RecallPreset(5),
		wire.BumpPercent(wire.Address{Node: 0x1B1B, Object: 0x020303}, -1),
	}

	for iter := 0; iter < 200; iter++ {
		m := msgs[iter%len(msgs)]
		encoded := wire.MustEncode(m)
		want := wire.DecodeFrame(encoded)

		rec := newRecorder()
		reg := NewRegistry(DefaultConfig(), &pipeDialer{}, rec)
		s := newSession(reg, testDevice("amp-1"), "conn")

		// Random partition into n >= 1 non-empty chunks.
		rest := encoded
		for len(rest) > 0 {
			n := 1 + rng.Intn(len(rest))
			require.NoError(t, s.feed(rest[:n]))
			rest = rest[n:]
		}

		require.Len(t, rec.frames, 1, "iteration %d", iter)
		assert.Equal(t, want, rec.frames[0])
		assert.Empty(t, s.acc)
	}
}

func TestFeedManyFramesOneChunk(t *testing.T) {
	rec := newRecorder()
	reg := NewRegistry(DefaultConfig(), &pipeDialer{}, rec)
	s := newSession(reg, testDevice("amp-1"), "conn")

	var stream []byte
	for i := int32(0); i < 10; i++ {
		stream = append(stream, wire.MustEncode(wire.SetRaw(testAddr, i))...)
	}
	stream = append(stream, wire.ACK)
	stream = append(stream, wire.MustEncode(wire.SetRaw(testAddr, 99))[:4]...)

	require.NoError(t, s.feed(stream))
	require.Len(t, rec.frames, 10)
	for i, f := range rec.frames {
		assert.Equal(t, int32(i), f.Value)
	}
	assert.Equal(t, []byte{wire.ACK}, rec.controls)
	assert.Len(t, s.acc, 4, "open span kept for the next chunk")
}

func TestFeedDropsInvalidFrames(t *testing.T) {
	rec := newRecorder()
	reg := NewRegistry(DefaultConfig(), &pipeDialer{}, rec)
	s := newSession(reg, testDevice("amp-1"), "conn")

	good := wire.MustEncode(wire.SetRaw(testAddr, 1))
	bad := append([]byte(nil), good...)
	bad[len(bad)-2] ^= 0x40

	require.NoError(t, s.feed(append(append([]byte{}, bad...), good...)))
	require.Len(t, rec.frames, 1)

	st := s.Stats()
	assert.Equal(t, uint64(2), st.FramesIn)
	assert.Equal(t, uint64(1), st.ProtocolErrors)
	assert.Equal(t, uint64(1), st.ChecksumErrors)
}

func TestFeedCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAccumulator = 64
	reg := NewRegistry(cfg, &pipeDialer{}, nil)
	s := newSession(reg, testDevice("amp-1"), "conn")

	require.NoError(t, s.feed([]byte{wire.Start, 0x88}))
	err := s.feed(make([]byte, 100))

	var cerr *CapacityError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "amp-1", cerr.DeviceID)
	assert.Equal(t, 64, cerr.Limit)
	assert.Equal(t, 102, cerr.Size)
}

func TestSessionReadsOverPipe(t *testing.T) {
	capture := &captureLog{}
	cfg := DefaultConfig()
	cfg.ProtocolLogger = capture
	reg, rec, d, s := connectPipe(t, cfg)

	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, StateConnected, reg.State("amp-1"))

	frame := wire.MustEncode(wire.SetRaw(testAddr, 0x02))
	dev := d.device(0)
	go func() {
		for _, b := range frame {
			dev.Write([]byte{b})
		}
		dev.Write([]byte{wire.NAK})
	}()
	rec.waitFrames(t, 2)

	rec.mu.Lock()
	require.Len(t, rec.frames, 1)
	assert.Equal(t, int32(0x02), rec.frames[0].Value)
	assert.Equal(t, []byte{wire.NAK}, rec.controls)
	rec.mu.Unlock()

	capture.mu.Lock()
	defer capture.mu.Unlock()
	require.NotEmpty(t, capture.events)
	for _, e := range capture.events {
		assert.Equal(t, s.ConnID(), e.ConnectionID)
		assert.Equal(t, "amp-1", e.DeviceID)
	}
}

func TestSessionWrite(t *testing.T) {
	_, _, d, s := connectPipe(t, DefaultConfig())
	dev := d.device(0)

	m := wire.SetPercent(testAddr, 65536)
	want := wire.MustEncode(m)
	got := make([]byte, len(want))
	errc := make(chan error, 1)
	go func() {
		_, err := io.ReadFull(dev, got)
		errc <- err
	}()

	require.NoError(t, s.Send(m))
	require.NoError(t, <-errc)
	assert.Equal(t, want, got)
	assert.Equal(t, uint64(1), s.Stats().FramesOut)
}

func TestPeerCloseEndsSession(t *testing.T) {
	reg, rec, d, s := connectPipe(t, DefaultConfig())

	d.device(0).Close()
	err := rec.waitDisconnect(t)

	var terr *transport.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "read", terr.Op)
	<-s.Done()
	assert.Equal(t, StateDisconnected, s.State())
	assert.Empty(t, reg.IDs())
	assert.ErrorIs(t, s.Write([]byte{1}), ErrNotConnected)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, [][2]State{
		{StateDisconnected, StateConnecting},
		{StateConnecting, StateConnected},
		{StateConnected, StateDisconnected},
	}, rec.transitions)
}

func TestCapacityErrorEndsSession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAccumulator = 32
	reg, rec, d, _ := connectPipe(t, cfg)

	go func() {
		d.device(0).Write(append([]byte{wire.Start}, make([]byte, 64)...))
	}()
	err := rec.waitDisconnect(t)

	var cerr *CapacityError
	require.ErrorAs(t, err, &cerr)
	assert.Empty(t, reg.Sessions())
}

func TestDisconnect(t *testing.T) {
	reg, rec, _, s := connectPipe(t, DefaultConfig())

	reg.Disconnect("amp-1")
	<-s.Done()
	assert.ErrorIs(t, s.Err(), ErrClosed)
	assert.ErrorIs(t, rec.waitDisconnect(t), ErrClosed)
	assert.Equal(t, StateDisconnected, reg.State("amp-1"))

	// Always safe, even when not connected.
	reg.Disconnect("amp-1")
	reg.Disconnect("never-connected")
}

func TestReconnectReplacesSession(t *testing.T) {
	reg, rec, _, first := connectPipe(t, DefaultConfig())

	second, err := reg.Connect(context.Background(), testDevice("amp-1"))
	require.NoError(t, err)

	<-first.Done()
	assert.ErrorIs(t, first.Err(), ErrClosed)
	assert.ErrorIs(t, rec.waitDisconnect(t), ErrClosed)
	assert.NotEqual(t, first.ConnID(), second.ConnID())

	got, ok := reg.Get("amp-1")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Len(t, reg.Sessions(), 1)
}

func TestConnectFailureLeavesNoState(t *testing.T) {
	refused := errors.New("connection refused")
	dialer := mocks.NewMockDialer(t)
	dialer.EXPECT().Dial(mock.Anything, mock.Anything).Return(nil, refused).Once()

	rec := newRecorder()
	reg := NewRegistry(DefaultConfig(), dialer, rec)

	s, err := reg.Connect(context.Background(), testDevice("amp-1"))
	assert.Nil(t, s)

	var terr *transport.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "dial", terr.Op)
	assert.ErrorIs(t, err, refused)

	assert.Empty(t, reg.IDs())
	assert.Equal(t, StateDisconnected, reg.State("amp-1"))
	assert.Empty(t, rec.disconnects, "never connected, so no disconnect notification")
}

func TestConnectHonoursTimeout(t *testing.T) {
	dialer := mocks.NewMockDialer(t)
	dialer.EXPECT().Dial(mock.Anything, mock.Anything).RunAndReturn(
		func(ctx context.Context, ep transport.Endpoint) (transport.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}).Once()

	cfg := DefaultConfig()
	cfg.ConnectTimeout = 20 * time.Millisecond
	reg := NewRegistry(cfg, dialer, nil)

	_, err := reg.Connect(context.Background(), testDevice("amp-1"))
	var terr *transport.Error
	require.ErrorAs(t, err, &terr)
	assert.True(t, terr.Timeout())
}

func TestConnectEmptyID(t *testing.T) {
	reg := NewRegistry(DefaultConfig(), &pipeDialer{}, nil)
	_, err := reg.Connect(context.Background(), Device{})
	assert.ErrorIs(t, err, ErrEmptyID)
}

func TestIndependentSessions(t *testing.T) {
	rec := newRecorder()
	d := &pipeDialer{}
	reg := NewRegistry(DefaultConfig(), d, rec)
	defer reg.Close()

	for _, id := range []string{"c", "a", "b"} {
		_, err := reg.Connect(context.Background(), testDevice(id))
		require.NoError(t, err)
	}

	sessions := reg.Sessions()
	require.Len(t, sessions, 3)
	assert.Equal(t, "a", sessions[0].ID())
	assert.Equal(t, []string{"a", "b", "c"}, reg.IDs())

	// Closing one device leaves the others up.
	d.device(0).Close()
	rec.waitDisconnect(t)
	assert.Equal(t, []string{"a", "b"}, reg.IDs())
}
