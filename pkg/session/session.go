package session

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/buzzspeakerhire/bss-control-app/pkg/log"
	"github.com/buzzspeakerhire/bss-control-app/pkg/transport"
	"github.com/buzzspeakerhire/bss-control-app/pkg/wire"
)

// Stats are per-session counters.
type Stats struct {
	FramesIn       uint64
	FramesOut      uint64
	ProtocolErrors uint64 // every dropped frame, checksum failures included
	ChecksumErrors uint64
	ControlIn      uint64 // ACK and NAK bytes
}

// Session is one live link to a device.
type Session struct {
	id       string
	device   Device
	connID   string
	registry *Registry
	conn     transport.Conn

	state atomic.Int32

	// acc is owned by the reader goroutine.
	acc []byte

	writeMu sync.Mutex

	closeOnce sync.Once
	cause     error
	done      chan struct{}

	framesIn       atomic.Uint64
	framesOut      atomic.Uint64
	protocolErrors atomic.Uint64
	checksumErrors atomic.Uint64
	controlIn      atomic.Uint64
}

func newSession(r *Registry, dev Device, connID string) *Session {
	return &Session{
		id:       dev.ID,
		device:   dev,
		connID:   connID,
		registry: r,
		done:     make(chan struct{}),
	}
}

// ID returns the device id.
func (s *Session) ID() string { return s.id }

// Device returns the device the session was opened for.
func (s *Session) Device() Device { return s.device }

// Node returns the device's node address.
func (s *Session) Node() uint16 { return s.device.Node }

// ConnID returns the connection id stamped on capture events.
func (s *Session) ConnID() string { return s.connID }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// FullDuplex reports whether commands may be written without ACK pacing.
func (s *Session) FullDuplex() bool { return s.device.Endpoint.Kind.FullDuplex() }

// Done is closed when the session has ended and its handlers have run.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session ended. It is nil while the session is up.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.cause
	default:
		return nil
	}
}

// Stats returns a snapshot of the counters.
func (s *Session) Stats() Stats {
	return Stats{
		FramesIn:       s.framesIn.Load(),
		FramesOut:      s.framesOut.Load(),
		ProtocolErrors: s.protocolErrors.Load(),
		ChecksumErrors: s.checksumErrors.Load(),
		ControlIn:      s.controlIn.Load(),
	}
}

// Write sends one encoded frame. Writes are serialized; a failed write ends
// the session and returns a *transport.Error.
func (s *Session) Write(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() != StateConnected {
		return ErrNotConnected
	}
	if _, err := s.conn.Write(frame); err != nil {
		terr := &transport.Error{Op: "write", Addr: s.device.Endpoint.String(), Err: err}
		s.close(terr)
		return terr
	}
	s.framesOut.Add(1)
	s.capture(log.Event{
		Direction: log.DirectionOut,
		Layer:     log.LayerTransport,
		Category:  log.CategoryMessage,
		Frame:     log.NewFrameEvent(frame),
	})
	return nil
}

// Send encodes m and writes it.
func (s *Session) Send(m wire.Message) error {
	frame, err := wire.Encode(m)
	if err != nil {
		return err
	}
	if err := s.Write(frame); err != nil {
		return err
	}
	s.capture(log.Event{
		Direction: log.DirectionOut,
		Layer:     log.LayerWire,
		Category:  log.CategoryMessage,
		Message:   log.NewMessageEvent(m),
	})
	return nil
}

// close records cause and shuts the link. The reader goroutine notices and
// finishes teardown. Only the first cause is kept.
func (s *Session) close(cause error) {
	s.closeOnce.Do(func() {
		s.cause = cause
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

func (s *Session) setState(newState State, reason string) {
	old := State(s.state.Swap(int32(newState)))
	if old == newState {
		return
	}
	s.capture(log.Event{
		Layer:       log.LayerSession,
		Category:    log.CategoryState,
		StateChange: &log.StateChangeEvent{OldState: old.String(), NewState: newState.String(), Reason: reason},
	})
	s.registry.handler.OnStateChange(s, old, newState)
}

func (s *Session) readLoop() {
	r := s.registry
	buf := make([]byte, r.config.ReadBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			if ferr := s.feed(buf[:n]); ferr != nil {
				r.config.Logger.Warn("session overflow", "device", s.id, "error", ferr)
				s.close(ferr)
				break
			}
		}
		if err != nil {
			s.close(&transport.Error{Op: "read", Addr: s.device.Endpoint.String(), Err: err})
			break
		}
	}

	// Any partial frame is discarded with the session.
	s.acc = nil
	r.remove(s)

	reason := ""
	if s.cause != nil {
		reason = s.cause.Error()
	}
	s.setState(StateDisconnected, reason)
	if errors.Is(s.cause, ErrClosed) {
		r.config.Logger.Info("device disconnected", "device", s.id)
	} else {
		r.config.Logger.Warn("device lost", "device", s.id, "error", s.cause)
		s.capture(log.Event{
			Layer:    log.LayerSession,
			Category: log.CategoryError,
			Error:    &log.ErrorEventData{Layer: log.LayerSession, Message: reason, Context: "link"},
		})
	}
	r.handler.OnDisconnect(s, s.cause)
	close(s.done)
}

// feed appends chunk to the accumulator and dispatches every complete token.
func (s *Session) feed(chunk []byte) error {
	s.acc = append(s.acc, chunk...)

	tokens, consumed := wire.Scan(s.acc)
	for _, tok := range tokens {
		s.dispatch(tok)
	}
	s.acc = append(s.acc[:0], s.acc[consumed:]...)

	if limit := s.registry.config.MaxAccumulator; len(s.acc) > limit {
		return &CapacityError{DeviceID: s.id, Size: len(s.acc), Limit: limit}
	}
	return nil
}

func (s *Session) dispatch(tok wire.Token) {
	r := s.registry
	switch tok.Kind {
	case wire.TokenACK, wire.TokenNAK:
		s.controlIn.Add(1)
		ctrl := log.ControlACK
		if tok.Kind == wire.TokenNAK {
			ctrl = log.ControlNAK
		}
		s.capture(log.Event{
			Direction: log.DirectionIn,
			Layer:     log.LayerWire,
			Category:  log.CategoryControl,
			Control:   &log.ControlEvent{Type: ctrl},
		})
		r.handler.OnControl(s, tok.Raw[0])

	case wire.TokenFrame:
		s.framesIn.Add(1)
		s.capture(log.Event{
			Direction: log.DirectionIn,
			Layer:     log.LayerTransport,
			Category:  log.CategoryMessage,
			Frame:     log.NewFrameEvent(tok.Raw),
		})
		f := tok.Frame
		if !f.Valid {
			s.protocolErrors.Add(1)
			if wire.IsChecksumMismatch(f.Err) {
				s.checksumErrors.Add(1)
			}
			r.config.Logger.Debug("dropped frame", "device", s.id, "error", f.Err)
			s.capture(log.Event{
				Direction: log.DirectionIn,
				Layer:     log.LayerWire,
				Category:  log.CategoryError,
				Error:     &log.ErrorEventData{Layer: log.LayerWire, Message: f.Err.Error(), Context: "decode"},
			})
			return
		}
		s.capture(log.Event{
			Direction: log.DirectionIn,
			Layer:     log.LayerWire,
			Category:  log.CategoryMessage,
			Message:   log.NewMessageEvent(f.Message),
		})
		r.handler.OnFrame(s, f)
	}
}

func (s *Session) capture(e log.Event) {
	e.ConnectionID = s.connID
	e.DeviceID = s.id
	e.RemoteAddr = s.device.Endpoint.String()
	s.registry.capture(e)
}
