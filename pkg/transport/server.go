package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/buzzspeakerhire/bss-control-app/pkg/log"
	"github.com/buzzspeakerhire/bss-control-app/pkg/wire"
)

// ServerConfig configures a device emulator.
type ServerConfig struct {
	// Address to listen on (e.g. ":1023" or "127.0.0.1:0").
	Address string

	// AutoAck answers every valid frame with ACK and every invalid one with NAK.
	AutoAck bool

	// Logger for protocol capture (optional).
	Logger log.Logger

	// OnConnect is called when a controller connects.
	OnConnect func(conn *ServerConn)

	// OnDisconnect is called when a controller connection is closed.
	OnDisconnect func(conn *ServerConn)

	// OnMessage is called for each valid frame received.
	OnMessage func(conn *ServerConn, msg wire.Message)

	// OnError is called for accept errors and dropped frames.
	OnError func(conn *ServerConn, err error)
}

// Server emulates a device on TCP. It accepts any number of controllers.
type Server struct {
	config   ServerConfig
	listener net.Listener

	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates an emulator. It does not listen until Start.
func NewServer(config ServerConfig) *Server {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	config.Logger = log.OrNoop(config.Logger)
	return &Server{
		config: config,
		conns:  make(map[*ServerConn]struct{}),
	}
}

// Start listens and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return errors.New("server already running")
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.listener = listener
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every connection and waits for them.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()
	s.listener.Close()

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// Endpoint returns a TCP endpoint that dials this server.
func (s *Server) Endpoint() Endpoint {
	addr, _ := s.Addr().(*net.TCPAddr)
	if addr == nil {
		return Endpoint{Kind: KindTCP}
	}
	host := addr.IP.String()
	if addr.IP.IsUnspecified() {
		host = "127.0.0.1"
	}
	return Endpoint{Kind: KindTCP, Host: host, Port: addr.Port}
}

// ConnectionCount returns the number of connected controllers.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// Broadcast sends msg to every connected controller, as a device does when a
// parameter changes on its front panel.
func (s *Server) Broadcast(msg wire.Message) error {
	s.connsMu.RLock()
	conns := make([]*ServerConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.RUnlock()

	var errs []error
	for _, c := range conns {
		if err := c.SendMessage(msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() && s.config.OnError != nil {
				s.config.OnError(nil, fmt.Errorf("accept: %w", err))
			}
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	sconn := &ServerConn{
		conn:       conn,
		server:     s,
		closeCh:    make(chan struct{}),
		remoteAddr: conn.RemoteAddr(),
		connID:     uuid.New().String(),
	}

	s.connsMu.Lock()
	s.conns[sconn] = struct{}{}
	s.connsMu.Unlock()

	sconn.logState("", "CONNECTED")
	if s.config.OnConnect != nil {
		s.config.OnConnect(sconn)
	}

	sconn.readLoop()

	s.connsMu.Lock()
	delete(s.conns, sconn)
	s.connsMu.Unlock()

	sconn.logState("CONNECTED", "DISCONNECTED")
	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(sconn)
	}
}

// ServerConn is one controller connected to the emulator.
type ServerConn struct {
	conn       net.Conn
	server     *Server
	closeCh    chan struct{}
	closeOnce  sync.Once
	remoteAddr net.Addr
	connID     string

	writeMu sync.Mutex
}

// RemoteAddr returns the controller's address.
func (c *ServerConn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// ConnID returns the unique connection identifier.
func (c *ServerConn) ConnID() string {
	return c.connID
}

// Send writes raw bytes.
func (c *ServerConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(data)
	if err == nil {
		c.server.config.Logger.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: c.connID,
			Direction:    log.DirectionOut,
			Layer:        log.LayerTransport,
			Category:     log.CategoryMessage,
			RemoteAddr:   c.remoteAddr.String(),
			Frame:        log.NewFrameEvent(data),
		})
	}
	return err
}

// SendMessage encodes and writes msg.
func (c *ServerConn) SendMessage(msg wire.Message) error {
	frame, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	return c.Send(frame)
}

// SendControl writes a bare ACK or NAK.
func (c *ServerConn) SendControl(b byte) error {
	if err := c.Send([]byte{b}); err != nil {
		return err
	}
	ctrl := log.ControlACK
	if b == wire.NAK {
		ctrl = log.ControlNAK
	}
	c.server.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    log.DirectionOut,
		Layer:        log.LayerWire,
		Category:     log.CategoryControl,
		RemoteAddr:   c.remoteAddr.String(),
		Control:      &log.ControlEvent{Type: ctrl},
	})
	return nil
}

// Close closes the connection.
func (c *ServerConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

func (c *ServerConn) readLoop() {
	var acc []byte
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			select {
			case <-c.closeCh:
			default:
				c.Close()
			}
			return
		}
		acc = append(acc, buf[:n]...)

		tokens, consumed := wire.Scan(acc)
		for _, tok := range tokens {
			if tok.Kind != wire.TokenFrame {
				continue
			}
			c.handleFrame(tok.Frame)
		}
		acc = append(acc[:0], acc[consumed:]...)
	}
}

func (c *ServerConn) handleFrame(f wire.Frame) {
	cfg := c.server.config
	if !f.Valid {
		if cfg.OnError != nil {
			cfg.OnError(c, f.Err)
		}
		if cfg.AutoAck {
			_ = c.SendControl(wire.NAK)
		}
		return
	}

	cfg.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		RemoteAddr:   c.remoteAddr.String(),
		Message:      log.NewMessageEvent(f.Message),
	})
	if cfg.OnMessage != nil {
		cfg.OnMessage(c, f.Message)
	}
	if cfg.AutoAck {
		_ = c.SendControl(wire.ACK)
	}
}

func (c *ServerConn) logState(oldState, newState string) {
	c.server.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		RemoteAddr:   c.remoteAddr.String(),
		StateChange:  &log.StateChangeEvent{OldState: oldState, NewState: newState},
	})
}
