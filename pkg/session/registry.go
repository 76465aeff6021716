package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/buzzspeakerhire/bss-control-app/pkg/log"
	"github.com/buzzspeakerhire/bss-control-app/pkg/transport"
	"github.com/buzzspeakerhire/bss-control-app/pkg/wire"
)

// Handler receives everything a session reads, plus its lifecycle. Calls for
// one session come from its reader goroutine in arrival order, except the
// Disconnected to Connecting to Connected transitions, which come from
// Connect. A Handler must not call Registry.Disconnect or Registry.Connect
// for the same session synchronously from OnFrame or OnControl.
type Handler interface {
	// OnFrame is called for each valid frame.
	OnFrame(s *Session, f wire.Frame)

	// OnControl is called for each out-of-envelope ACK or NAK byte.
	OnControl(s *Session, ctrl byte)

	// OnStateChange is called on every state transition.
	OnStateChange(s *Session, oldState, newState State)

	// OnDisconnect is called once when a connected session ends. err is
	// ErrClosed for an explicit disconnect, otherwise the failure.
	OnDisconnect(s *Session, err error)
}

// Registry owns the device-id to session map. The map is the only shared
// mutable state; each entry changes only under its id's connect lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	idLocks  map[string]*sync.Mutex

	config  Config
	dialer  transport.Dialer
	handler Handler
}

// NewRegistry creates a Registry. A nil dialer uses transport.NetDialer; a
// nil handler discards events.
func NewRegistry(config Config, dialer transport.Dialer, handler Handler) *Registry {
	config.applyDefaults()
	if dialer == nil {
		dialer = &transport.NetDialer{}
	}
	if handler == nil {
		handler = nopHandler{}
	}
	return &Registry{
		sessions: make(map[string]*Session),
		idLocks:  make(map[string]*sync.Mutex),
		config:   config,
		dialer:   dialer,
		handler:  handler,
	}
}

// Connect opens a session for dev, first tearing down any existing session
// with the same id. On failure no session remains for the id and the error
// is a *transport.Error.
func (r *Registry) Connect(ctx context.Context, dev Device) (*Session, error) {
	if dev.ID == "" {
		return nil, ErrEmptyID
	}

	lock := r.idLock(dev.ID)
	lock.Lock()
	defer lock.Unlock()

	r.disconnectLocked(dev.ID)

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.ConnectTimeout)
		defer cancel()
	}

	s := newSession(r, dev, uuid.New().String())
	r.mu.Lock()
	r.sessions[dev.ID] = s
	r.mu.Unlock()
	s.setState(StateConnecting, "")

	conn, err := r.dialer.Dial(ctx, dev.Endpoint)
	if err != nil {
		var terr *transport.Error
		if !errors.As(err, &terr) {
			err = &transport.Error{Op: "dial", Addr: dev.Endpoint.String(), Err: err}
		}
		r.remove(s)
		s.setState(StateDisconnected, err.Error())
		r.config.Logger.Warn("connect failed", "device", dev.ID, "endpoint", dev.Endpoint.String(), "error", err)
		return nil, err
	}

	s.conn = conn
	s.setState(StateConnected, "")
	r.config.Logger.Info("device connected", "device", dev.ID, "endpoint", dev.Endpoint.String(), "conn_id", s.connID)

	go s.readLoop()
	return s, nil
}

// Disconnect closes the session for id and waits for its reader to finish.
// It is a no-op when id has no session.
func (r *Registry) Disconnect(id string) {
	lock := r.idLock(id)
	lock.Lock()
	defer lock.Unlock()
	r.disconnectLocked(id)
}

func (r *Registry) disconnectLocked(id string) {
	s, ok := r.Get(id)
	if !ok {
		return
	}
	s.close(ErrClosed)
	<-s.done
}

// Close disconnects every session.
func (r *Registry) Close() {
	for _, id := range r.IDs() {
		r.Disconnect(id)
	}
}

// Get returns the session for id, in any state.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Sessions returns a snapshot of the connected sessions, ordered by id.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.State() == StateConnected {
			out = append(out, s)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// IDs returns a snapshot of the ids with a session in any state, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// State returns the state of id's session, or StateDisconnected.
func (r *Registry) State(id string) State {
	if s, ok := r.Get(id); ok {
		return s.State()
	}
	return StateDisconnected
}

func (r *Registry) idLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.idLocks[id]
	if !ok {
		l = &sync.Mutex{}
		r.idLocks[id] = l
	}
	return l
}

// remove drops s from the map if it is still the entry for its id.
func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.id] == s {
		delete(r.sessions, s.id)
	}
}

func (r *Registry) capture(e log.Event) {
	e.Timestamp = time.Now()
	r.config.ProtocolLogger.Log(e)
}

type nopHandler struct{}

func (nopHandler) OnFrame(*Session, wire.Frame)         {}
func (nopHandler) OnControl(*Session, byte)             {}
func (nopHandler) OnStateChange(*Session, State, State) {}
func (nopHandler) OnDisconnect(*Session, error)         {}

var _ Handler = nopHandler{}
