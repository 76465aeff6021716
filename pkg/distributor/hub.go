package distributor

import (
	"sync"
	"sync/atomic"

	"github.com/buzzspeakerhire/bss-control-app/pkg/wire"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 256

// Config configures a Hub.
type Config struct {
	// Buffer is the per-subscriber queue length.
	Buffer int `yaml:"buffer" toml:"buffer"`
}

// DefaultConfig returns the default hub configuration.
func DefaultConfig() Config {
	return Config{Buffer: DefaultBuffer}
}

// Filter selects events for a subscription. The zero Filter matches
// everything.
type Filter struct {
	// DeviceID limits events to one device.
	DeviceID string

	// Address limits ParameterUpdate events to one address. Other event
	// kinds pass.
	Address *wire.Address

	// UpdatesOnly drops StateChanged and DeviceDisconnected events.
	UpdatesOnly bool
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Event) bool {
	if f.DeviceID != "" && e.Device() != f.DeviceID {
		return false
	}
	u, isUpdate := e.(ParameterUpdate)
	if f.UpdatesOnly && !isUpdate {
		return false
	}
	if f.Address != nil && isUpdate && u.Address != *f.Address {
		return false
	}
	return true
}

// Hub is the process-wide update channel.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint32]*Subscription
	nextID uint32
	closed bool

	config Config
}

// NewHub creates a Hub.
func NewHub(config Config) *Hub {
	if config.Buffer <= 0 {
		config.Buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[uint32]*Subscription),
		config: config,
	}
}

// Subscribe attaches a new subscriber. Subscribing to a closed hub returns
// a subscription whose channel is already closed.
func (h *Hub) Subscribe(filter Filter) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:     h.nextID,
		hub:    h,
		filter: filter,
		events: make(chan Event, h.config.Buffer),
	}
	if h.closed {
		sub.cancelled = true
		close(sub.events)
		return sub
	}
	h.subs[sub.id] = sub
	return sub
}

// Publish offers e to every matching subscriber without blocking and
// returns how many accepted it.
func (h *Hub) Publish(e Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, sub := range h.subs {
		if !sub.filter.Match(e) {
			continue
		}
		select {
		case sub.events <- e:
			delivered++
		default:
			sub.dropped.Add(1)
		}
	}
	return delivered
}

// Len returns the number of attached subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close detaches every subscriber and closes their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.cancelled = true
		close(sub.events)
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub.cancelled {
		return
	}
	sub.cancelled = true
	delete(h.subs, sub.id)
	close(sub.events)
}

// Subscription is one subscriber's handle.
type Subscription struct {
	id     uint32
	hub    *Hub
	filter Filter
	events chan Event

	// cancelled is guarded by hub.mu.
	cancelled bool
	dropped   atomic.Uint64
}

// ID returns the subscription id, unique within its hub.
func (s *Subscription) ID() uint32 {
	return s.id
}

// Events returns the event channel. It is closed by Cancel or Hub.Close.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Cancel detaches the subscription. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.hub.remove(s)
}

// Dropped returns how many events were discarded because the buffer was
// full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}
