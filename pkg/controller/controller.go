package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/buzzspeakerhire/bss-control-app/pkg/connection"
	"github.com/buzzspeakerhire/bss-control-app/pkg/distributor"
	"github.com/buzzspeakerhire/bss-control-app/pkg/log"
	"github.com/buzzspeakerhire/bss-control-app/pkg/sequencer"
	"github.com/buzzspeakerhire/bss-control-app/pkg/session"
	"github.com/buzzspeakerhire/bss-control-app/pkg/translate"
	"github.com/buzzspeakerhire/bss-control-app/pkg/wire"
)

// ErrUnknownDevice is returned for a device id that was never connected.
var ErrUnknownDevice = errors.New("unknown device")

// Controller connects to devices, sends commands and distributes updates.
type Controller struct {
	mu      sync.RWMutex
	devices map[string]*device
	classes map[wire.Address]translate.ControlClass
	closed  bool

	reg *session.Registry
	seq *sequencer.Sequencer
	hub *distributor.Hub

	config Config
	logger *slog.Logger
}

// device is a connected or reconnecting device.
type device struct {
	dev       session.Device
	reconnect *connection.Manager
}

// New creates a Controller.
func New(config Config) *Controller {
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	config.ProtocolLogger = log.OrNoop(config.ProtocolLogger)
	if config.Session.Logger == nil {
		config.Session.Logger = config.Logger.With("component", "session")
	}
	if config.Session.ProtocolLogger == nil {
		config.Session.ProtocolLogger = config.ProtocolLogger
	}
	if config.Sequencer.Logger == nil {
		config.Sequencer.Logger = config.Logger.With("component", "sequencer")
	}

	c := &Controller{
		devices: make(map[string]*device),
		classes: make(map[wire.Address]translate.ControlClass),
		hub:     distributor.NewHub(config.Distributor),
		config:  config,
		logger:  config.Logger,
	}
	c.reg = session.NewRegistry(config.Session, config.Dialer, c)
	c.seq = sequencer.New(config.Sequencer, c.reg)
	c.seq.OnTimeout(c.redial)
	return c
}

// Connect opens a session to dev, replacing any session with the same id.
func (c *Controller) Connect(ctx context.Context, dev session.Device) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return sequencer.ErrStopped
	}
	d, ok := c.devices[dev.ID]
	if !ok {
		d = &device{}
		c.devices[dev.ID] = d
	}
	d.dev = dev
	if c.config.Reconnect && d.reconnect == nil {
		d.reconnect = c.newReconnectManager(dev.ID)
	}
	c.mu.Unlock()

	if _, err := c.reg.Connect(ctx, dev); err != nil {
		if !ok {
			c.forget(dev.ID, d)
		}
		return err
	}
	return nil
}

// Disconnect closes the device's session and stops reconnecting it. It is
// safe for unknown or already disconnected ids.
func (c *Controller) Disconnect(id string) {
	c.mu.Lock()
	d := c.devices[id]
	delete(c.devices, id)
	c.mu.Unlock()

	if d != nil && d.reconnect != nil {
		d.reconnect.Stop()
	}
	c.reg.Disconnect(id)
}

// Close disconnects every device, fails pending commands and closes all
// update subscriptions.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	devices := c.devices
	c.devices = make(map[string]*device)
	c.mu.Unlock()

	for _, d := range devices {
		if d.reconnect != nil {
			d.reconnect.Stop()
		}
	}
	c.reg.Close()
	c.seq.Stop()
	c.hub.Close()
}

// Set sends v to addr on one device.
func (c *Controller) Set(ctx context.Context, id string, addr wire.Address, v Value) error {
	return c.send(ctx, id, v.Message(addr))
}

// SetRaw sends SET_RAW.
func (c *Controller) SetRaw(ctx context.Context, id string, addr wire.Address, raw int32) error {
	return c.Set(ctx, id, addr, Raw(raw))
}

// SetPercent sends SET_PERCENT for a percentage.
func (c *Controller) SetPercent(ctx context.Context, id string, addr wire.Address, percent float64) error {
	return c.Set(ctx, id, addr, Percent(percent))
}

// SetUnit converts v from the engineering unit of the address's control
// class and sends SET_RAW, so a gain control takes decibels.
func (c *Controller) SetUnit(ctx context.Context, id string, addr wire.Address, v float64) error {
	raw := translate.LawFor(c.Class(addr)).ToRaw(v)
	return c.send(ctx, id, wire.SetRaw(addr, raw))
}

// Bump sends BUMP_PERCENT, moving the value by delta percent.
func (c *Controller) Bump(ctx context.Context, id string, addr wire.Address, delta float64) error {
	return c.send(ctx, id, wire.BumpPercent(addr, translate.PercentToRaw(delta)))
}

// Subscribe asks the device to report changes of addr, as raw values or
// as percentages.
func (c *Controller) Subscribe(ctx context.Context, id string, addr wire.Address, percent bool) error {
	return c.send(ctx, id, wire.Subscribe(addr, percent))
}

// Unsubscribe cancels a Subscribe.
func (c *Controller) Unsubscribe(ctx context.Context, id string, addr wire.Address, percent bool) error {
	return c.send(ctx, id, wire.Unsubscribe(addr, percent))
}

// RecallPreset sends RECALL_PRESET to every connected device and waits for
// all of them. Failures are joined.
func (c *Controller) RecallPreset(ctx context.Context, presetID uint32) error {
	cmds, err := c.seq.Broadcast(wire.RecallPreset(presetID))
	errs := []error{err}
	for _, cmd := range cmds {
		if werr := cmd.Wait(ctx); werr != nil {
			errs = append(errs, fmt.Errorf("%s: %w", cmd.DeviceID, werr))
		}
	}
	return errors.Join(errs...)
}

// Updates attaches a subscriber to the update hub. Cancel the returned
// subscription when done.
func (c *Controller) Updates(filter distributor.Filter) *distributor.Subscription {
	return c.hub.Subscribe(filter)
}

// RegisterClass sets the conversion law for inbound values of addr. An
// address with Node 0 applies to every node.
func (c *Controller) RegisterClass(addr wire.Address, class translate.ControlClass) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.classes[addr] = class
}

// Class returns the class registered for addr, falling back to the
// node-independent registration and then to translate.ClassRaw.
func (c *Controller) Class(addr wire.Address) translate.ControlClass {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if class, ok := c.classes[addr]; ok {
		return class
	}
	addr.Node = 0
	return c.classes[addr]
}

// State returns the connection state of a device.
func (c *Controller) State(id string) session.State {
	return c.reg.State(id)
}

// Connected returns a snapshot of the connected device ids, sorted.
func (c *Controller) Connected() []string {
	sessions := c.reg.Sessions()
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID()
	}
	return ids
}

// Devices returns every device id known to the controller, connected or
// not, in no particular order.
func (c *Controller) Devices() []session.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]session.Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, d.dev)
	}
	return out
}

// Stats returns the session counters of a connected device.
func (c *Controller) Stats(id string) (session.Stats, bool) {
	s, ok := c.reg.Get(id)
	if !ok {
		return session.Stats{}, false
	}
	return s.Stats(), true
}

// Pending returns the number of queued or in-flight commands for a device.
func (c *Controller) Pending(id string) int {
	return c.seq.Pending(id)
}

func (c *Controller) send(ctx context.Context, id string, m wire.Message) error {
	if !m.Type.Nodeless() && m.Address.Node == 0 {
		s, ok := c.reg.Get(id)
		if !ok {
			return fmt.Errorf("%s: %w", id, session.ErrNotConnected)
		}
		m.Address.Node = s.Node()
	}
	return c.seq.Send(ctx, id, m)
}

func (c *Controller) forget(id string, d *device) {
	c.mu.Lock()
	if c.devices[id] == d {
		delete(c.devices, id)
	}
	c.mu.Unlock()
	if d.reconnect != nil {
		d.reconnect.Stop()
	}
}

// lookup returns a copy of the device entry taken under c.mu. Connect
// rewrites entries in place.
func (c *Controller) lookup(id string) (device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.devices[id]
	if !ok {
		return device{}, false
	}
	return *d, true
}

func (c *Controller) newReconnectManager(id string) *connection.Manager {
	logger := c.logger.With("device", id)
	return connection.NewManager(func(ctx context.Context) error {
		d, ok := c.lookup(id)
		if !ok || c.reg.State(id) == session.StateConnected {
			return nil
		}
		_, err := c.reg.Connect(ctx, d.dev)
		return err
	}, c.config.ReconnectConfig, connection.Hooks{
		Reconnecting: func(attempt int, delay time.Duration) {
			logger.Info("reconnecting", "attempt", attempt, "delay", delay)
		},
		Reconnected: func() {
			logger.Info("reconnected")
		},
		GiveUp: func(err error) {
			logger.Warn("reconnect abandoned", "error", err)
		},
	})
}

// redial replaces the session of a device whose command timed out.
func (c *Controller) redial(id string) {
	d, ok := c.lookup(id)
	if !ok {
		return
	}
	c.logger.Info("redialing after command timeout", "device", id)
	if _, err := c.reg.Connect(context.Background(), d.dev); err != nil {
		c.logger.Warn("redial failed", "device", id, "error", err)
		if d.reconnect != nil {
			_ = d.reconnect.Trigger()
		}
	}
}

// OnFrame turns inbound SET_RAW and SET_PERCENT frames into updates.
func (c *Controller) OnFrame(s *session.Session, f wire.Frame) {
	switch f.Type {
	case wire.MsgSetRaw, wire.MsgSetPercent:
	default:
		c.logger.Debug("ignoring inbound frame", "device", s.ID(), "msg", f.Message.String())
		return
	}

	class := c.Class(f.Address)
	if f.Type.IsPercent() {
		class = translate.ClassPercent
	}
	c.hub.Publish(distributor.ParameterUpdate{
		DeviceID: s.ID(),
		Address:  f.Address,
		Type:     f.Type,
		Raw:      f.Value,
		Value:    translate.LawFor(class).ToUnit(f.Value),
		Class:    class,
		Time:     time.Now(),
	})
}

// OnControl passes ACK and NAK bytes to the sequencer.
func (c *Controller) OnControl(s *session.Session, ctrl byte) {
	c.seq.HandleControl(s, ctrl)
}

// OnStateChange publishes a StateChanged event.
func (c *Controller) OnStateChange(s *session.Session, oldState, newState session.State) {
	c.hub.Publish(distributor.StateChanged{
		DeviceID: s.ID(),
		Old:      oldState,
		New:      newState,
		Time:     time.Now(),
	})
}

// OnDisconnect fails the device's pending commands, publishes
// DeviceDisconnected and, for failed sessions, starts a reconnect.
func (c *Controller) OnDisconnect(s *session.Session, err error) {
	c.seq.HandleDisconnect(s, err)
	c.hub.Publish(distributor.DeviceDisconnected{
		DeviceID: s.ID(),
		Err:      err,
		Time:     time.Now(),
	})

	if errors.Is(err, session.ErrClosed) {
		return
	}
	if d, ok := c.lookup(s.ID()); ok && d.reconnect != nil {
		_ = d.reconnect.Trigger()
	}
}

var _ session.Handler = (*Controller)(nil)
