// Package interactive provides the interactive command shell of
// bss-control.
package interactive

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/buzzspeakerhire/bss-control-app/pkg/controller"
	"github.com/buzzspeakerhire/bss-control-app/pkg/distributor"
	"github.com/buzzspeakerhire/bss-control-app/pkg/session"
	"github.com/buzzspeakerhire/bss-control-app/pkg/translate"
	"github.com/buzzspeakerhire/bss-control-app/pkg/transport"
	"github.com/buzzspeakerhire/bss-control-app/pkg/wire"
)

// DeviceLookup resolves a configured device by id.
type DeviceLookup func(id string) (session.Device, bool)

// Shell is the interactive command loop.
type Shell struct {
	ctrl    *controller.Controller
	devices DeviceLookup
	out     io.Writer
	rl      *readline.Instance

	// CommandTimeout bounds each command sent from the shell.
	CommandTimeout time.Duration

	watch *distributor.Subscription
}

// New creates a shell writing to out. lookup may be nil.
func New(ctrl *controller.Controller, lookup DeviceLookup, out io.Writer) *Shell {
	if lookup == nil {
		lookup = func(string) (session.Device, bool) { return session.Device{}, false }
	}
	return &Shell{
		ctrl:           ctrl,
		devices:        lookup,
		out:            out,
		CommandTimeout: 5 * time.Second,
	}
}

// NewReadline creates a shell reading from a readline prompt on the
// terminal. Output goes through readline so updates do not garble input.
func NewReadline(ctrl *controller.Controller, lookup DeviceLookup) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "bss> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	s := New(ctrl, lookup, rl.Stdout())
	s.rl = rl
	return s, nil
}

// Stdout returns the writer that coordinates with the prompt.
func (s *Shell) Stdout() io.Writer {
	return s.out
}

// Run reads commands until quit, EOF or ctx ends, then calls cancel.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	if s.rl != nil {
		defer s.rl.Close()
	}
	defer s.stopWatch()

	s.printHelp()
	for ctx.Err() == nil {
		line, err := s.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			fmt.Fprintln(s.out, "Exiting...")
			return
		}
		if !s.Execute(ctx, line) {
			return
		}
	}
}

// Execute runs one command line. It returns false for quit.
func (s *Shell) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		s.printHelp()
	case "connect", "c":
		err = s.cmdConnect(ctx, args)
	case "disconnect", "dc":
		err = s.cmdDisconnect(args)
	case "devices", "list", "ls":
		s.cmdDevices()
	case "set", "s":
		err = s.cmdSet(ctx, args)
	case "level", "db":
		err = s.cmdLevel(ctx, args)
	case "bump":
		err = s.cmdBump(ctx, args)
	case "sub", "subscribe":
		err = s.cmdSubscribe(ctx, args, true)
	case "unsub", "unsubscribe":
		err = s.cmdSubscribe(ctx, args, false)
	case "preset", "p":
		err = s.cmdPreset(ctx, args)
	case "class":
		err = s.cmdClass(args)
	case "watch":
		err = s.cmdWatch(args)
	case "stats":
		err = s.cmdStats(args)
	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return false
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
	return true
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
Commands:
  Connection:
    connect <id> [host[:port] [node]]   - Connect a configured or ad-hoc device
    disconnect <id>                     - Disconnect a device
    devices                             - List devices and their state
    stats <id>                          - Show session counters

  Parameters (address is node.vdev.object.param in hex, node 0 = device node):
    set <id> <address> <value>          - Set raw (123), percent (50%) or on/off
    level <id> <address> <unit-value>   - Set in the address's class unit (e.g. dB)
    bump <id> <address> <delta%>        - Bump a percent value
    sub <id> <address> [pct]            - Subscribe to changes
    unsub <id> <address> [pct]          - Unsubscribe
    class <address> <class>             - Set class: raw, gain, meter, percent, boolean
    preset <n>                          - Recall preset on every device

  General:
    watch on|off                        - Print updates as they arrive
    help                                - Show this help
    quit                                - Exit`)
}

func (s *Shell) timeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.CommandTimeout)
}

func (s *Shell) cmdConnect(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: connect <id> [host[:port] [node]]")
	}
	dev, ok := s.devices(args[0])
	if len(args) >= 2 {
		ep, err := parseEndpoint(args[1])
		if err != nil {
			return err
		}
		dev = session.Device{ID: args[0], Endpoint: ep}
		ok = true
	}
	if len(args) >= 3 {
		node, err := strconv.ParseUint(args[2], 0, 16)
		if err != nil {
			return fmt.Errorf("invalid node %q", args[2])
		}
		dev.Node = uint16(node)
	}
	if !ok {
		return fmt.Errorf("%w: %s (give host to connect ad hoc)", controller.ErrUnknownDevice, args[0])
	}

	cctx, cancel := s.timeout(ctx)
	defer cancel()
	if err := s.ctrl.Connect(cctx, dev); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Connected %s (%s, node 0x%04X)\n", dev.ID, dev.Endpoint, dev.Node)
	return nil
}

func (s *Shell) cmdDisconnect(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: disconnect <id>")
	}
	s.ctrl.Disconnect(args[0])
	fmt.Fprintf(s.out, "Disconnected %s\n", args[0])
	return nil
}

func (s *Shell) cmdDevices() {
	devices := s.ctrl.Devices()
	if len(devices) == 0 {
		fmt.Fprintln(s.out, "No devices")
		return
	}
	fmt.Fprintf(s.out, "Devices (%d):\n", len(devices))
	for _, d := range devices {
		fmt.Fprintf(s.out, "  %-16s %-12s %s node=0x%04X pending=%d\n",
			d.ID, s.ctrl.State(d.ID), d.Endpoint, d.Node, s.ctrl.Pending(d.ID))
	}
}

func (s *Shell) cmdSet(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: set <id> <address> <value>")
	}
	addr, err := wire.ParseAddress(args[1])
	if err != nil {
		return err
	}
	v, err := controller.ParseValue(args[2])
	if err != nil {
		return err
	}
	cctx, cancel := s.timeout(ctx)
	defer cancel()
	if err := s.ctrl.Set(cctx, args[0], addr, v); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "OK %s %s = %s\n", args[0], addr, v)
	return nil
}

func (s *Shell) cmdLevel(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: level <id> <address> <unit-value>")
	}
	addr, err := wire.ParseAddress(args[1])
	if err != nil {
		return err
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.ToLower(args[2]), "db"), 64)
	if err != nil {
		return fmt.Errorf("invalid level %q", args[2])
	}
	cctx, cancel := s.timeout(ctx)
	defer cancel()
	if err := s.ctrl.SetUnit(cctx, args[0], addr, v); err != nil {
		return err
	}
	law := translate.LawFor(s.ctrl.Class(addr))
	fmt.Fprintf(s.out, "OK %s %s = %g%s (raw %d)\n", args[0], addr, v, law.Unit(), law.ToRaw(v))
	return nil
}

func (s *Shell) cmdBump(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: bump <id> <address> <delta%%>")
	}
	addr, err := wire.ParseAddress(args[1])
	if err != nil {
		return err
	}
	delta, err := strconv.ParseFloat(strings.TrimSuffix(args[2], "%"), 64)
	if err != nil {
		return fmt.Errorf("invalid delta %q", args[2])
	}
	cctx, cancel := s.timeout(ctx)
	defer cancel()
	return s.ctrl.Bump(cctx, args[0], addr, delta)
}

func (s *Shell) cmdSubscribe(ctx context.Context, args []string, on bool) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("usage: sub|unsub <id> <address> [pct]")
	}
	addr, err := wire.ParseAddress(args[1])
	if err != nil {
		return err
	}
	percent := len(args) == 3 && strings.HasPrefix(strings.ToLower(args[2]), "p")
	cctx, cancel := s.timeout(ctx)
	defer cancel()
	if on {
		return s.ctrl.Subscribe(cctx, args[0], addr, percent)
	}
	return s.ctrl.Unsubscribe(cctx, args[0], addr, percent)
}

func (s *Shell) cmdPreset(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: preset <n>")
	}
	id, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return fmt.Errorf("invalid preset %q", args[0])
	}
	cctx, cancel := s.timeout(ctx)
	defer cancel()
	if err := s.ctrl.RecallPreset(cctx, uint32(id)); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Preset %d recalled on %d device(s)\n", id, len(s.ctrl.Connected()))
	return nil
}

func (s *Shell) cmdClass(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: class <address> <class>")
	}
	addr, err := wire.ParseAddress(args[0])
	if err != nil {
		return err
	}
	class, err := translate.ParseControlClass(args[1])
	if err != nil {
		return err
	}
	s.ctrl.RegisterClass(addr, class)
	return nil
}

func (s *Shell) cmdWatch(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: watch on|off")
	}
	switch strings.ToLower(args[0]) {
	case "on":
		if s.watch != nil {
			return nil
		}
		s.watch = s.ctrl.Updates(distributor.Filter{})
		go s.printEvents(s.watch)
	case "off":
		s.stopWatch()
	default:
		return fmt.Errorf("usage: watch on|off")
	}
	return nil
}

func (s *Shell) stopWatch() {
	if s.watch != nil {
		s.watch.Cancel()
		s.watch = nil
	}
}

func (s *Shell) printEvents(sub *distributor.Subscription) {
	for e := range sub.Events() {
		fmt.Fprintln(s.out, FormatEvent(e))
	}
	if n := sub.Dropped(); n > 0 {
		fmt.Fprintf(s.out, "[watch] %d updates dropped\n", n)
	}
}

func (s *Shell) cmdStats(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: stats <id>")
	}
	st, ok := s.ctrl.Stats(args[0])
	if !ok {
		return fmt.Errorf("%s: %w", args[0], session.ErrNotConnected)
	}
	fmt.Fprintf(s.out, "%s: frames in=%d out=%d, ack/nak=%d, protocol errors=%d (checksum %d)\n",
		args[0], st.FramesIn, st.FramesOut, st.ControlIn, st.ProtocolErrors, st.ChecksumErrors)
	return nil
}

// FormatEvent renders an update event as one line.
func FormatEvent(e distributor.Event) string {
	switch ev := e.(type) {
	case distributor.ParameterUpdate:
		unit := translate.LawFor(ev.Class).Unit()
		return fmt.Sprintf("[update] %s %s %s raw=%d value=%g%s",
			ev.DeviceID, ev.Address, ev.Type, ev.Raw, ev.Value, unit)
	case distributor.StateChanged:
		return fmt.Sprintf("[state] %s %s -> %s", ev.DeviceID, ev.Old, ev.New)
	case distributor.DeviceDisconnected:
		return fmt.Sprintf("[disconnected] %s: %v", ev.DeviceID, ev.Err)
	default:
		return fmt.Sprintf("[event] %s", e.Device())
	}
}

// parseEndpoint reads host, host:port, udp://host:port or serial:///dev/tty.
func parseEndpoint(s string) (transport.Endpoint, error) {
	ep := transport.Endpoint{Kind: transport.KindTCP}
	if kind, rest, ok := strings.Cut(s, "://"); ok {
		k, err := transport.ParseKind(kind)
		if err != nil {
			return ep, err
		}
		ep.Kind = k
		s = rest
	}
	if ep.Kind == transport.KindSerial {
		ep.SerialDevice = s
		ep.BaudRate = transport.DefaultBaudRate
		return ep, nil
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		ep.Host = s
		return ep, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return ep, fmt.Errorf("invalid port %q", portStr)
	}
	ep.Host = host
	ep.Port = port
	return ep, nil
}
