package sequencer

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/buzzspeakerhire/bss-control-app/pkg/connection"
)

// Sequencer errors.
var (
	// ErrCommandTimeout means no ACK or NAK arrived within AckTimeout on the
	// final attempt.
	ErrCommandTimeout = errors.New("sequencer: command timed out")

	// ErrNegativeAck means the device answered NAK and no NAK retries remained.
	ErrNegativeAck = errors.New("sequencer: negative acknowledgement")

	// ErrQueueFull means the device already has QueueLimit commands waiting.
	ErrQueueFull = errors.New("sequencer: queue full")

	// ErrSessionClosed means the device disconnected before the command
	// completed. The disconnect cause is wrapped alongside it.
	ErrSessionClosed = errors.New("sequencer: session closed")

	// ErrNoSessions is returned by Broadcast when no device is connected.
	ErrNoSessions = errors.New("sequencer: no connected devices")

	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("sequencer: stopped")
)

// PaceMode selects when ACK/NAK pacing is used.
type PaceMode uint8

const (
	// PaceAuto paces half-duplex links only.
	PaceAuto PaceMode = iota
	// PaceAlways paces every link.
	PaceAlways
	// PaceNever writes immediately on every link.
	PaceNever
)

// String returns the mode name used in configuration.
func (m PaceMode) String() string {
	switch m {
	case PaceAuto:
		return "auto"
	case PaceAlways:
		return "always"
	case PaceNever:
		return "never"
	default:
		return "unknown"
	}
}

// ParsePaceMode parses a mode name. The empty string is PaceAuto.
func ParsePaceMode(s string) (PaceMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return PaceAuto, nil
	case "always":
		return PaceAlways, nil
	case "never":
		return PaceNever, nil
	}
	return 0, fmt.Errorf("sequencer: unknown pace mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m PaceMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *PaceMode) UnmarshalText(text []byte) error {
	v, err := ParsePaceMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Config configures a Sequencer.
type Config struct {
	// AckTimeout is how long a paced command waits for ACK or NAK.
	AckTimeout time.Duration

	// MaxRetries is the number of resends after a timeout.
	MaxRetries int

	// NakRetries is the number of resends after a NAK. Zero advances the
	// queue on the first NAK.
	NakRetries int

	// PaceDelay is the gap between paced commands.
	PaceDelay time.Duration

	// QueueLimit bounds the commands waiting per device.
	QueueLimit int

	Pacing PaceMode

	// ReconnectOnTimeout calls the OnTimeout hook after a command times out
	// for good.
	ReconnectOnTimeout bool

	// RetryBackoff spaces timeout retries.
	RetryBackoff connection.BackoffConfig

	// Logger receives operational logs. Nil discards them.
	Logger *slog.Logger
}

// DefaultConfig returns the sequencer defaults.
func DefaultConfig() Config {
	return Config{
		AckTimeout: time.Second,
		MaxRetries: 3,
		QueueLimit: 1024,
		RetryBackoff: connection.BackoffConfig{
			Initial: 50 * time.Millisecond,
			Max:     time.Second,
		},
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.AckTimeout <= 0 {
		c.AckTimeout = d.AckTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.NakRetries < 0 {
		c.NakRetries = 0
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = d.QueueLimit
	}
	if c.RetryBackoff.Initial <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}
