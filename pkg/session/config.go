package session

import (
	"log/slog"
	"time"

	"github.com/buzzspeakerhire/bss-control-app/pkg/log"
	"github.com/buzzspeakerhire/bss-control-app/pkg/transport"
)

// Config configures a Registry.
type Config struct {
	// MaxAccumulator bounds the bytes held for one unterminated frame.
	MaxAccumulator int

	// ConnectTimeout bounds Connect when the caller's context has no deadline.
	ConnectTimeout time.Duration

	// ReadBufferSize is the size of each read from the link.
	ReadBufferSize int

	// Logger receives operational logs. Nil discards them.
	Logger *slog.Logger

	// ProtocolLogger receives capture events. Nil discards them.
	ProtocolLogger log.Logger
}

// DefaultConfig returns the session defaults.
func DefaultConfig() Config {
	return Config{
		MaxAccumulator: 4096,
		ConnectTimeout: 5 * time.Second,
		ReadBufferSize: 1024,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxAccumulator <= 0 {
		c.MaxAccumulator = d.MaxAccumulator
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	c.ProtocolLogger = log.OrNoop(c.ProtocolLogger)
}

// Device identifies a device and where to reach it.
type Device struct {
	ID       string
	Endpoint transport.Endpoint

	// Node is the device's 16-bit address on the control network.
	Node uint16
}
