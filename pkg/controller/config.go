package controller

import (
	"log/slog"

	"github.com/buzzspeakerhire/bss-control-app/pkg/connection"
	"github.com/buzzspeakerhire/bss-control-app/pkg/distributor"
	"github.com/buzzspeakerhire/bss-control-app/pkg/log"
	"github.com/buzzspeakerhire/bss-control-app/pkg/sequencer"
	"github.com/buzzspeakerhire/bss-control-app/pkg/session"
	"github.com/buzzspeakerhire/bss-control-app/pkg/transport"
)

// Config configures a Controller.
type Config struct {
	Session     session.Config
	Sequencer   sequencer.Config
	Distributor distributor.Config

	// Reconnect re-dials a device whose session ended with an error.
	// Explicit disconnects are never re-dialed.
	Reconnect       bool
	ReconnectConfig connection.ManagerConfig

	// Dialer opens device links. Nil uses transport.NetDialer.
	Dialer transport.Dialer

	// Logger receives operational logs for every layer. Nil discards them.
	Logger *slog.Logger

	// ProtocolLogger receives capture events. Nil discards them.
	ProtocolLogger log.Logger
}

// DefaultConfig returns the defaults of every layer, with reconnect off.
func DefaultConfig() Config {
	return Config{
		Session:         session.DefaultConfig(),
		Sequencer:       sequencer.DefaultConfig(),
		Distributor:     distributor.DefaultConfig(),
		ReconnectConfig: connection.DefaultManagerConfig(),
	}
}
