// Command bss-control drives BSS DSP devices from a configuration file.
//
// Usage:
//
//	bss-control [flags]
//
// Flags:
//
//	-config string        Configuration file (.yaml, .yml or .toml)
//	-log-level string     Log level: debug, info, warn, error (overrides config)
//	-protocol-log string  Capture protocol events to this file (overrides config)
//	-interactive          Start the interactive shell (default true)
//	-emulate string       Run a device emulator on this address instead
//
// Examples:
//
//	# Connect the devices in a config file and open the shell
//	bss-control -config /etc/bss/venue.yaml
//
//	# Emulate a device on the default port
//	bss-control -emulate :1023 -log-level debug
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/buzzspeakerhire/bss-control-app/cmd/bss-control/interactive"
	"github.com/buzzspeakerhire/bss-control-app/pkg/config"
	"github.com/buzzspeakerhire/bss-control-app/pkg/controller"
	"github.com/buzzspeakerhire/bss-control-app/pkg/distributor"
	"github.com/buzzspeakerhire/bss-control-app/pkg/log"
	"github.com/buzzspeakerhire/bss-control-app/pkg/session"
	"github.com/buzzspeakerhire/bss-control-app/pkg/transport"
	"github.com/buzzspeakerhire/bss-control-app/pkg/wire"
)

var (
	configFile  = flag.String("config", "", "Configuration file (.yaml, .yml or .toml)")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
	protocolLog = flag.String("protocol-log", "", "Capture protocol events to this file")
	interact    = flag.Bool("interactive", true, "Start the interactive shell")
	emulate     = flag.String("emulate", "", "Run a device emulator on this address")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *protocolLog != "" {
		cfg.Log.ProtocolFile = *protocolLog
	}

	level, err := cfg.Log.SlogLevel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var protoLogger log.Logger
	if cfg.Log.ProtocolFile != "" {
		fl, err := log.NewFileLogger(cfg.Log.ProtocolFile)
		if err != nil {
			logger.Error("failed to open protocol log", "path", cfg.Log.ProtocolFile, "error", err)
			os.Exit(1)
		}
		defer fl.Close()
		protoLogger = fl
		if level <= slog.LevelDebug {
			protoLogger = log.NewMultiLogger(fl, log.NewSlogAdapter(logger))
		}
		logger.Info("capturing protocol events", "path", cfg.Log.ProtocolFile)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			logger.Info("received signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if *emulate != "" {
		if err := runEmulator(ctx, *emulate, protoLogger, logger); err != nil {
			logger.Error("emulator failed", "error", err)
			os.Exit(1)
		}
		return
	}

	ccfg := cfg.ControllerConfig()
	ccfg.Logger = logger
	ccfg.ProtocolLogger = protoLogger
	ctrl := controller.New(ccfg)
	defer ctrl.Close()
	cfg.Apply(ctrl)

	connectConfigured(ctx, ctrl, cfg, logger)

	lookup := func(id string) (session.Device, bool) {
		d, ok := cfg.Device(id)
		if !ok {
			return session.Device{}, false
		}
		return d.SessionDevice(), true
	}

	if *interact {
		shell, err := interactive.NewReadline(ctrl, lookup)
		if err != nil {
			logger.Error("failed to start shell", "error", err)
			os.Exit(1)
		}
		shell.Run(ctx, cancel)
	} else {
		sub := ctrl.Updates(distributor.Filter{})
		defer sub.Cancel()
		for {
			select {
			case e := <-sub.Events():
				fmt.Println(interactive.FormatEvent(e))
			case <-ctx.Done():
				logger.Info("shutting down")
				return
			}
		}
	}
}

// connectConfigured connects every device marked for autoconnect. Failures
// are logged; devices with reconnect enabled keep retrying in the background.
func connectConfigured(ctx context.Context, ctrl *controller.Controller, cfg config.Config, logger *slog.Logger) {
	for _, d := range cfg.Devices {
		if !d.AutoConnect() {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, cfg.Session.ConnectTimeout+time.Second)
		err := ctrl.Connect(cctx, d.SessionDevice())
		cancel()
		if err != nil {
			logger.Warn("connect failed", "device", d.ID, "endpoint", d.Endpoint(), "error", err)
			continue
		}
		logger.Info("connected", "device", d.ID, "endpoint", d.Endpoint())
	}
}

// runEmulator serves a device on addr until ctx ends, acknowledging every
// frame and printing what it receives.
func runEmulator(ctx context.Context, addr string, protoLogger log.Logger, logger *slog.Logger) error {
	srv := transport.NewServer(transport.ServerConfig{
		Address: addr,
		AutoAck: true,
		Logger:  protoLogger,
		OnConnect: func(c *transport.ServerConn) {
			logger.Info("controller connected", "remote", c.RemoteAddr())
		},
		OnDisconnect: func(c *transport.ServerConn) {
			logger.Info("controller disconnected", "remote", c.RemoteAddr())
		},
		OnMessage: func(c *transport.ServerConn, m wire.Message) {
			fmt.Printf("%s  %s\n", time.Now().Format("15:04:05.000"), m)
		},
		OnError: func(c *transport.ServerConn, err error) {
			logger.Warn("emulator error", "error", err)
		},
	})
	if err := srv.Start(ctx); err != nil {
		return err
	}
	logger.Info("emulating device", "address", srv.Addr())
	<-ctx.Done()
	return srv.Stop()
}
