package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/buzzspeakerhire/bss-control-app/pkg/connection"
	"github.com/buzzspeakerhire/bss-control-app/pkg/controller"
	"github.com/buzzspeakerhire/bss-control-app/pkg/distributor"
	"github.com/buzzspeakerhire/bss-control-app/pkg/sequencer"
	"github.com/buzzspeakerhire/bss-control-app/pkg/session"
	"github.com/buzzspeakerhire/bss-control-app/pkg/translate"
	"github.com/buzzspeakerhire/bss-control-app/pkg/transport"
	"github.com/buzzspeakerhire/bss-control-app/pkg/wire"
)

// Configuration errors.
var (
	ErrUnknownFormat = errors.New("config: unknown file format")
	ErrInvalid       = errors.New("config: invalid")
)

// Config is the venue file.
type Config struct {
	Devices     []Device           `yaml:"devices" toml:"devices"`
	Controls    []Control          `yaml:"controls" toml:"controls"`
	Session     Session            `yaml:"session" toml:"session"`
	Sequencer   Sequencer          `yaml:"sequencer" toml:"sequencer"`
	Distributor distributor.Config `yaml:"distributor" toml:"distributor"`
	Log         Log                `yaml:"log" toml:"log"`
}

// Device is one DSP node.
type Device struct {
	ID        string         `yaml:"id" toml:"id"`
	Host      string         `yaml:"host" toml:"host"`
	Port      int            `yaml:"port" toml:"port"`
	Transport transport.Kind `yaml:"transport" toml:"transport"`
	Node      uint16         `yaml:"node" toml:"node"`
	Serial    Serial         `yaml:"serial" toml:"serial"`

	// Autoconnect defaults to true.
	Autoconnect *bool `yaml:"autoconnect" toml:"autoconnect"`
}

// Serial configures an RS-232 device.
type Serial struct {
	Device string `yaml:"device" toml:"device"`
	Baud   int    `yaml:"baud" toml:"baud"`
}

// Control binds a conversion law to an address. Node 0 matches every node.
type Control struct {
	Name    string `yaml:"name" toml:"name"`
	Address string `yaml:"address" toml:"address"`
	Class   string `yaml:"class" toml:"class"`
}

// Session configures device sessions.
type Session struct {
	MaxAccumulator int           `yaml:"max_accumulator" toml:"max_accumulator"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" toml:"connect_timeout"`

	Reconnect            bool                     `yaml:"reconnect" toml:"reconnect"`
	ReconnectBackoff     connection.BackoffConfig `yaml:"reconnect_backoff" toml:"reconnect_backoff"`
	ReconnectMaxAttempts int                      `yaml:"reconnect_max_attempts" toml:"reconnect_max_attempts"`
}

// Sequencer configures command sequencing.
type Sequencer struct {
	AckTimeout         time.Duration            `yaml:"ack_timeout" toml:"ack_timeout"`
	MaxRetries         int                      `yaml:"max_retries" toml:"max_retries"`
	NakRetries         int                      `yaml:"nak_retries" toml:"nak_retries"`
	PaceDelay          time.Duration            `yaml:"pace_delay" toml:"pace_delay"`
	QueueLimit         int                      `yaml:"queue_limit" toml:"queue_limit"`
	Paced              sequencer.PaceMode       `yaml:"paced" toml:"paced"`
	ReconnectOnTimeout bool                     `yaml:"reconnect_on_timeout" toml:"reconnect_on_timeout"`
	RetryBackoff       connection.BackoffConfig `yaml:"retry_backoff" toml:"retry_backoff"`
}

// Log configures logging.
type Log struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" toml:"level"`

	// ProtocolFile, if set, receives a CBOR protocol capture.
	ProtocolFile string `yaml:"protocol_file" toml:"protocol_file"`
}

// Default returns a configuration with no devices and every default set.
func Default() Config {
	sess := session.DefaultConfig()
	seq := sequencer.DefaultConfig()
	return Config{
		Session: Session{
			MaxAccumulator:   sess.MaxAccumulator,
			ConnectTimeout:   sess.ConnectTimeout,
			ReconnectBackoff: connection.DefaultBackoffConfig(),
		},
		Sequencer: Sequencer{
			AckTimeout:   seq.AckTimeout,
			MaxRetries:   seq.MaxRetries,
			NakRetries:   seq.NakRetries,
			QueueLimit:   seq.QueueLimit,
			Paced:        seq.Pacing,
			RetryBackoff: seq.RetryBackoff,
		},
		Distributor: distributor.DefaultConfig(),
		Log:         Log{Level: "info"},
	}
}

// Load reads path over Default, fills device defaults and validates.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	case ".toml":
		format = "toml"
	default:
		return Config{}, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
	cfg, err := Parse(data, format)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data in format ("yaml" or "toml") over Default, fills
// device defaults and validates.
func Parse(data []byte, format string) (Config, error) {
	cfg := Default()
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse yaml: %w", err)
		}
	case "toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse toml: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Transport != transport.KindSerial && d.Port == 0 {
			d.Port = transport.DefaultPort
		}
		if d.Transport == transport.KindSerial && d.Serial.Baud == 0 {
			d.Serial.Baud = transport.DefaultBaudRate
		}
	}
}

// Validate checks device ids, endpoints, control bindings and the log level.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if strings.TrimSpace(d.ID) == "" {
			return fmt.Errorf("%w: devices[%d]: missing id", ErrInvalid, i)
		}
		if seen[d.ID] {
			return fmt.Errorf("%w: devices[%d]: duplicate id %q", ErrInvalid, i, d.ID)
		}
		seen[d.ID] = true

		switch d.Transport {
		case transport.KindSerial:
			if d.Serial.Device == "" {
				return fmt.Errorf("%w: device %q: serial transport needs serial.device", ErrInvalid, d.ID)
			}
			if d.Serial.Baud < 0 {
				return fmt.Errorf("%w: device %q: negative baud rate", ErrInvalid, d.ID)
			}
		default:
			if d.Host == "" {
				return fmt.Errorf("%w: device %q: missing host", ErrInvalid, d.ID)
			}
			if d.Port < 1 || d.Port > 65535 {
				return fmt.Errorf("%w: device %q: port %d out of range", ErrInvalid, d.ID, d.Port)
			}
		}
	}
	for i, ctl := range c.Controls {
		if _, _, err := ctl.Parse(); err != nil {
			return fmt.Errorf("%w: controls[%d]: %v", ErrInvalid, i, err)
		}
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// AutoConnect reports whether the device is connected at startup.
func (d Device) AutoConnect() bool {
	return d.Autoconnect == nil || *d.Autoconnect
}

// Endpoint returns the transport endpoint of d.
func (d Device) Endpoint() transport.Endpoint {
	return transport.Endpoint{
		Kind:         d.Transport,
		Host:         d.Host,
		Port:         d.Port,
		SerialDevice: d.Serial.Device,
		BaudRate:     d.Serial.Baud,
	}
}

// SessionDevice returns d as a session.Device.
func (d Device) SessionDevice() session.Device {
	return session.Device{ID: d.ID, Endpoint: d.Endpoint(), Node: d.Node}
}

// Parse returns the address and class of the binding.
func (c Control) Parse() (wire.Address, translate.ControlClass, error) {
	addr, err := wire.ParseAddress(c.Address)
	if err != nil {
		return wire.Address{}, 0, err
	}
	class, err := translate.ParseControlClass(c.Class)
	if err != nil {
		return wire.Address{}, 0, err
	}
	return addr, class, nil
}

// SlogLevel parses Level. The empty string is info.
func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", l.Level, err)
	}
	return level, nil
}

// Device returns the device with id.
func (c Config) Device(id string) (Device, bool) {
	for _, d := range c.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

// ControllerConfig maps the file onto a controller.Config. Loggers and the
// dialer are left for the caller.
func (c Config) ControllerConfig() controller.Config {
	cc := controller.DefaultConfig()

	cc.Session.MaxAccumulator = c.Session.MaxAccumulator
	cc.Session.ConnectTimeout = c.Session.ConnectTimeout

	cc.Sequencer.AckTimeout = c.Sequencer.AckTimeout
	cc.Sequencer.MaxRetries = c.Sequencer.MaxRetries
	cc.Sequencer.NakRetries = c.Sequencer.NakRetries
	cc.Sequencer.PaceDelay = c.Sequencer.PaceDelay
	cc.Sequencer.QueueLimit = c.Sequencer.QueueLimit
	cc.Sequencer.Pacing = c.Sequencer.Paced
	cc.Sequencer.ReconnectOnTimeout = c.Sequencer.ReconnectOnTimeout
	cc.Sequencer.RetryBackoff = c.Sequencer.RetryBackoff

	cc.Distributor = c.Distributor

	cc.Reconnect = c.Session.Reconnect
	cc.ReconnectConfig.Backoff = c.Session.ReconnectBackoff
	cc.ReconnectConfig.MaxAttempts = c.Session.ReconnectMaxAttempts
	if c.Session.ConnectTimeout > 0 {
		cc.ReconnectConfig.AttemptTimeout = c.Session.ConnectTimeout
	}
	return cc
}

// Apply registers the control bindings on ctrl. Bindings were checked by
// Validate.
func (c Config) Apply(ctrl *controller.Controller) {
	for _, ctl := range c.Controls {
		addr, class, err := ctl.Parse()
		if err != nil {
			continue
		}
		ctrl.RegisterClass(addr, class)
	}
}
