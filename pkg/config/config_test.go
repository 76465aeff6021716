package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buzzspeakerhire/bss-control-app/pkg/controller"
	"github.com/buzzspeakerhire/bss-control-app/pkg/sequencer"
	"github.com/buzzspeakerhire/bss-control-app/pkg/translate"
	"github.com/buzzspeakerhire/bss-control-app/pkg/transport"
	"github.com/buzzspeakerhire/bss-control-app/pkg/wire"
)

const venueYAML = `
devices:
  - id: foh-amp
    host: 192.168.1.20
    node: 0x0001
  - id: fill-amp
    host: 192.168.1.21
    port: 4000
    transport: udp
    node: 2
    autoconnect: false
  - id: monitor-dsp
    transport: serial
    node: 3
    serial:
      device: /dev/ttyUSB0
controls:
  - name: master
    address: 0000.03.000100.0000
    class: gain
sequencer:
  ack_timeout: 500ms
  nak_retries: 2
  paced: always
session:
  reconnect: true
  reconnect_backoff:
    initial: 200ms
    max: 5s
log:
  level: debug
  protocol_file: capture.blog
`

const venueTOML = `
[[devices]]
id = "foh-amp"
host = "192.168.1.20"
node = 0x0001

[[devices]]
id = "monitor-dsp"
transport = "serial"
node = 3
serial = { device = "/dev/ttyUSB0", baud = 38400 }

[sequencer]
ack_timeout = "250ms"
paced = "never"

[distributor]
buffer = 16
`

func TestParseYAML(t *testing.T) {
	cfg, err := Parse([]byte(venueYAML), "yaml")
	require.NoError(t, err)
	require.Len(t, cfg.Devices, 3)

	foh := cfg.Devices[0]
	assert.Equal(t, transport.KindTCP, foh.Transport)
	assert.Equal(t, transport.DefaultPort, foh.Port)
	assert.Equal(t, uint16(1), foh.Node)
	assert.True(t, foh.AutoConnect())

	fill, ok := cfg.Device("fill-amp")
	require.True(t, ok)
	assert.Equal(t, transport.KindUDP, fill.Transport)
	assert.Equal(t, 4000, fill.Port)
	assert.False(t, fill.AutoConnect())

	mon := cfg.Devices[2].SessionDevice()
	assert.Equal(t, transport.KindSerial, mon.Endpoint.Kind)
	assert.Equal(t, "/dev/ttyUSB0", mon.Endpoint.SerialDevice)
	assert.Equal(t, transport.DefaultBaudRate, mon.Endpoint.BaudRate)
	assert.Equal(t, uint16(3), mon.Node)

	assert.Equal(t, 500*time.Millisecond, cfg.Sequencer.AckTimeout)
	assert.Equal(t, 2, cfg.Sequencer.NakRetries)
	assert.Equal(t, 3, cfg.Sequencer.MaxRetries, "default kept")
	assert.Equal(t, sequencer.PaceAlways, cfg.Sequencer.Paced)
	assert.True(t, cfg.Session.Reconnect)
	assert.Equal(t, 200*time.Millisecond, cfg.Session.ReconnectBackoff.Initial)
	assert.Equal(t, 4096, cfg.Session.MaxAccumulator)
	assert.Equal(t, "capture.blog", cfg.Log.ProtocolFile)

	addr, class, err := cfg.Controls[0].Parse()
	require.NoError(t, err)
	assert.Equal(t, wire.Address{VirtualDevice: 3, Object: 0x100}, addr)
	assert.Equal(t, translate.ClassGain, class)
}

func TestParseTOML(t *testing.T) {
	cfg, err := Parse([]byte(venueTOML), "toml")
	require.NoError(t, err)
	require.Len(t, cfg.Devices, 2)
	assert.Equal(t, transport.DefaultPort, cfg.Devices[0].Port)
	assert.Equal(t, 38400, cfg.Devices[1].Serial.Baud)
	assert.Equal(t, 250*time.Millisecond, cfg.Sequencer.AckTimeout)
	assert.Equal(t, sequencer.PaceNever, cfg.Sequencer.Paced)
	assert.Equal(t, 16, cfg.Distributor.Buffer)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadByExtension(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "venue.yml")
	tomlPath := filepath.Join(dir, "venue.toml")
	jsonPath := filepath.Join(dir, "venue.json")
	require.NoError(t, os.WriteFile(yamlPath, []byte(venueYAML), 0o600))
	require.NoError(t, os.WriteFile(tomlPath, []byte(venueTOML), 0o600))
	require.NoError(t, os.WriteFile(jsonPath, []byte("{}"), 0o600))

	cfg, err := Load(yamlPath)
	require.NoError(t, err)
	assert.Len(t, cfg.Devices, 3)

	cfg, err = Load(tomlPath)
	require.NoError(t, err)
	assert.Len(t, cfg.Devices, 2)

	_, err = Load(jsonPath)
	assert.ErrorIs(t, err, ErrUnknownFormat)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing id", "devices: [{host: a}]"},
		{"duplicate id", "devices: [{id: a, host: a}, {id: a, host: b}]"},
		{"missing host", "devices: [{id: a}]"},
		{"port range", "devices: [{id: a, host: a, port: 70000}]"},
		{"serial without device", "devices: [{id: a, transport: serial}]"},
		{"bad class", "controls: [{address: 0001.03.000100.0000, class: loud}]"},
		{"bad address", "controls: [{address: nowhere, class: gain}]"},
		{"bad level", "log: {level: chatty}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), "yaml")
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}

	_, err := Parse([]byte("devices: [{id: a, transport: carrier-pigeon}]"), "yaml")
	assert.ErrorIs(t, err, transport.ErrUnknownKind)
}

func TestControllerConfig(t *testing.T) {
	cfg, err := Parse([]byte(venueYAML), "yaml")
	require.NoError(t, err)

	cc := cfg.ControllerConfig()
	assert.Equal(t, 500*time.Millisecond, cc.Sequencer.AckTimeout)
	assert.Equal(t, sequencer.PaceAlways, cc.Sequencer.Pacing)
	assert.True(t, cc.Reconnect)
	assert.Equal(t, 5*time.Second, cc.ReconnectConfig.Backoff.Max)
	assert.Equal(t, 5*time.Second, cc.ReconnectConfig.AttemptTimeout)
	assert.Equal(t, 256, cc.Distributor.Buffer)

	ctrl := controller.New(cc)
	defer ctrl.Close()
	cfg.Apply(ctrl)
	assert.Equal(t, translate.ClassGain, ctrl.Class(wire.Address{Node: 9, VirtualDevice: 3, Object: 0x100}))
}

func TestSlogLevel(t *testing.T) {
	level, err := Log{}.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, "INFO", level.String())

	level, err = Log{Level: "warn"}.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, "WARN", level.String())
}
