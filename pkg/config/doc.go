// Package config loads the venue file: the devices to control, the layer
// settings of the runtime and logging.
//
// Files ending in .yaml or .yml are read with gopkg.in/yaml.v3 and files
// ending in .toml with github.com/BurntSushi/toml. Keys that are absent keep
// the values from Default.
//
// Example (YAML):
//
//	devices:
//	  - id: foh-amp
//	    host: 192.168.1.20
//	    node: 0x0001
//	  - id: monitor-dsp
//	    transport: serial
//	    node: 0x0002
//	    serial:
//	      device: /dev/ttyUSB0
//	controls:
//	  - address: 0000.03.000100.0000
//	    class: gain
//	sequencer:
//	  ack_timeout: 500ms
//	log:
//	  level: debug
//	  protocol_file: capture.blog
package config
