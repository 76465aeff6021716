// Package transport carries framed BSS protocol bytes between the controller
// and a device.
//
// Three link kinds are supported:
//   - TCP, port 1023 unless overridden (the usual case)
//   - UDP, one framed payload per datagram
//   - RS-232 serial for legacy installs, half-duplex and ACK/NAK paced
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   Messages (SET_RAW, ...)      │
//	├────────────────────────────────┤
//	│   STX/ETX framing + escaping   │
//	├────────────────────────────────┤
//	│   TCP | UDP | serial           │
//	└────────────────────────────────┘
//
// The package does no framing of its own: a Conn is a plain byte stream and
// reassembly happens in the session layer. Server is a small device emulator
// used by tests and by bss-control's emulate mode.
package transport
