// Package wire implements the BSS direct-inject frame codec.
//
// Every message on the wire is a delimited frame:
//
//	┌───────┬───────────────────────────┬──────────┬─────┐
//	│ START │ body (escaped)            │ checksum │ END │
//	│ 0x02  │ type, address, [value]    │ (escaped)│ 0x03│
//	└───────┴───────────────────────────┴──────────┴─────┘
//
// The checksum is the XOR of every unescaped body byte. Body and checksum
// bytes that collide with a control byte (STX, ETX, ACK, NAK, ESC) are sent
// as ESC followed by the byte with its high bit set. Delimiters are never
// escaped.
//
// # Body Layout
//
// Parameter messages address one value with a node (2 bytes), a virtual
// device (1 byte), an object id (3 bytes) and a parameter id (2 bytes), all
// big-endian:
//
//	SET_RAW / SET_PERCENT / BUMP_PERCENT
//	  [type, node(2), vdev(1), object(3), param(2), value(4, signed)]
//	SUBSCRIBE_* / UNSUBSCRIBE_*
//	  [type, node(2), vdev(1), object(3), param(2)]
//	RECALL_PRESET
//	  [type, preset(4)]
//
// # Flow Control
//
// Outside a frame, a single ACK (0x06) or NAK (0x15) byte acknowledges the
// last command on paced links. Scan reports these as control tokens.
//
// Everything in this package is pure: no state, no I/O.
package wire
