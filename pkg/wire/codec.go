package wire

import (
	"encoding/binary"
	"fmt"
)

// escapeFlag is OR-ed into an escaped byte to form the second byte of the pair.
const escapeFlag = 0x80

// needsEscape reports whether b must be sent as an escape pair.
func needsEscape(b byte) bool {
	switch b {
	case Start, End, ACK, NAK, Esc:
		return true
	}
	return false
}

// unescapeByte maps the second byte of an escape pair back to the original.
func unescapeByte(b byte) (byte, bool) {
	orig := b &^ escapeFlag
	if b&escapeFlag == 0 || !needsEscape(orig) {
		return 0, false
	}
	return orig, true
}

// Checksum returns the XOR of all bytes in body.
func Checksum(body []byte) byte {
	var sum byte
	for _, b := range body {
		sum ^= b
	}
	return sum
}

// Escape returns src with every control byte replaced by its escape pair.
func Escape(src []byte) []byte {
	return appendEscaped(make([]byte, 0, len(src)+len(src)/8), src)
}

func appendEscaped(dst, src []byte) []byte {
	for _, b := range src {
		if needsEscape(b) {
			dst = append(dst, Esc, b|escapeFlag)
			continue
		}
		dst = append(dst, b)
	}
	return dst
}

// Unescape reverses Escape. An escape byte followed by an unrecognized byte
// is passed through literally. A lone escape byte at the end of src is not
// emitted; it is returned in rest so the caller can prepend it to the next
// chunk.
func Unescape(src []byte) (out, rest []byte) {
	out = make([]byte, 0, len(src))
	for i := 0; i < len(src); i++ {
		b := src[i]
		if b != Esc {
			out = append(out, b)
			continue
		}
		if i+1 == len(src) {
			return out, src[i:]
		}
		if orig, ok := unescapeByte(src[i+1]); ok {
			out = append(out, orig)
			i++
			continue
		}
		out = append(out, b, src[i+1])
		i++
	}
	return out, nil
}

// Body builds the unescaped body for m.
func Body(m Message) ([]byte, error) {
	n := m.Type.bodyLen()
	if n == 0 {
		return nil, &ProtocolError{Type: m.Type, Err: ErrUnknownType}
	}
	body := make([]byte, n)
	body[0] = byte(m.Type)
	if m.Type.Nodeless() {
		binary.BigEndian.PutUint32(body[1:5], m.PresetID)
		return body, nil
	}
	if err := m.Address.Validate(); err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint16(body[1:3], m.Address.Node)
	body[3] = m.Address.VirtualDevice
	body[4] = byte(m.Address.Object >> 16)
	body[5] = byte(m.Address.Object >> 8)
	body[6] = byte(m.Address.Object)
	binary.BigEndian.PutUint16(body[7:9], m.Address.Parameter)
	if m.Type.HasValue() {
		binary.BigEndian.PutUint32(body[9:13], uint32(m.Value))
	}
	return body, nil
}

// Encode returns the complete wire frame for m.
func Encode(m Message) ([]byte, error) {
	body, err := Body(m)
	if err != nil {
		return nil, err
	}
	sum := Checksum(body)

	frame := make([]byte, 0, 2*len(body)+4)
	frame = append(frame, Start)
	frame = appendEscaped(frame, body)
	frame = appendEscaped(frame, []byte{sum})
	frame = append(frame, End)
	return frame, nil
}

// MustEncode is like Encode but panics on error. For fixed messages in tests
// and examples.
func MustEncode(m Message) []byte {
	frame, err := Encode(m)
	if err != nil {
		panic(fmt.Sprintf("wire: encode %s: %v", m, err))
	}
	return frame
}

// ParseBody decodes an unescaped body (without checksum) into a Message.
func ParseBody(body []byte) (Message, error) {
	if len(body) == 0 {
		return Message{}, &ProtocolError{Err: ErrShortFrame}
	}
	t := MessageType(body[0])
	want := t.bodyLen()
	if want == 0 {
		return Message{}, &ProtocolError{Type: t, Err: ErrUnknownType}
	}
	if len(body) != want {
		return Message{}, &ProtocolError{
			Type: t,
			Err:  fmt.Errorf("%w: got %d bytes, want %d", ErrBodyLength, len(body), want),
		}
	}

	m := Message{Type: t}
	if t.Nodeless() {
		m.PresetID = binary.BigEndian.Uint32(body[1:5])
		return m, nil
	}
	m.Address = Address{
		Node:          binary.BigEndian.Uint16(body[1:3]),
		VirtualDevice: body[3],
		Object:        uint32(body[4])<<16 | uint32(body[5])<<8 | uint32(body[6]),
		Parameter:     binary.BigEndian.Uint16(body[7:9]),
	}
	if t.HasValue() {
		m.Value = int32(binary.BigEndian.Uint32(body[9:13]))
	}
	return m, nil
}

// DecodeFrame decodes one delimited span, START and END included. Failures
// are reported on the returned Frame (Valid=false, Err set), never panicked.
func DecodeFrame(span []byte) Frame {
	if len(span) < 3 || span[0] != Start || span[len(span)-1] != End {
		return Frame{Err: &ProtocolError{Err: ErrShortFrame}}
	}
	inner := span[1 : len(span)-1]
	for _, b := range inner {
		if b == Start {
			return Frame{Err: &ProtocolError{Err: ErrStrayDelimiter}}
		}
	}

	payload, rest := Unescape(inner)
	if len(rest) > 0 {
		return Frame{Err: &ProtocolError{Err: ErrTruncatedEscape}}
	}
	if len(payload) < 2 {
		return Frame{Err: &ProtocolError{Err: ErrShortFrame}}
	}

	body := payload[:len(payload)-1]
	sum := payload[len(payload)-1]
	f := Frame{Checksum: sum}
	f.Type = MessageType(body[0])

	if Checksum(body) != sum {
		f.Err = &ProtocolError{
			Type: f.Type,
			Err:  fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrChecksumMismatch, sum, Checksum(body)),
		}
		return f
	}

	m, err := ParseBody(body)
	if err != nil {
		f.Err = err
		return f
	}
	f.Message = m
	f.Valid = true
	return f
}
