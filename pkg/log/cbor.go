package log

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

var (
	captureEncMode cbor.EncMode
	captureDecMode cbor.DecMode
)

func init() {
	var err error

	// Deterministic output, nanosecond timestamps.
	captureEncMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("log: CBOR encoder mode: %v", err))
	}

	// Lenient on input so older capture files still read.
	captureDecMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("log: CBOR decoder mode: %v", err))
	}
}

// EncodeEvent encodes an event to CBOR.
func EncodeEvent(event Event) ([]byte, error) {
	return captureEncMode.Marshal(event)
}

// DecodeEvent decodes one CBOR-encoded event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := captureDecMode.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// NewEncoder returns a streaming event encoder writing to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return captureEncMode.NewEncoder(w)
}

// NewDecoder returns a streaming event decoder reading from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return captureDecMode.NewDecoder(r)
}
