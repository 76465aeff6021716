package log

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects capture events. Zero-valued fields match everything.
type Filter struct {
	DeviceID     string
	ConnectionID string
	Direction    *Direction
	Layer        *Layer
	Category     *Category

	// TimeStart is inclusive, TimeEnd exclusive.
	TimeStart *time.Time
	TimeEnd   *time.Time
}

// Match reports whether event passes the filter. State and error events
// carry no direction, so a direction filter excludes them.
func (f *Filter) Match(event Event) bool {
	switch {
	case f.DeviceID != "" && event.DeviceID != f.DeviceID:
		return false
	case f.ConnectionID != "" && event.ConnectionID != f.ConnectionID:
		return false
	case f.Direction != nil && (!event.HasDirection() || event.Direction != *f.Direction):
		return false
	case f.Layer != nil && event.Layer != *f.Layer:
		return false
	case f.Category != nil && event.Category != *f.Category:
		return false
	case f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart):
		return false
	case f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd):
		return false
	}
	return true
}

// Reader streams events from a capture file.
type Reader struct {
	closer  io.Closer
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader opens a capture file and reads every event.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens a capture file and reads events matching filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{closer: f, decoder: NewDecoder(f), filter: filter}, nil
}

// NewStreamReader reads events from r. Close does not close r.
func NewStreamReader(r io.Reader, filter Filter) *Reader {
	return &Reader{decoder: NewDecoder(r), filter: filter}
}

// Next returns the next matching event, or io.EOF at the end.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		if err := r.decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		if r.filter.Match(event) {
			return event, nil
		}
	}
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
