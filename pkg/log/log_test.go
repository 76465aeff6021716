package log

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/buzzspeakerhire/bss-control-app/pkg/wire"
)

type recordingLogger struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingLogger) Log(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func sampleEvents(base time.Time) []Event {
	addr := wire.Address{Node: 1, VirtualDevice: 3, Object: 0x010203, Parameter: 0}
	return []Event{
		{
			Timestamp:    base,
			ConnectionID: "conn-a",
			DeviceID:     "amp-1",
			Direction:    DirectionOut,
			Layer:        LayerTransport,
			Category:     CategoryMessage,
			Frame:        NewFrameEvent(wire.MustEncode(wire.SetRaw(addr, 100000))),
		},
		{
			Timestamp:    base.Add(time.Millisecond),
			ConnectionID: "conn-a",
			DeviceID:     "amp-1",
			Direction:    DirectionIn,
			Layer:        LayerWire,
			Category:     CategoryMessage,
			Message:      NewMessageEvent(wire.SetPercent(addr, 32768)),
		},
		{
			Timestamp:    base.Add(2 * time.Millisecond),
			ConnectionID: "conn-b",
			DeviceID:     "amp-2",
			Direction:    DirectionIn,
			Layer:        LayerWire,
			Category:     CategoryControl,
			Control:      &ControlEvent{Type: ControlNAK},
		},
		{
			Timestamp:    base.Add(3 * time.Millisecond),
			ConnectionID: "conn-b",
			DeviceID:     "amp-2",
			Layer:        LayerSession,
			Category:     CategoryState,
			StateChange:  &StateChangeEvent{OldState: "CONNECTED", NewState: "DISCONNECTED", Reason: "EOF"},
		},
	}
}

func TestEncodeDecodeEvent(t *testing.T) {
	for _, event := range sampleEvents(time.Unix(1700000000, 123456789)) {
		data, err := EncodeEvent(event)
		if err != nil {
			t.Fatalf("EncodeEvent: %v", err)
		}
		got, err := DecodeEvent(data)
		if err != nil {
			t.Fatalf("DecodeEvent: %v", err)
		}
		if !got.Timestamp.Equal(event.Timestamp) {
			t.Errorf("Timestamp = %v, want %v", got.Timestamp, event.Timestamp)
		}
		if got.DeviceID != event.DeviceID || got.Category != event.Category {
			t.Errorf("header mismatch: got %+v", got)
		}
		if event.Message != nil {
			if got.Message == nil || got.Message.WireMessage() != event.Message.WireMessage() {
				t.Errorf("Message = %+v, want %+v", got.Message, event.Message)
			}
		}
		if event.Frame != nil && !bytes.Equal(got.Frame.Data, event.Frame.Data) {
			t.Errorf("Frame.Data = %x, want %x", got.Frame.Data, event.Frame.Data)
		}
	}
}

func TestNewFrameEventTruncates(t *testing.T) {
	fe := NewFrameEvent(bytes.Repeat([]byte{0x41}, MaxFrameDataSize+10))
	if !fe.Truncated {
		t.Error("expected Truncated")
	}
	if len(fe.Data) != MaxFrameDataSize {
		t.Errorf("len(Data) = %d, want %d", len(fe.Data), MaxFrameDataSize)
	}
	if fe.Size != MaxFrameDataSize+10 {
		t.Errorf("Size = %d", fe.Size)
	}
}

func TestFileLoggerAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "venue.blog")
	fl, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	events := sampleEvents(time.Now())
	for _, e := range events {
		fl.Log(e)
	}
	if err := fl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	fl.Log(events[0]) // ignored after close

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	n := 0
	for {
		_, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		n++
	}
	if n != len(events) {
		t.Errorf("read %d events, want %d", n, len(events))
	}
	if fl.WriteErrors() != 0 {
		t.Errorf("WriteErrors = %d", fl.WriteErrors())
	}
}

func TestDirectionFilterSkipsStateAndErrors(t *testing.T) {
	events := sampleEvents(time.Now())
	state := events[3]
	linkErr := Event{Category: CategoryError, Layer: LayerTransport, Error: &ErrorEventData{Message: "reset"}}
	out := DirectionOut
	in := DirectionIn

	f := Filter{Direction: &in}
	if f.Match(state) {
		t.Error("state change matched an inbound filter")
	}
	if f.Match(linkErr) {
		t.Error("link error matched an inbound filter")
	}
	f = Filter{Direction: &out}
	if f.Match(events[1]) {
		t.Error("inbound message matched an outbound filter")
	}
	f = Filter{Direction: &in}
	if f.Match(events[0]) {
		t.Error("outbound frame matched an inbound filter")
	}
	if !f.Match(events[2]) {
		t.Error("inbound NAK excluded by an inbound filter")
	}
	if events[3].HasDirection() {
		t.Error("state change reports a direction")
	}
}

func TestFilteredReader(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	base := time.Now()
	for _, e := range sampleEvents(base) {
		if err := enc.Encode(e); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	wireLayer := LayerWire
	message := CategoryMessage
	in := DirectionIn
	out := DirectionOut
	end := base.Add(2 * time.Millisecond)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"device", Filter{DeviceID: "amp-2"}, 2},
		{"layer", Filter{Layer: &wireLayer}, 2},
		{"direction", Filter{Direction: &in}, 2},
		{"direction out", Filter{Direction: &out}, 1},
		{"inbound traffic", Filter{Direction: &in, Category: &message}, 1},
		{"time window", Filter{TimeEnd: &end}, 2},
		{"connection and layer", Filter{ConnectionID: "conn-a", Layer: &wireLayer}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewStreamReader(bytes.NewReader(buf.Bytes()), tt.filter)
			n := 0
			for {
				if _, err := r.Next(); err != nil {
					if err != io.EOF {
						t.Fatalf("Next: %v", err)
					}
					break
				}
				n++
			}
			if n != tt.want {
				t.Errorf("matched %d, want %d", n, tt.want)
			}
		})
	}
}

func TestMultiLogger(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	m := NewMultiLogger(a, nil, b)
	for _, e := range sampleEvents(time.Now()) {
		m.Log(e)
	}
	if len(a.events) != 4 || len(b.events) != 4 {
		t.Errorf("got %d and %d events, want 4 each", len(a.events), len(b.events))
	}
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	adapter := NewSlogAdapter(logger)

	adapter.Log(sampleEvents(time.Now())[1])

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if entry["msg_type"] != "SET_PERCENT" {
		t.Errorf("msg_type = %v", entry["msg_type"])
	}
	if entry["address"] != "0001.03.010203.0000" {
		t.Errorf("address = %v", entry["address"])
	}
	if entry["value"] != float64(32768) {
		t.Errorf("value = %v", entry["value"])
	}
	if entry["device_id"] != "amp-1" {
		t.Errorf("device_id = %v", entry["device_id"])
	}
}

func TestParseLayer(t *testing.T) {
	if l, ok := ParseLayer("wire"); !ok || l != LayerWire {
		t.Errorf("ParseLayer(wire) = %v, %v", l, ok)
	}
	if _, ok := ParseLayer("bogus"); ok {
		t.Error("ParseLayer(bogus) ok")
	}
	if OrNoop(nil) == nil {
		t.Error("OrNoop(nil) = nil")
	}
}
