package log

import (
	"context"
	"encoding/hex"
	"log/slog"
)

// SlogAdapter writes capture events to an slog.Logger at debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter returns an adapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.DeviceID != "" {
		attrs = append(attrs, slog.String("device_id", event.DeviceID))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.String("frame", hex.EncodeToString(event.Frame.Data)),
		)
		if event.Frame.Truncated {
			attrs = append(attrs, slog.Bool("truncated", true))
		}
	case event.Message != nil:
		m := event.Message.WireMessage()
		attrs = append(attrs, slog.String("msg_type", m.Type.String()))
		if m.Type.Nodeless() {
			attrs = append(attrs, slog.Uint64("preset", uint64(m.PresetID)))
		} else {
			attrs = append(attrs, slog.String("address", m.Address.String()))
		}
		if m.Type.HasValue() {
			attrs = append(attrs, slog.Int64("value", int64(m.Value)))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Control != nil:
		attrs = append(attrs, slog.String("ctrl_type", event.Control.Type.String()))
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
