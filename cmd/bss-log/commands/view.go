package commands

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/buzzspeakerhire/bss-control-app/pkg/log"
)

const timeLayout = "2006-01-02T15:04:05.000000Z"

// RunView prints every matching event in human-readable form.
func RunView(path string, filter log.Filter, w io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(w, event)
	}
}

// formatEvent writes one event: a header line, then payload details.
func formatEvent(w io.Writer, event log.Event) {
	layer := event.Layer.String()
	if event.Category == log.CategoryControl {
		layer = "CTRL"
	}
	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s",
		event.Timestamp.UTC().Format(timeLayout),
		shortenConnID(event.ConnectionID),
		event.Direction.String(), layer, eventType(event))
	if event.DeviceID != "" {
		fmt.Fprintf(w, " (%s)", event.DeviceID)
	}
	fmt.Fprintln(w)

	switch {
	case event.Frame != nil:
		fmt.Fprintf(w, "  Size: %d bytes\n", event.Frame.Size)
		if len(event.Frame.Data) > 0 {
			fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(event.Frame.Data))
			if event.Frame.Truncated {
				fmt.Fprint(w, " (truncated)")
			}
			fmt.Fprintln(w)
		}
	case event.Message != nil:
		m := event.Message.WireMessage()
		if m.Type.Nodeless() {
			fmt.Fprintf(w, "  Preset: %d\n", m.PresetID)
			break
		}
		fmt.Fprintf(w, "  Address: %s\n", m.Address)
		if m.Type.HasValue() {
			fmt.Fprintf(w, "  Value: %d\n", m.Value)
		}
	case event.StateChange != nil:
		sc := event.StateChange
		if sc.OldState != "" {
			fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
		} else {
			fmt.Fprintf(w, "  -> %s\n", sc.NewState)
		}
		if sc.Reason != "" {
			fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
		}
	case event.Error != nil:
		fmt.Fprintf(w, "  Layer: %s\n", event.Error.Layer)
		fmt.Fprintf(w, "  Message: %s\n", event.Error.Message)
		if event.Error.Context != "" {
			fmt.Fprintf(w, "  Context: %s\n", event.Error.Context)
		}
	}
	fmt.Fprintln(w)
}
