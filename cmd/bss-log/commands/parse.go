// Package commands implements the bss-log CLI commands.
package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/buzzspeakerhire/bss-control-app/pkg/log"
)

// FilterOptions holds the filter flags shared by view, export and filter.
type FilterOptions struct {
	DeviceID  string
	ConnID    string
	Layer     string
	Direction string
	Category  string
	TimeStart string
	TimeEnd   string
}

// Build converts the flags into a log.Filter.
func (o FilterOptions) Build() (log.Filter, error) {
	filter := log.Filter{
		DeviceID:     o.DeviceID,
		ConnectionID: o.ConnID,
	}

	if o.Layer != "" {
		l, ok := log.ParseLayer(o.Layer)
		if !ok {
			return filter, fmt.Errorf("invalid layer: %s (must be transport, wire, or session)", o.Layer)
		}
		filter.Layer = &l
	}
	if o.Direction != "" {
		d, err := parseDirection(o.Direction)
		if err != nil {
			return filter, err
		}
		filter.Direction = &d
	}
	if o.Category != "" {
		c, err := parseCategory(o.Category)
		if err != nil {
			return filter, err
		}
		filter.Category = &c
	}
	if o.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, o.TimeStart)
		if err != nil {
			return filter, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if o.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, o.TimeEnd)
		if err != nil {
			return filter, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}
	return filter, nil
}

func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "control":
		return log.CategoryControl, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, control, state, or error)", s)
	}
}

// eventType returns a short label for the event payload.
func eventType(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.Message != nil:
		return event.Message.Type.String()
	case event.StateChange != nil:
		return "State"
	case event.Control != nil:
		return event.Control.Type.String()
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
