package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/buzzspeakerhire/bss-control-app/pkg/log"
	"github.com/buzzspeakerhire/bss-control-app/pkg/wire"
)

// Stats holds aggregate statistics about a capture file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	MessagesByType    map[wire.MessageType]int
	Connections       map[string]*ConnectionStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for one connection.
type ConnectionStats struct {
	DeviceID   string
	FirstSeen  time.Time
	LastSeen   time.Time
	Events     int
	FramesIn   int
	FramesOut  int
	Acks       int
	Naks       int
	DecodeErrs int
}

// CollectStats reads the file and aggregates every event.
func CollectStats(path string) (*Stats, error) {
	reader, err := log.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		MessagesByType:    make(map[wire.MessageType]int),
		Connections:       make(map[string]*ConnectionStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	if event.HasDirection() {
		s.EventsByDirection[event.Direction]++
	}

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	conn, ok := s.Connections[event.ConnectionID]
	if !ok {
		conn = &ConnectionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
		s.Connections[event.ConnectionID] = conn
	}
	conn.Events++
	if event.Timestamp.After(conn.LastSeen) {
		conn.LastSeen = event.Timestamp
	}
	if conn.DeviceID == "" {
		conn.DeviceID = event.DeviceID
	}

	switch {
	case event.Frame != nil:
		if event.Direction == log.DirectionIn {
			conn.FramesIn++
		} else {
			conn.FramesOut++
		}
	case event.Message != nil:
		s.MessagesByType[event.Message.Type]++
	case event.Control != nil:
		if event.Control.Type == log.ControlACK {
			conn.Acks++
		} else {
			conn.Naks++
		}
	case event.Error != nil:
		s.Errors++
		if event.Error.Context == "decode" {
			conn.DecodeErrs++
		}
	}
}

// RunStats prints statistics about the file.
func RunStats(path string, w io.Writer) error {
	stats, err := CollectStats(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Protocol Capture Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerSession} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryControl, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.MessagesByType) > 0 {
		types := make([]wire.MessageType, 0, len(stats.MessagesByType))
		for t := range stats.MessagesByType {
			types = append(types, t)
		}
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
		fmt.Fprintln(w, "Messages by Type:")
		for _, t := range types {
			fmt.Fprintf(w, "  %-22s %d\n", t.String()+":", stats.MessagesByType[t])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	type connInfo struct {
		id    string
		stats *ConnectionStats
	}
	conns := make([]connInfo, 0, len(stats.Connections))
	for id, cs := range stats.Connections {
		conns = append(conns, connInfo{id, cs})
	}
	sort.Slice(conns, func(i, j int) bool {
		return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
	})
	for _, c := range conns {
		duration := c.stats.LastSeen.Sub(c.stats.FirstSeen).Round(time.Millisecond)
		fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenConnID(c.id), c.stats.Events, duration)
		if c.stats.DeviceID != "" {
			fmt.Fprintf(w, "           Device: %s\n", c.stats.DeviceID)
		}
		fmt.Fprintf(w, "           Frames: %d in, %d out\n", c.stats.FramesIn, c.stats.FramesOut)
		if c.stats.Acks+c.stats.Naks > 0 {
			fmt.Fprintf(w, "           ACK: %d  NAK: %d\n", c.stats.Acks, c.stats.Naks)
		}
		if c.stats.DecodeErrs > 0 {
			fmt.Fprintf(w, "           Dropped frames: %d\n", c.stats.DecodeErrs)
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
