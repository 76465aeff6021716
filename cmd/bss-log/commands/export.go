package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/buzzspeakerhire/bss-control-app/pkg/log"
)

// RunExport writes matching events as jsonl or csv.
func RunExport(path, format string, filter log.Filter, w io.Writer) error {
	if format != "jsonl" && format != "csv" {
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	if format == "jsonl" {
		return exportJSONL(reader, w)
	}
	return exportCSV(reader, w)
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"timestamp", "connection_id", "device_id", "direction", "layer", "category", "type", "address", "value"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		var addr, value string
		if event.Message != nil {
			m := event.Message.WireMessage()
			switch {
			case m.Type.Nodeless():
				value = strconv.FormatUint(uint64(m.PresetID), 10)
			case m.Type.HasValue():
				addr = m.Address.String()
				value = strconv.FormatInt(int64(m.Value), 10)
			default:
				addr = m.Address.String()
			}
		}

		row := []string{
			event.Timestamp.UTC().Format(timeLayout),
			event.ConnectionID,
			event.DeviceID,
			event.Direction.String(),
			event.Layer.String(),
			event.Category.String(),
			eventType(event),
			addr,
			value,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
}
