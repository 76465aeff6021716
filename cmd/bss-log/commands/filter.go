package commands

import (
	"fmt"
	"io"

	"github.com/buzzspeakerhire/bss-control-app/pkg/log"
)

// RunFilter copies matching events to a new capture file and returns how
// many were written.
func RunFilter(path, output string, filter log.Filter) (int, error) {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output logger: %w", err)
	}

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Close()
			return count, fmt.Errorf("failed to read event: %w", err)
		}
		logger.Log(event)
		count++
	}

	if n := logger.WriteErrors(); n > 0 {
		logger.Close()
		return count, fmt.Errorf("%d events could not be written to %s", n, output)
	}
	return count, logger.Close()
}
