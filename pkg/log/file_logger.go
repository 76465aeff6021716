package log

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends CBOR-encoded events to a capture file.
type FileLogger struct {
	mu      sync.Mutex
	file    *os.File
	encoder *cbor.Encoder
	closed  bool
	errors  int
}

// NewFileLogger opens path for appending, creating it with mode 0644.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{file: f, encoder: NewEncoder(f)}, nil
}

// Log writes the event. Write errors are counted, not returned: capture must
// never disturb a session.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if err := l.encoder.Encode(event); err != nil {
		l.errors++
	}
}

// WriteErrors returns the number of events that failed to encode or write.
func (l *FileLogger) WriteErrors() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errors
}

// Close closes the file. Later Log calls are ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

var _ Logger = (*FileLogger)(nil)
