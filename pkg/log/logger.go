package log

// Logger receives protocol capture events. Sessions call Log from their
// read loop, so implementations must be safe for concurrent use and return
// quickly.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards all events.
type NoopLogger struct{}

func (NoopLogger) Log(Event) {}

// OrNoop returns l, or NoopLogger when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}

// MultiLogger fans each event out to several loggers in order.
type MultiLogger []Logger

// NewMultiLogger drops nil entries from loggers.
func NewMultiLogger(loggers ...Logger) MultiLogger {
	m := make(MultiLogger, 0, len(loggers))
	for _, l := range loggers {
		if l != nil {
			m = append(m, l)
		}
	}
	return m
}

func (m MultiLogger) Log(event Event) {
	for _, l := range m {
		l.Log(event)
	}
}

var (
	_ Logger = NoopLogger{}
	_ Logger = MultiLogger(nil)
)
