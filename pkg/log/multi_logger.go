package log

// MultiLogger fans one event stream out to several loggers, typically
// a console adapter plus a FileLogger.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger wraps the given loggers. Order is preserved; every
// logger sees every event.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log hands the event to each wrapped logger in turn.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}

// Compile-time interface satisfaction check.
var _ Logger = (*MultiLogger)(nil)
