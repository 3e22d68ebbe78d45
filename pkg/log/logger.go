package log

// Logger receives every diagnostic event the engine emits. Pass a
// NoopLogger to run silent.
type Logger interface {
	// Log records one event. Implementations must be safe for
	// concurrent use and must not block; the engine logs from its
	// routing path.
	Log(event Event)
}

// NoopLogger drops everything. The zero value is ready to use.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Compile-time interface satisfaction check.
var _ Logger = NoopLogger{}
