// Package auditlog emits the per-agent audit trail: one JSON object per
// lifecycle event, appended to the agent's audit.jsonl. The file is the
// source of truth for dashboards; an optional SQLite index serves filtered
// queries. Emit never fails the caller — the recorder favors losing an
// observability record over halting agent execution.
package auditlog

// Logger is the interface for emitting audit events.
type Logger interface {
	Emit(event Event)
	Close() error
}

// nopLogger is a no-op Logger used when the recorder is unconfigured.
type nopLogger struct{}

// NopLogger returns a Logger that discards all events.
func NopLogger() Logger {
	return &nopLogger{}
}

func (n *nopLogger) Emit(_ Event) {}

func (n *nopLogger) Close() error {
	return nil
}

// multiLogger fans one event out to several backends.
type multiLogger struct {
	loggers []Logger
}

// Multi returns a Logger that emits to every non-nil backend in order.
func Multi(loggers ...Logger) Logger {
	var active []Logger
	for _, l := range loggers {
		if l != nil {
			active = append(active, l)
		}
	}
	return &multiLogger{loggers: active}
}

func (m *multiLogger) Emit(e Event) {
	for _, l := range m.loggers {
		l.Emit(e)
	}
}

func (m *multiLogger) Close() error {
	var firstErr error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
