package auditlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/EmZod/pi-subagent-with-logging/log"
)

// JSONLLogger appends newline-delimited JSON events to a single file. The
// file is append-only and never rewritten or compacted; readers must treat
// it as a stream of complete lines.
type JSONLLogger struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// NewJSONLLogger creates a logger that appends to path. Parent directories
// are created lazily on the first Emit, not here, so constructing a logger
// for a not-yet-materialized agent directory is free.
func NewJSONLLogger(path string) *JSONLLogger {
	return &JSONLLogger{path: path}
}

// Path returns the audit file path.
func (l *JSONLLogger) Path() string {
	return l.path
}

// Emit appends one event as a single JSON line. Any I/O failure is reported
// to the diagnostic log and swallowed: within one agent process all calls
// happen on a single logical thread of control, so entries land in call
// order; nothing here may abort the caller.
func (l *JSONLLogger) Emit(e Event) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(e)
	if err != nil {
		log.ErrorLog.Printf("failed to marshal audit event %s: %v", e.Kind, err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureFile(); err != nil {
		log.ErrorLog.Printf("failed to open audit log %s: %v", l.path, err)
		return
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		log.ErrorLog.Printf("failed to append audit event %s: %v", e.Kind, err)
	}
}

// Close releases the underlying file.
func (l *JSONLLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *JSONLLogger) ensureFile() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create audit directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open append-only: %w", err)
	}
	l.file = f
	return nil
}
