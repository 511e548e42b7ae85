// Package log provides the process-wide diagnostic loggers. Diagnostics are
// deliberately separate from the audit trail: audit entries record what the
// engine observed about the agent, these loggers record problems inside the
// engine itself. Output goes to stderr so the host runtime captures it without
// any extra plumbing.
package log

import (
	"io"
	"log"
	"os"

	"github.com/EmZod/pi-subagent-with-logging/internal/sentry"
)

var (
	InfoLog    *log.Logger
	WarningLog *log.Logger
	ErrorLog   *log.Logger
)

var globalLogFile *os.File

func init() {
	// Safe defaults so packages can log before Initialize runs (tests, early
	// config loading).
	InfoLog = log.New(os.Stderr, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	WarningLog = log.New(os.Stderr, "WARNING: ", log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLog = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
}

// Initialize sets up the diagnostic loggers. When telemetry is enabled,
// warnings and errors are tee'd to sentry as breadcrumbs and events. When
// logFilePath is non-empty the loggers additionally append to that file, so a
// detached run keeps its diagnostics even if the host discards stderr.
func Initialize(logFilePath string, telemetry bool) {
	var base io.Writer = os.Stderr

	if logFilePath != "" {
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			ErrorLog.Printf("failed to open log file %s: %v", logFilePath, err)
		} else {
			globalLogFile = f
			base = io.MultiWriter(os.Stderr, f)
		}
	}

	infoWriter := base
	warnWriter := base
	errorWriter := base
	if telemetry {
		infoWriter = sentry.NewWriter(base, sentry.LevelInfo)
		warnWriter = sentry.NewWriter(base, sentry.LevelWarning)
		errorWriter = sentry.NewWriter(base, sentry.LevelError)
	}

	InfoLog = log.New(infoWriter, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	WarningLog = log.New(warnWriter, "WARNING: ", log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLog = log.New(errorWriter, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
}

// Close releases the log file, if one was opened.
func Close() {
	if globalLogFile != nil {
		_ = globalLogFile.Close()
		globalLogFile = nil
	}
}
