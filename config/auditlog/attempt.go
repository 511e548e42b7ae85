package auditlog

import (
	"github.com/EmZod/pi-subagent-with-logging/log"
)

// Attempt is the fail-open boundary for infrastructure operations
// (version-control subprocesses, filesystem writes). It runs op and, on
// failure, records the prepared failure event with the error text attached
// plus a diagnostic log line, then reports false. Errors never cross this
// boundary: callers get a boolean and the audit trail gets the detail.
func Attempt(l Logger, failure Event, op func() error) bool {
	err := op()
	if err == nil {
		return true
	}
	failure.Detail = err.Error()
	l.Emit(failure)
	log.ErrorLog.Printf("%s: %v", failure.Kind, err)
	return false
}
