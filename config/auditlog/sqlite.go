package auditlog

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register sqlite driver
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id           INTEGER PRIMARY KEY,
	kind         TEXT    NOT NULL,
	timestamp_ms INTEGER NOT NULL,
	agent        TEXT    NOT NULL DEFAULT '',
	turn         INTEGER NOT NULL DEFAULT 0,
	tool         TEXT    NOT NULL DEFAULT '',
	tool_call_id TEXT    NOT NULL DEFAULT '',
	is_error     INTEGER NOT NULL DEFAULT 0,
	message      TEXT    NOT NULL DEFAULT '',
	target       TEXT    NOT NULL DEFAULT '',
	patch_file   TEXT    NOT NULL DEFAULT '',
	run_id       TEXT    NOT NULL DEFAULT '',
	detail       TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_agent_ts ON audit_events(agent, timestamp_ms DESC);
CREATE INDEX IF NOT EXISTS idx_audit_kind ON audit_events(kind, timestamp_ms DESC);
`

const maxQueryLimit = 500

// QueryFilter specifies criteria for querying indexed audit events.
type QueryFilter struct {
	Agent  string
	Tool   string
	Kinds  []EventKind
	Turn   int // match a specific turn when > 0
	Limit  int
	Before time.Time
	After  time.Time
}

// SQLiteLogger is an audit backend indexing events in a SQLite database.
// It exists for the read side (tail/stats filtering); the JSONL file stays
// the source of truth.
type SQLiteLogger struct {
	db *sql.DB
}

// NewSQLiteLogger opens (or creates) a SQLite database at dbPath, runs the
// audit_events schema, and returns a ready-to-use logger.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteLogger(dbPath string) (*SQLiteLogger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db for audit index: %w", err)
	}

	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run audit index schema: %w", err)
	}

	return &SQLiteLogger{db: db}, nil
}

// Emit inserts an audit event into the index. If the event's Timestamp is
// zero, it is set to now. Insert failures are ignored: the index is an
// auxiliary artifact and must never fail the caller.
func (l *SQLiteLogger) Emit(e Event) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}

	const q = `
		INSERT INTO audit_events
			(kind, timestamp_ms, agent, turn, tool, tool_call_id, is_error,
			 message, target, patch_file, run_id, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, _ = l.db.Exec(q,
		string(e.Kind),
		e.Timestamp,
		e.Agent,
		e.Turn,
		e.Tool,
		e.ToolCallID,
		boolInt(e.IsError),
		e.Message,
		e.Target,
		e.PatchFile,
		e.RunID,
		e.Detail,
	)
}

// Query returns events matching the filter, ordered newest-first.
// Limit is capped at 500.
func (l *SQLiteLogger) Query(f QueryFilter) ([]Event, error) {
	limit := f.Limit
	if limit <= 0 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	var conditions []string
	var args []any

	if f.Agent != "" {
		conditions = append(conditions, "agent = ?")
		args = append(args, f.Agent)
	}
	if f.Tool != "" {
		conditions = append(conditions, "tool = ?")
		args = append(args, f.Tool)
	}
	if f.Turn > 0 {
		conditions = append(conditions, "turn = ?")
		args = append(args, f.Turn)
	}
	if len(f.Kinds) > 0 {
		placeholders := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			placeholders[i] = "?"
			args = append(args, string(k))
		}
		conditions = append(conditions, "kind IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !f.After.IsZero() {
		conditions = append(conditions, "timestamp_ms > ?")
		args = append(args, f.After.UnixMilli())
	}
	if !f.Before.IsZero() {
		conditions = append(conditions, "timestamp_ms < ?")
		args = append(args, f.Before.UnixMilli())
	}

	q := `
		SELECT id, kind, timestamp_ms, agent, turn, tool, tool_call_id,
		       is_error, message, target, patch_file, run_id, detail
		FROM audit_events
	`
	if len(conditions) > 0 {
		q += " WHERE " + strings.Join(conditions, " AND ")
	}
	q += fmt.Sprintf(" ORDER BY timestamp_ms DESC, id DESC LIMIT %d", limit)

	rows, err := l.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var id int64
		var isError int
		if err := rows.Scan(
			&id,
			(*string)(&e.Kind),
			&e.Timestamp,
			&e.Agent,
			&e.Turn,
			&e.Tool,
			&e.ToolCallID,
			&isError,
			&e.Message,
			&e.Target,
			&e.PatchFile,
			&e.RunID,
			&e.Detail,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.IsError = isError != 0
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// Close releases the database connection.
func (l *SQLiteLogger) Close() error {
	return l.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
