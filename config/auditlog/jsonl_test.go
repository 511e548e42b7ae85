package auditlog_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/EmZod/pi-subagent-with-logging/config/auditlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLLogger_AppendsOneLinePerEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l := auditlog.NewJSONLLogger(path)
	defer l.Close()

	l.Emit(auditlog.New(auditlog.EventSessionStart, "coder-1", 0))
	l.Emit(auditlog.New(auditlog.EventTurnStart, "coder-1", 1))
	l.Emit(auditlog.New(auditlog.EventTurnEnd, "coder-1", 1, auditlog.WithToolResultCount(2)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)

	// Each line is a complete JSON object; order matches emit order.
	kinds := make([]string, 0, len(lines))
	for _, line := range lines {
		var e auditlog.Event
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		kinds = append(kinds, string(e.Kind))
	}
	assert.Equal(t, []string{"session_start", "turn_start", "turn_end"}, kinds)
}

func TestJSONLLogger_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents", "coder-1", "audit.jsonl")
	l := auditlog.NewJSONLLogger(path)
	defer l.Close()

	l.Emit(auditlog.New(auditlog.EventSessionStart, "coder-1", 0))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestJSONLLogger_CallResultOrdering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l := auditlog.NewJSONLLogger(path)
	defer l.Close()

	for i := 0; i < 5; i++ {
		l.Emit(auditlog.New(auditlog.EventToolCall, "coder-1", 1, auditlog.WithToolCall("bash", "call-7")))
		l.Emit(auditlog.New(auditlog.EventToolResult, "coder-1", 1, auditlog.WithToolCall("bash", "call-7")))
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	expectCall := true
	for scanner.Scan() {
		var e auditlog.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		if expectCall {
			assert.Equal(t, auditlog.EventToolCall, e.Kind)
		} else {
			assert.Equal(t, auditlog.EventToolResult, e.Kind)
		}
		expectCall = !expectCall
	}
	require.NoError(t, scanner.Err())
}

func TestJSONLLogger_UnwritablePathDoesNotPanic(t *testing.T) {
	// A directory where the audit file should be makes the open fail.
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	require.NoError(t, os.MkdirAll(path, 0755))

	l := auditlog.NewJSONLLogger(path)
	defer l.Close()

	assert.NotPanics(t, func() {
		l.Emit(auditlog.New(auditlog.EventSessionStart, "coder-1", 0))
	})
}
