// Package hook is the in-process contract with the host agent runtime. The
// host pipes lifecycle events into the recorder as newline-delimited JSON,
// one object per line, and awaits each handler before emitting the next —
// the recorder never sees two events interleaved within one process.
package hook

import (
	"encoding/json"
	"fmt"
)

// EventType enumerates the lifecycle events the host runtime emits, plus the
// inline operator command channel.
type EventType string

const (
	SessionStart    EventType = "session_start"
	SessionShutdown EventType = "session_shutdown"
	AgentEnd        EventType = "agent_end"
	TurnStart       EventType = "turn_start"
	TurnEnd         EventType = "turn_end"
	ToolCall        EventType = "tool_call"
	ToolResult      EventType = "tool_result"
	Command         EventType = "command"
)

// Event is one lifecycle event from the host runtime. Fields beyond Type are
// populated per event kind.
type Event struct {
	Type            EventType       `json:"type"`
	Turn            int             `json:"turn,omitempty"`
	ToolResultCount int             `json:"toolResultCount,omitempty"`
	Tool            string          `json:"tool,omitempty"`
	ToolCallID      string          `json:"toolCallId,omitempty"`
	Input           json.RawMessage `json:"input,omitempty"`
	IsError         bool            `json:"isError,omitempty"`
	MessageCount    int             `json:"messageCount,omitempty"`
	Command         string          `json:"command,omitempty"`
}

// Parse decodes one NDJSON line into an Event.
func Parse(line []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(line, &e); err != nil {
		return Event{}, fmt.Errorf("parse hook event: %w", err)
	}
	if e.Type == "" {
		return Event{}, fmt.Errorf("hook event missing type: %s", line)
	}
	return e, nil
}

// PathFromInput extracts the edited file path from a tool input payload.
// Write/edit tools disagree on the key name, so both are accepted.
func PathFromInput(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var fields struct {
		Path     string `json:"path"`
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(input, &fields); err != nil {
		return ""
	}
	if fields.Path != "" {
		return fields.Path
	}
	return fields.FilePath
}
