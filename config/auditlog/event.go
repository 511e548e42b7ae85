package auditlog

import (
	"encoding/json"
	"time"
)

// EventKind identifies the type of audit event. The set is closed: the
// dashboard and other readers switch on these strings.
type EventKind string

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Lifecycle events forwarded from the host runtime.
const (
	EventSessionStart    EventKind = "session_start"
	EventSessionShutdown EventKind = "session_shutdown"
	EventAgentEnd        EventKind = "agent_end"
	EventTurnStart       EventKind = "turn_start"
	EventTurnEnd         EventKind = "turn_end"
	EventToolCall        EventKind = "tool_call"
	EventToolResult      EventKind = "tool_result"
)

// Checkpoint repository events.
const (
	EventGitInit      EventKind = "git_init"
	EventGitInitError EventKind = "git_init_error"
	EventCommitError  EventKind = "commit_error"
)

// Target-patch events.
const (
	EventPatchCaptured EventKind = "patch_captured"
	EventPatchError    EventKind = "patch_error"
)

// Control events.
const (
	EventEnabled  EventKind = "enabled"
	EventDisabled EventKind = "disabled"
)

// CounterSnapshot is the engine's running counters, embedded in shutdown
// entries so the terminal state survives the process.
type CounterSnapshot struct {
	Commits        int `json:"commits"`
	CommitFailures int `json:"commitFailures"`
	ToolCalls      int `json:"toolCalls"`
	Turns          int `json:"turns"`
	Patches        int `json:"patches"`
}

// Event is a single audit log entry. Timestamp is milliseconds since epoch;
// entries are immutable once written.
type Event struct {
	Timestamp int64     `json:"timestamp"`
	Kind      EventKind `json:"eventKind"`
	Agent     string    `json:"agentId"`
	Turn      int       `json:"turnIndex"`

	Tool            string           `json:"tool,omitempty"`
	ToolCallID      string           `json:"toolCallId,omitempty"`
	Input           json.RawMessage  `json:"input,omitempty"`
	IsError         bool             `json:"isError,omitempty"`
	Message         string           `json:"message,omitempty"`
	MessageCount    int              `json:"messageCount,omitempty"`
	ToolResultCount int              `json:"toolResultCount,omitempty"`
	PatchFile       string           `json:"patchFile,omitempty"`
	Target          string           `json:"target,omitempty"`
	RunID           string           `json:"runId,omitempty"`
	Detail          string           `json:"detail,omitempty"`
	Counters        *CounterSnapshot `json:"counters,omitempty"`
}

// New constructs an event stamped with the current time.
func New(kind EventKind, agent string, turn int, opts ...EventOption) Event {
	e := Event{
		Timestamp: time.Now().UnixMilli(),
		Kind:      kind,
		Agent:     agent,
		Turn:      turn,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// EventOption is a functional option for configuring optional Event fields.
type EventOption func(*Event)

// WithTool sets the tool name on the event.
func WithTool(tool string) EventOption {
	return func(e *Event) { e.Tool = tool }
}

// WithToolCall sets the tool name and tool call identifier.
func WithToolCall(tool, callID string) EventOption {
	return func(e *Event) {
		e.Tool = tool
		e.ToolCallID = callID
	}
}

// WithInput attaches the raw tool input payload.
func WithInput(input json.RawMessage) EventOption {
	return func(e *Event) { e.Input = input }
}

// WithIsError flags the event as describing a failed tool result.
func WithIsError(isError bool) EventOption {
	return func(e *Event) { e.IsError = isError }
}

// WithMessage sets a free-form message on the event.
func WithMessage(msg string) EventOption {
	return func(e *Event) { e.Message = msg }
}

// WithMessageCount sets the conversation message count (agent_end).
func WithMessageCount(n int) EventOption {
	return func(e *Event) { e.MessageCount = n }
}

// WithToolResultCount sets the per-turn tool result count (turn_end).
func WithToolResultCount(n int) EventOption {
	return func(e *Event) { e.ToolResultCount = n }
}

// WithPatch references a captured patch file and its target repository.
func WithPatch(target, patchFile string) EventOption {
	return func(e *Event) {
		e.Target = target
		e.PatchFile = patchFile
	}
}

// WithRunID tags the event with the per-process run identifier.
func WithRunID(runID string) EventOption {
	return func(e *Event) { e.RunID = runID }
}

// WithDetail sets the Detail field on the event (failure text, extra data).
func WithDetail(detail string) EventOption {
	return func(e *Event) { e.Detail = detail }
}

// WithCounters embeds a counter snapshot in the event.
func WithCounters(c CounterSnapshot) EventOption {
	return func(e *Event) { e.Counters = &c }
}
