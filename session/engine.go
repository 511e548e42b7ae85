// Package session wires host lifecycle events to the audit trail, the
// checkpoint repository and the target-patch capturer. One Engine exists per
// agent process; events arrive one at a time and each handler runs to
// completion before the next, so the engine is effectively single-threaded.
// Every handler is fail-open: nothing here may raise a failure back into the
// host agent's execution loop.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/EmZod/pi-subagent-with-logging/config"
	"github.com/EmZod/pi-subagent-with-logging/config/auditlog"
	"github.com/EmZod/pi-subagent-with-logging/hook"
	"github.com/EmZod/pi-subagent-with-logging/log"
	"github.com/EmZod/pi-subagent-with-logging/session/git"
	"github.com/EmZod/pi-subagent-with-logging/session/patch"
)

// Engine is the per-process recorder core. It tracks running counters,
// maintains the enabled/disabled control state and forwards events to the
// audit writer, checkpoint manager and patch capturer.
type Engine struct {
	cfg      *config.Config
	audit    auditlog.Logger
	repo     *git.CheckpointRepo
	capturer *patch.Capturer
	runID    string

	mu       sync.Mutex
	enabled  bool
	turn     int
	counters auditlog.CounterSnapshot
}

// NewEngine builds the engine for one agent process. The enabled state
// starts from the configuration's kill-switch.
func NewEngine(cfg *config.Config, audit auditlog.Logger, repo *git.CheckpointRepo, capturer *patch.Capturer) *Engine {
	return &Engine{
		cfg:      cfg,
		audit:    audit,
		repo:     repo,
		capturer: capturer,
		runID:    uuid.NewString(),
		enabled:  !cfg.Disabled,
	}
}

// RunID returns the per-process run identifier.
func (e *Engine) RunID() string {
	return e.runID
}

// Enabled returns the current control state.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// Counters returns a snapshot of the running counters.
func (e *Engine) Counters() auditlog.CounterSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters
}

// HandleEvent dispatches one lifecycle event. It never fails: infrastructure
// problems become audit entries or diagnostic log lines.
func (e *Engine) HandleEvent(ev hook.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Type {
	case hook.SessionStart:
		e.handleSessionStart()
	case hook.TurnStart:
		e.handleTurnStart(ev)
	case hook.TurnEnd:
		e.handleTurnEnd(ev)
	case hook.ToolCall:
		e.handleToolCall(ev)
	case hook.ToolResult:
		e.handleToolResult(ev)
	case hook.AgentEnd:
		e.handleAgentEnd(ev)
	case hook.SessionShutdown:
		e.handleSessionShutdown()
	default:
		log.WarningLog.Printf("ignoring unknown hook event type %q", ev.Type)
	}
}

func (e *Engine) handleSessionStart() {
	// The one documented runtime re-read of the kill-switch.
	if e.cfg.KillSwitchEngaged() {
		e.enabled = false
	}
	if !e.enabled {
		return
	}

	e.repo.Ensure(e.turn)
	e.audit.Emit(auditlog.New(auditlog.EventSessionStart, e.cfg.AgentName, e.turn,
		auditlog.WithRunID(e.runID)))
	e.commit("session began")
	e.writeStatusSnapshot()
}

func (e *Engine) handleTurnStart(ev hook.Event) {
	// Counters reflect ground truth about what happened, not whether it
	// was recorded, so they move even while disabled.
	e.turn = ev.Turn
	e.counters.Turns++

	if !e.enabled {
		return
	}
	e.audit.Emit(auditlog.New(auditlog.EventTurnStart, e.cfg.AgentName, e.turn))
}

func (e *Engine) handleTurnEnd(ev hook.Event) {
	if ev.Turn != 0 {
		e.turn = ev.Turn
	}
	if !e.enabled {
		return
	}

	e.audit.Emit(auditlog.New(auditlog.EventTurnEnd, e.cfg.AgentName, e.turn,
		auditlog.WithToolResultCount(ev.ToolResultCount)))

	// Commits happen only at turn boundaries. Per-tool commits would grow
	// the timeline with tool-call volume; one checkpoint per unit of agent
	// thought is the useful rollback granularity.
	summary := "no tools"
	if ev.ToolResultCount > 0 {
		summary = fmt.Sprintf("%d tools", ev.ToolResultCount)
	}
	e.commit(fmt.Sprintf("turn %d: %s", e.turn, summary))
	e.writeStatusSnapshot()
}

func (e *Engine) handleToolCall(ev hook.Event) {
	e.counters.ToolCalls++

	if !e.enabled {
		return
	}
	e.audit.Emit(auditlog.New(auditlog.EventToolCall, e.cfg.AgentName, e.turn,
		auditlog.WithToolCall(ev.Tool, ev.ToolCallID),
		auditlog.WithInput(ev.Input)))
}

func (e *Engine) handleToolResult(ev hook.Event) {
	if !e.enabled {
		return
	}

	e.audit.Emit(auditlog.New(auditlog.EventToolResult, e.cfg.AgentName, e.turn,
		auditlog.WithToolCall(ev.Tool, ev.ToolCallID),
		auditlog.WithInput(ev.Input),
		auditlog.WithIsError(ev.IsError)))

	if !isWriteTool(ev.Tool) {
		return
	}
	path := hook.PathFromInput(ev.Input)
	if path == "" {
		return
	}

	c := patch.Classify(e.cfg.WorkspaceDir, e.cfg.TargetRepos, path)
	if c.Class == patch.ClassInternal {
		return
	}
	if e.capturer.Capture(c.Target, path, ev.Tool, e.turn) {
		e.counters.Patches++
	}
}

func (e *Engine) handleAgentEnd(ev hook.Event) {
	if !e.enabled {
		return
	}
	// No commit here: agent_end fires before the final turn boundary
	// completes, and an extra commit would scramble the timeline. The last
	// turn-boundary commit already captures terminal state.
	e.audit.Emit(auditlog.New(auditlog.EventAgentEnd, e.cfg.AgentName, e.turn,
		auditlog.WithMessageCount(ev.MessageCount),
		auditlog.WithCounters(e.counters)))
}

func (e *Engine) handleSessionShutdown() {
	if !e.enabled {
		return
	}
	e.audit.Emit(auditlog.New(auditlog.EventSessionShutdown, e.cfg.AgentName, e.turn,
		auditlog.WithRunID(e.runID),
		auditlog.WithCounters(e.counters)))
	e.writeStatusSnapshot()
}

// Enable re-enables recording at runtime.
func (e *Engine) Enable() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enabled {
		return
	}
	e.enabled = true
	e.audit.Emit(auditlog.New(auditlog.EventEnabled, e.cfg.AgentName, e.turn))
	e.writeStatusSnapshot()
}

// Disable suspends recording at runtime. The disable entry is written
// before suppression takes effect, so it is the last line in the audit log
// until re-enabled.
func (e *Engine) Disable() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.enabled {
		return
	}
	e.audit.Emit(auditlog.New(auditlog.EventDisabled, e.cfg.AgentName, e.turn))
	e.enabled = false
	e.writeStatusSnapshot()
}

// HandleCommand answers an operator command with a short human-readable
// reply. Commands never fail the host session.
func (e *Engine) HandleCommand(command string) string {
	switch strings.ToLower(strings.TrimSpace(command)) {
	case "status":
		return e.statusLine()
	case "enable":
		e.Enable()
		return "recording enabled"
	case "disable":
		e.Disable()
		return "recording disabled"
	case "stats":
		c := e.Counters()
		return fmt.Sprintf("commits=%d commit_failures=%d tool_calls=%d turns=%d patches=%d",
			c.Commits, c.CommitFailures, c.ToolCalls, c.Turns, c.Patches)
	case "history":
		history, err := e.repo.History(10)
		if err != nil {
			return fmt.Sprintf("history unavailable: %v", err)
		}
		return strings.Join(history, "\n")
	default:
		return fmt.Sprintf("unknown command %q (try status, enable, disable, stats, history)", command)
	}
}

func (e *Engine) statusLine() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := "enabled"
	if !e.enabled {
		state = "disabled"
	}
	return fmt.Sprintf("%s agent=%s turn=%d commits=%d patches=%d audit=%s",
		state, e.cfg.AgentName, e.turn, e.counters.Commits, e.counters.Patches, e.cfg.AuditPath())
}

// commit issues one checkpoint commit and moves the counters. Callers hold
// the mutex.
func (e *Engine) commit(message string) {
	committed, err := e.repo.Commit(message, e.turn)
	if err != nil {
		e.counters.CommitFailures++
		return
	}
	if committed {
		e.counters.Commits++
	}
}

// statusSnapshot is the poller-facing aggregate written to status.json.
type statusSnapshot struct {
	Agent     string                   `json:"agent"`
	RunID     string                   `json:"runId"`
	Enabled   bool                     `json:"enabled"`
	Turn      int                      `json:"turn"`
	Counters  auditlog.CounterSnapshot `json:"counters"`
	UpdatedAt int64                    `json:"updatedAt"`
}

// writeStatusSnapshot refreshes status.json via temp file and atomic
// rename: multiple dashboard processes may poll it concurrently and must
// never observe a half-written snapshot. Callers hold the mutex.
func (e *Engine) writeStatusSnapshot() {
	snap := statusSnapshot{
		Agent:     e.cfg.AgentName,
		RunID:     e.runID,
		Enabled:   e.enabled,
		Turn:      e.turn,
		Counters:  e.counters,
		UpdatedAt: time.Now().UnixMilli(),
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.ErrorLog.Printf("failed to marshal status snapshot: %v", err)
		return
	}

	dest := e.cfg.StatusPath()
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.ErrorLog.Printf("failed to write status snapshot: %v", err)
		return
	}
	if err := os.Rename(tmp, dest); err != nil {
		log.ErrorLog.Printf("failed to replace status snapshot: %v", err)
	}
}

// isWriteTool reports whether a tool result can have edited a file on disk.
func isWriteTool(tool string) bool {
	switch strings.ToLower(tool) {
	case "write", "edit":
		return true
	}
	return false
}
