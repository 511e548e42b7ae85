package session

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmZod/pi-subagent-with-logging/config"
	"github.com/EmZod/pi-subagent-with-logging/config/auditlog"
	"github.com/EmZod/pi-subagent-with-logging/hook"
	"github.com/EmZod/pi-subagent-with-logging/session/git"
	"github.com/EmZod/pi-subagent-with-logging/session/patch"
)

type captureLogger struct {
	events []auditlog.Event
}

func (c *captureLogger) Emit(e auditlog.Event) { c.events = append(c.events, e) }
func (c *captureLogger) Close() error          { return nil }

func (c *captureLogger) countKind(k auditlog.EventKind) int {
	n := 0
	for _, e := range c.events {
		if e.Kind == k {
			n++
		}
	}
	return n
}

func newTestEngine(t *testing.T, targetRepos []string) (*Engine, *config.Config, *captureLogger) {
	t.Helper()
	t.Setenv(config.EnvDisabled, "")

	cfg := &config.Config{
		WorkspaceDir: t.TempDir(),
		AgentName:    "coder-1",
		TargetRepos:  targetRepos,
	}
	audit := &captureLogger{}
	repo := git.NewCheckpointRepo(cfg.AgentDir(), cfg.AgentName, cfg.TargetBranch, audit)
	capturer := patch.NewCapturer(cfg.PatchDir(), cfg.AgentName, audit)
	return NewEngine(cfg, audit, repo, capturer), cfg, audit
}

func runTurn(e *Engine, turn, toolCalls int) {
	e.HandleEvent(hook.Event{Type: hook.TurnStart, Turn: turn})
	for i := 0; i < toolCalls; i++ {
		e.HandleEvent(hook.Event{Type: hook.ToolCall, Tool: "bash", ToolCallID: "c"})
		e.HandleEvent(hook.Event{Type: hook.ToolResult, Tool: "bash", ToolCallID: "c"})
	}
	e.HandleEvent(hook.Event{Type: hook.TurnEnd, Turn: turn, ToolResultCount: toolCalls})
}

func commitCount(t *testing.T, dir string) int {
	t.Helper()
	cmd := exec.Command("git", "-C", dir, "rev-list", "--count", "HEAD")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "rev-list: %s", out)
	n, err := strconv.Atoi(strings.TrimSpace(string(out)))
	require.NoError(t, err)
	return n
}

func TestEngine_CommitCadenceIsTurnBounded(t *testing.T) {
	e, cfg, _ := newTestEngine(t, nil)

	e.HandleEvent(hook.Event{Type: hook.SessionStart})
	// Wildly different tool volume per turn; commit count must not care.
	runTurn(e, 1, 0)
	runTurn(e, 2, 7)
	runTurn(e, 3, 1)
	e.HandleEvent(hook.Event{Type: hook.AgentEnd, MessageCount: 12})
	e.HandleEvent(hook.Event{Type: hook.SessionShutdown})

	// T turns + init + session-start.
	assert.Equal(t, 3+2, commitCount(t, cfg.AgentDir()))

	c := e.Counters()
	assert.Equal(t, 3, c.Turns)
	assert.Equal(t, 8, c.ToolCalls)
	assert.Equal(t, 4, c.Commits, "session-start commit plus one per turn")
	assert.Equal(t, 0, c.CommitFailures)
}

func TestEngine_WorkspaceRootRepoIsNeverTouched(t *testing.T) {
	e, cfg, _ := newTestEngine(t, nil)

	// The workspace root is itself a git repository.
	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@test.com"},
		{"config", "user.name", "test"},
		{"commit", "--allow-empty", "-m", "root"},
	} {
		cmd := exec.Command("git", append([]string{"-C", cfg.WorkspaceDir}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	e.HandleEvent(hook.Event{Type: hook.SessionStart})
	runTurn(e, 1, 2)

	assert.Equal(t, 1, commitCount(t, cfg.WorkspaceDir), "workspace-root repository must stay untouched")
	assert.Equal(t, 1+2, commitCount(t, cfg.AgentDir()))
}

func TestEngine_DisableSuppressesEnableResumes(t *testing.T) {
	e, cfg, audit := newTestEngine(t, nil)

	e.HandleEvent(hook.Event{Type: hook.SessionStart})
	runTurn(e, 1, 1)
	baselineEvents := len(audit.events)
	baselineCommits := commitCount(t, cfg.AgentDir())

	e.Disable()
	// The disable entry itself is the last thing written.
	assert.Equal(t, auditlog.EventDisabled, audit.events[len(audit.events)-1].Kind)
	disabledMark := len(audit.events)

	runTurn(e, 2, 3)
	assert.Len(t, audit.events, disabledMark, "no audit entries while disabled")
	assert.Equal(t, baselineCommits, commitCount(t, cfg.AgentDir()), "no commits while disabled")

	// Ground-truth counters still move.
	c := e.Counters()
	assert.Equal(t, 2, c.Turns)
	assert.Equal(t, 4, c.ToolCalls)

	e.Enable()
	runTurn(e, 3, 1)
	assert.Greater(t, len(audit.events), baselineEvents)
	assert.Equal(t, baselineCommits+1, commitCount(t, cfg.AgentDir()))
}

func TestEngine_CommitFailureIsCountedOnce(t *testing.T) {
	e, cfg, audit := newTestEngine(t, nil)

	e.HandleEvent(hook.Event{Type: hook.SessionStart})
	require.NoError(t, os.RemoveAll(filepath.Join(cfg.AgentDir(), ".git")))

	assert.NotPanics(t, func() {
		runTurn(e, 1, 1)
	})

	c := e.Counters()
	assert.Equal(t, 1, c.CommitFailures)
	assert.Equal(t, 1, audit.countKind(auditlog.EventCommitError))
}

func TestEngine_ExternalEditCapturesPatch(t *testing.T) {
	target := initEngineTargetRepo(t)
	e, cfg, audit := newTestEngine(t, []string{target})

	e.HandleEvent(hook.Event{Type: hook.SessionStart})
	e.HandleEvent(hook.Event{Type: hook.TurnStart, Turn: 1})

	edited := filepath.Join(target, "main.go")
	require.NoError(t, os.WriteFile(edited, []byte("package main // edited\n"), 0644))

	input, _ := json.Marshal(map[string]string{"path": edited})
	e.HandleEvent(hook.Event{Type: hook.ToolResult, Tool: "edit", ToolCallID: "c1", Input: input})

	assert.Equal(t, 1, e.Counters().Patches)
	assert.Equal(t, 1, audit.countKind(auditlog.EventPatchCaptured))
	assert.FileExists(t, filepath.Join(cfg.PatchDir(), filepath.Base(target), "turn-001-edit-1.patch"))
}

func TestEngine_InternalEditIsNotCaptured(t *testing.T) {
	e, cfg, audit := newTestEngine(t, nil)

	e.HandleEvent(hook.Event{Type: hook.SessionStart})
	e.HandleEvent(hook.Event{Type: hook.TurnStart, Turn: 1})

	inside := filepath.Join(cfg.WorkspaceDir, "notes.md")
	input, _ := json.Marshal(map[string]string{"file_path": inside})
	e.HandleEvent(hook.Event{Type: hook.ToolResult, Tool: "write", ToolCallID: "c1", Input: input})

	assert.Equal(t, 0, e.Counters().Patches)
	assert.Equal(t, 0, audit.countKind(auditlog.EventPatchCaptured))
	assert.Equal(t, 0, audit.countKind(auditlog.EventPatchError))
}

func TestEngine_NonWriteToolResultSkipsCapture(t *testing.T) {
	e, _, audit := newTestEngine(t, nil)

	e.HandleEvent(hook.Event{Type: hook.SessionStart})
	input, _ := json.Marshal(map[string]string{"path": "/somewhere/else.txt"})
	e.HandleEvent(hook.Event{Type: hook.ToolResult, Tool: "bash", ToolCallID: "c1", Input: input})

	assert.Equal(t, 0, audit.countKind(auditlog.EventPatchCaptured))
	assert.Equal(t, 0, audit.countKind(auditlog.EventPatchError))
}

func TestEngine_KillSwitchRecheckedAtSessionStart(t *testing.T) {
	e, cfg, audit := newTestEngine(t, nil)

	t.Setenv(config.EnvDisabled, "1")
	e.HandleEvent(hook.Event{Type: hook.SessionStart})

	assert.False(t, e.Enabled())
	assert.Empty(t, audit.events)
	assert.False(t, git.IsGitRepo(cfg.AgentDir()))
}

func TestEngine_ShutdownEmbedsCounterSnapshot(t *testing.T) {
	e, _, audit := newTestEngine(t, nil)

	e.HandleEvent(hook.Event{Type: hook.SessionStart})
	runTurn(e, 1, 2)
	e.HandleEvent(hook.Event{Type: hook.SessionShutdown})

	last := audit.events[len(audit.events)-1]
	require.Equal(t, auditlog.EventSessionShutdown, last.Kind)
	require.NotNil(t, last.Counters)
	assert.Equal(t, 2, last.Counters.ToolCalls)
	assert.Equal(t, 1, last.Counters.Turns)
	assert.Equal(t, e.RunID(), last.RunID)
}

func TestEngine_StatusSnapshotIsValidJSON(t *testing.T) {
	e, cfg, _ := newTestEngine(t, nil)

	e.HandleEvent(hook.Event{Type: hook.SessionStart})
	runTurn(e, 1, 0)

	data, err := os.ReadFile(cfg.StatusPath())
	require.NoError(t, err)

	var snap map[string]any
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, "coder-1", snap["agent"])
	assert.Equal(t, true, snap["enabled"])
}

func TestEngine_HandleCommand(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	e.HandleEvent(hook.Event{Type: hook.SessionStart})
	runTurn(e, 1, 2)

	assert.Contains(t, e.HandleCommand("status"), "enabled")
	assert.Contains(t, e.HandleCommand("status"), "agent=coder-1")
	assert.Contains(t, e.HandleCommand("stats"), "tool_calls=2")

	history := e.HandleCommand("history")
	assert.Contains(t, history, "turn 1: 2 tools")
	assert.Contains(t, history, "session began")
	assert.Contains(t, history, "agent initialized")

	assert.Equal(t, "recording disabled", e.HandleCommand("disable"))
	assert.Contains(t, e.HandleCommand("status"), "disabled")
	assert.Equal(t, "recording enabled", e.HandleCommand("enable"))

	assert.Contains(t, e.HandleCommand("bogus"), "unknown command")
}

// initEngineTargetRepo mirrors the patch package helper: a repository with
// one committed file.
func initEngineTargetRepo(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@test.com"},
		{"config", "user.name", "test"},
	} {
		cmd := exec.Command("git", append([]string{"-C", repo}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	require.NoError(t, os.WriteFile(filepath.Join(repo, "main.go"), []byte("package main\n"), 0644))
	cmd := exec.Command("git", "-C", repo, "add", ".")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git add: %s", out)
	cmd = exec.Command("git", "-C", repo, "commit", "-m", "initial")
	out, err = cmd.CombinedOutput()
	require.NoError(t, err, "git commit: %s", out)
	return repo
}
