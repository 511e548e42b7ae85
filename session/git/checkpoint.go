// Package git owns the per-agent checkpoint repository. Each agent process
// gets its own repository rooted at its agent directory, wholly independent
// of any other agent's repository and of the workspace-root repository, so
// no cross-process locking is ever needed. Everything here is fail-open: a
// broken repository is reported through the audit trail and the agent keeps
// running.
package git

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"

	"github.com/EmZod/pi-subagent-with-logging/config/auditlog"
)

// errCommitFailed signals a failed checkpoint commit to the caller. The
// failure detail lives in the commit_error audit entry; callers only need
// to count the failure, never surface it.
var errCommitFailed = errors.New("checkpoint commit failed")

// gitignore rules written on repository creation. The audit artifacts are
// deliberately untracked: audit is a real-time stream, checkpoints are
// curated snapshots, and mixing them would make every commit dirty.
const checkpointIgnore = "audit.jsonl\naudit.db\naudit.db-journal\nstatus.json\n"

// CheckpointRepo manages the version-control repository for one agent
// directory. Commits are issued directly, with no internal queue: the agent
// owns its repository exclusively, so there is nothing to contend with.
type CheckpointRepo struct {
	agentDir    string
	agent       string
	branchLabel string
	audit       auditlog.Logger

	initialized bool
	initFailed  bool
}

// NewCheckpointRepo returns a manager for the repository rooted at agentDir.
// The repository itself is created lazily by Ensure.
func NewCheckpointRepo(agentDir, agent, branchLabel string, audit auditlog.Logger) *CheckpointRepo {
	return &CheckpointRepo{
		agentDir:    agentDir,
		agent:       agent,
		branchLabel: branchLabel,
		audit:       audit,
	}
}

// IsGitRepo reports whether path is the root of an existing git repository.
func IsGitRepo(path string) bool {
	_, err := gogit.PlainOpen(path)
	return err == nil
}

// Ensure idempotently creates the checkpoint repository. A pre-existing
// repository is detected and reused, never reinitialized. On creation it
// writes the audit exclusion rules and makes the initial "agent initialized"
// commit. Returns whether the repository is usable; it never returns an
// error. After a failed creation all subsequent commits become silent
// no-ops for the rest of the process — checkpoint infrastructure must never
// block the agent.
func (r *CheckpointRepo) Ensure(turn int) bool {
	if r.initialized {
		return true
	}
	if r.initFailed {
		return false
	}

	failure := auditlog.New(auditlog.EventGitInitError, r.agent, turn)
	if !auditlog.Attempt(r.audit, failure, func() error { return r.ensure(turn) }) {
		r.initFailed = true
		return false
	}
	r.initialized = true
	return true
}

func (r *CheckpointRepo) ensure(turn int) error {
	if err := os.MkdirAll(r.agentDir, 0755); err != nil {
		return fmt.Errorf("create agent directory: %w", err)
	}

	if IsGitRepo(r.agentDir) {
		r.audit.Emit(auditlog.New(auditlog.EventGitInit, r.agent, turn,
			auditlog.WithMessage("reusing existing checkpoint repository")))
		return nil
	}

	if _, err := r.runGitCommand("init"); err != nil {
		return fmt.Errorf("init checkpoint repository: %w", err)
	}

	// Commits must work on hosts with no global git identity.
	if _, err := r.runGitCommand("config", "user.name", "pilog"); err != nil {
		return fmt.Errorf("set committer name: %w", err)
	}
	if _, err := r.runGitCommand("config", "user.email", "pilog@localhost"); err != nil {
		return fmt.Errorf("set committer email: %w", err)
	}

	ignorePath := filepath.Join(r.agentDir, ".gitignore")
	if err := os.WriteFile(ignorePath, []byte(checkpointIgnore), 0644); err != nil {
		return fmt.Errorf("write audit exclusion rules: %w", err)
	}

	if _, err := r.runGitCommand("add", ".gitignore"); err != nil {
		return fmt.Errorf("stage exclusion rules: %w", err)
	}
	if _, err := r.runGitCommand("commit", "--allow-empty", "-m", "agent initialized"); err != nil {
		return fmt.Errorf("initial commit: %w", err)
	}

	r.audit.Emit(auditlog.New(auditlog.EventGitInit, r.agent, turn,
		auditlog.WithMessage("checkpoint repository created")))
	return nil
}

// Commit stages all changes in the agent directory and creates a checkpoint
// commit. Empty commits are allowed so turn boundaries with zero file
// changes still produce a timeline entry. When a target-branch label is
// configured it is appended to the message for cross-referencing. Returns
// whether a commit was actually made; a non-nil error only marks the
// attempt as failed, the detail is in the commit_error audit entry.
func (r *CheckpointRepo) Commit(message string, turn int) (bool, error) {
	if !r.Ensure(turn) {
		// Fail-open: a broken repository turns commits into no-ops.
		return false, nil
	}

	if r.branchLabel != "" {
		message = fmt.Sprintf("%s [%s]", message, r.branchLabel)
	}

	failure := auditlog.New(auditlog.EventCommitError, r.agent, turn)
	ok := auditlog.Attempt(r.audit, failure, func() error {
		if _, err := r.runGitCommand("add", "-A", "."); err != nil {
			return fmt.Errorf("stage changes: %w", err)
		}
		if _, err := r.runGitCommand("commit", "--allow-empty", "-m", message); err != nil {
			return fmt.Errorf("create checkpoint commit: %w", err)
		}
		return nil
	})
	if !ok {
		return false, errCommitFailed
	}
	return true, nil
}

// History returns the last n checkpoint commits, newest first, one
// "shortsha subject" line each.
func (r *CheckpointRepo) History(n int) ([]string, error) {
	if n <= 0 {
		n = 10
	}
	out, err := r.runGitCommand("log", "--oneline", "-n", fmt.Sprintf("%d", n))
	if err != nil {
		return nil, fmt.Errorf("read checkpoint history: %w", err)
	}
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// CommitCount returns the number of commits on the checkpoint timeline.
func (r *CheckpointRepo) CommitCount() (int, error) {
	out, err := r.runGitCommand("rev-list", "--count", "HEAD")
	if err != nil {
		return 0, fmt.Errorf("count checkpoint commits: %w", err)
	}
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(out), "%d", &n); err != nil {
		return 0, fmt.Errorf("parse commit count %q: %w", out, err)
	}
	return n, nil
}

// TrackedFiles lists the paths currently in the repository index. Used to
// verify the audit artifacts stay untracked.
func (r *CheckpointRepo) TrackedFiles() ([]string, error) {
	repo, err := gogit.PlainOpen(r.agentDir)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint repository: %w", err)
	}
	idx, err := repo.Storer.Index()
	if err != nil {
		return nil, fmt.Errorf("read repository index: %w", err)
	}
	var files []string
	for _, entry := range idx.Entries {
		files = append(files, entry.Name)
	}
	return files, nil
}

// AgentDir returns the repository root.
func (r *CheckpointRepo) AgentDir() string {
	return r.agentDir
}

func (r *CheckpointRepo) runGitCommand(args ...string) (string, error) {
	cmd := exec.Command("git", append([]string{"-C", r.agentDir}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %v: %s (%w)", args, strings.TrimSpace(string(out)), err)
	}
	return string(out), nil
}
