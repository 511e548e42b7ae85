// Package config builds the immutable per-process session configuration for
// the recorder. Identity comes from the environment set by the agent launcher;
// optional settings can be layered from a pilog.toml in the workspace root.
// The struct is constructed once at process entry and handed to every
// component — nothing re-reads the environment afterwards except the one
// documented kill-switch check at session start.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/EmZod/pi-subagent-with-logging/log"
)

// Environment variables set by the launcher for each agent process.
const (
	EnvWorkspaceDir = "PI_WORKSPACE_DIR"
	EnvAgentName    = "PI_SUBAGENT_NAME"
	EnvTargetRepos  = "PI_TARGET_REPOS"
	EnvTargetBranch = "PI_TARGET_BRANCH"
	EnvDisabled     = "PI_CHECKPOINT_DISABLED"
)

// TOMLFileName is the optional per-workspace overlay file.
const TOMLFileName = "pilog.toml"

// DisableMarkerName is the workspace-level kill-switch marker created by
// `pilog disable`. Its presence disables recording for sessions that start
// while it exists.
const DisableMarkerName = "pilog.disabled"

// AuditFileName is the per-agent append-only audit log, relative to the
// agent directory. Deliberately excluded from the checkpoint repository.
const AuditFileName = "audit.jsonl"

// AuditDBFileName is the optional SQLite index next to the JSONL log.
const AuditDBFileName = "audit.db"

// Config is the immutable session configuration for one agent process.
type Config struct {
	// WorkspaceDir is the top-level directory under which all agent
	// subdirectories live. Required.
	WorkspaceDir string
	// AgentName identifies this agent process. Required.
	AgentName string
	// TargetRepos are version-controlled directories outside the workspace
	// that the agent may modify as its actual task output.
	TargetRepos []string
	// TargetBranch is an optional label appended to checkpoint commit
	// messages for cross-referencing with the external repository's branch.
	TargetBranch string
	// Disabled is the kill-switch: when true the recorder starts disabled.
	Disabled bool
	// TelemetryEnabled controls sentry crash reporting. Defaults to true.
	TelemetryEnabled *bool
}

// Load builds the configuration from the environment, then overlays the
// workspace's pilog.toml if present. Environment wins for identity fields
// (workspace, agent name); the overlay may supply target repos, branch label
// and flags when the environment leaves them unset.
func Load() *Config {
	cfg := &Config{
		WorkspaceDir: strings.TrimSpace(os.Getenv(EnvWorkspaceDir)),
		AgentName:    strings.TrimSpace(os.Getenv(EnvAgentName)),
		TargetRepos:  splitRepoList(os.Getenv(EnvTargetRepos)),
		TargetBranch: strings.TrimSpace(os.Getenv(EnvTargetBranch)),
		Disabled:     isTruthy(os.Getenv(EnvDisabled)),
	}
	if cfg.WorkspaceDir != "" && cfg.KillSwitchEngaged() {
		cfg.Disabled = true
	}

	if cfg.WorkspaceDir == "" {
		return cfg
	}

	overlay, err := LoadTOMLConfigFrom(filepath.Join(cfg.WorkspaceDir, TOMLFileName))
	if err != nil {
		log.WarningLog.Printf("failed to load %s: %v", TOMLFileName, err)
		return cfg
	}
	if overlay != nil {
		cfg.applyOverlay(overlay)
	}
	return cfg
}

// Complete reports whether the required identity fields are present. An
// incomplete configuration is not an error: the recorder becomes a silent
// no-op so a bare agent process still runs.
func (c *Config) Complete() bool {
	return c.WorkspaceDir != "" && c.AgentName != ""
}

// IsTelemetryEnabled returns whether sentry telemetry is enabled.
// Defaults to true when the field is not set.
func (c *Config) IsTelemetryEnabled() bool {
	if c.TelemetryEnabled == nil {
		return true
	}
	return *c.TelemetryEnabled
}

// AgentDir is the per-agent directory holding the checkpoint repository,
// audit log and output artifacts.
func (c *Config) AgentDir() string {
	return filepath.Join(c.WorkspaceDir, "agents", c.AgentName)
}

// AuditPath is the agent's append-only audit log file.
func (c *Config) AuditPath() string {
	return filepath.Join(c.AgentDir(), AuditFileName)
}

// AuditDBPath is the agent's optional SQLite audit index.
func (c *Config) AuditDBPath() string {
	return filepath.Join(c.AgentDir(), AuditDBFileName)
}

// PatchDir is the patch directory shared across agents. It records facts
// about external repositories, not per-agent checkpoint state, which is why
// it is not nested under the agent directory.
func (c *Config) PatchDir() string {
	return filepath.Join(c.WorkspaceDir, "target-patches")
}

// StatusPath is the atomically-replaced status snapshot consumed by pollers.
func (c *Config) StatusPath() string {
	return filepath.Join(c.AgentDir(), "status.json")
}

func (c *Config) applyOverlay(o *TOMLConfig) {
	if len(c.TargetRepos) == 0 && len(o.TargetRepos) > 0 {
		c.TargetRepos = o.TargetRepos
	}
	if c.TargetBranch == "" && o.TargetBranch != "" {
		c.TargetBranch = o.TargetBranch
	}
	if o.Disabled {
		c.Disabled = true
	}
	if o.TelemetryEnabled != nil {
		c.TelemetryEnabled = o.TelemetryEnabled
	}
}

func splitRepoList(raw string) []string {
	var repos []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			repos = append(repos, part)
		}
	}
	return repos
}

// DisableMarkerPath is the workspace-level kill-switch marker file.
func (c *Config) DisableMarkerPath() string {
	return filepath.Join(c.WorkspaceDir, DisableMarkerName)
}

// KillSwitchEngaged re-reads the kill-switch: the environment variable or
// the workspace marker file. This is the one documented runtime re-read,
// performed at session start.
func (c *Config) KillSwitchEngaged() bool {
	if isTruthy(os.Getenv(EnvDisabled)) {
		return true
	}
	if _, err := os.Stat(c.DisableMarkerPath()); err == nil {
		return true
	}
	return false
}

// isTruthy interprets boolean-like environment values. Anything other than
// the listed affirmatives is false, so an unset variable never disables.
func isTruthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
