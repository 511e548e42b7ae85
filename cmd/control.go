// Package cmd implements the operator-facing control commands. Each command
// inspects or toggles recorder state from outside the agent process; none of
// them can fail a running host session. The execute* helpers are separated
// from cobra plumbing so they can be tested directly.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/EmZod/pi-subagent-with-logging/config"
	"github.com/EmZod/pi-subagent-with-logging/config/auditlog"
	"github.com/EmZod/pi-subagent-with-logging/session/git"
)

// agentStatus mirrors the engine's status.json snapshot.
type agentStatus struct {
	Agent     string                   `json:"agent"`
	RunID     string                   `json:"runId"`
	Enabled   bool                     `json:"enabled"`
	Turn      int                      `json:"turn"`
	Counters  auditlog.CounterSnapshot `json:"counters"`
	UpdatedAt int64                    `json:"updatedAt"`
}

// executeStatus reports the recorder state for every agent under the
// workspace, or for the configured agent only when one is set.
func executeStatus(cfg *config.Config) string {
	var sb strings.Builder

	killSwitch := "off"
	if cfg.KillSwitchEngaged() {
		killSwitch = "ON"
	}
	fmt.Fprintf(&sb, "workspace: %s\nkill-switch: %s\n", cfg.WorkspaceDir, killSwitch)

	for _, agent := range statusAgents(cfg) {
		snap, err := readAgentStatus(cfg.WorkspaceDir, agent)
		if err != nil {
			fmt.Fprintf(&sb, "%-20s no status recorded\n", agent)
			continue
		}
		state := "enabled"
		if !snap.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&sb, "%-20s %-8s turn=%-3d commits=%-3d failures=%-2d tools=%-4d patches=%d\n",
			agent, state, snap.Turn, snap.Counters.Commits, snap.Counters.CommitFailures,
			snap.Counters.ToolCalls, snap.Counters.Patches)
	}
	return sb.String()
}

// executeHistory returns the last n checkpoint commits for one agent.
func executeHistory(cfg *config.Config, agent string, n int) (string, error) {
	agentDir := filepath.Join(cfg.WorkspaceDir, "agents", agent)
	if !git.IsGitRepo(agentDir) {
		return "", fmt.Errorf("no checkpoint repository for agent %q at %s", agent, agentDir)
	}
	repo := git.NewCheckpointRepo(agentDir, agent, "", auditlog.NopLogger())
	history, err := repo.History(n)
	if err != nil {
		return "", err
	}
	return strings.Join(history, "\n"), nil
}

// executeStats dumps the counter snapshot for one agent.
func executeStats(cfg *config.Config, agent string) (string, error) {
	snap, err := readAgentStatus(cfg.WorkspaceDir, agent)
	if err != nil {
		return "", fmt.Errorf("no status recorded for agent %q: %w", agent, err)
	}
	return fmt.Sprintf(
		"agent:           %s\nrun:             %s\nturns:           %d\ntool calls:      %d\ncommits:         %d\ncommit failures: %d\npatches:         %d",
		snap.Agent, snap.RunID, snap.Counters.Turns, snap.Counters.ToolCalls,
		snap.Counters.Commits, snap.Counters.CommitFailures, snap.Counters.Patches), nil
}

// executeTail prints recent audit entries for one agent from the SQLite
// index, optionally filtered by event kind.
func executeTail(cfg *config.Config, agent, kind string, limit int) (string, error) {
	dbPath := filepath.Join(cfg.WorkspaceDir, "agents", agent, config.AuditDBFileName)
	if _, err := os.Stat(dbPath); err != nil {
		return "", fmt.Errorf("no audit index for agent %q: %w", agent, err)
	}

	index, err := auditlog.NewSQLiteLogger(dbPath)
	if err != nil {
		return "", err
	}
	defer index.Close()

	filter := auditlog.QueryFilter{Agent: agent, Limit: limit}
	if kind != "" {
		filter.Kinds = []auditlog.EventKind{auditlog.EventKind(kind)}
	}
	events, err := index.Query(filter)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, e := range events {
		fmt.Fprintf(&sb, "%d %-18s turn=%-3d", e.Timestamp, e.Kind, e.Turn)
		if e.Tool != "" {
			fmt.Fprintf(&sb, " tool=%s", e.Tool)
		}
		if e.PatchFile != "" {
			fmt.Fprintf(&sb, " patch=%s", e.PatchFile)
		}
		if e.Detail != "" {
			fmt.Fprintf(&sb, " detail=%q", e.Detail)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// executeEnable removes the workspace kill-switch marker. Sessions starting
// afterwards record normally; running sessions are toggled through the hook
// command channel instead.
func executeEnable(cfg *config.Config) (string, error) {
	if err := os.Remove(cfg.DisableMarkerPath()); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("remove kill-switch marker: %w", err)
	}
	return "recording enabled for new sessions", nil
}

// executeDisable creates the workspace kill-switch marker.
func executeDisable(cfg *config.Config) (string, error) {
	if err := os.MkdirAll(cfg.WorkspaceDir, 0755); err != nil {
		return "", fmt.Errorf("create workspace directory: %w", err)
	}
	if err := os.WriteFile(cfg.DisableMarkerPath(), []byte{}, 0644); err != nil {
		return "", fmt.Errorf("write kill-switch marker: %w", err)
	}
	return "recording disabled for new sessions", nil
}

// statusAgents lists the agents to report on: the configured one, or every
// agent directory under the workspace.
func statusAgents(cfg *config.Config) []string {
	if cfg.AgentName != "" {
		return []string{cfg.AgentName}
	}
	entries, err := os.ReadDir(filepath.Join(cfg.WorkspaceDir, "agents"))
	if err != nil {
		return nil
	}
	var agents []string
	for _, entry := range entries {
		if entry.IsDir() {
			agents = append(agents, entry.Name())
		}
	}
	sort.Strings(agents)
	return agents
}

func readAgentStatus(workspaceDir, agent string) (*agentStatus, error) {
	data, err := os.ReadFile(filepath.Join(workspaceDir, "agents", agent, "status.json"))
	if err != nil {
		return nil, err
	}
	var snap agentStatus
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse status snapshot: %w", err)
	}
	return &snap, nil
}

// requireWorkspace validates that a workspace was configured via environment
// or flag before a command runs.
func requireWorkspace(cfg *config.Config) error {
	if cfg.WorkspaceDir == "" {
		return fmt.Errorf("no workspace configured: set %s or pass --workspace", config.EnvWorkspaceDir)
	}
	return nil
}

// resolveAgent picks the agent for single-agent commands: the flag wins,
// then the environment.
func resolveAgent(cfg *config.Config, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if cfg.AgentName != "" {
		return cfg.AgentName, nil
	}
	return "", fmt.Errorf("no agent specified: set %s or pass --agent", config.EnvAgentName)
}

// NewControlCmds returns the operator control commands for registration on
// the root command.
func NewControlCmds() []*cobra.Command {
	var workspaceFlag, agentFlag string

	withCommonFlags := func(c *cobra.Command) *cobra.Command {
		c.Flags().StringVar(&workspaceFlag, "workspace", "", "workspace root (defaults to "+config.EnvWorkspaceDir+")")
		c.Flags().StringVar(&agentFlag, "agent", "", "agent name (defaults to "+config.EnvAgentName+")")
		return c
	}

	loadCfg := func() *config.Config {
		cfg := config.Load()
		if workspaceFlag != "" {
			cfg.WorkspaceDir = workspaceFlag
		}
		return cfg
	}

	statusCmd := withCommonFlags(&cobra.Command{
		Use:   "status",
		Short: "Report recorder state and counters per agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadCfg()
			if err := requireWorkspace(cfg); err != nil {
				return err
			}
			if agentFlag != "" {
				cfg.AgentName = agentFlag
			}
			fmt.Print(executeStatus(cfg))
			return nil
		},
	})

	var historyN int
	historyCmd := withCommonFlags(&cobra.Command{
		Use:   "history",
		Short: "Show the last checkpoint commits for an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadCfg()
			if err := requireWorkspace(cfg); err != nil {
				return err
			}
			agent, err := resolveAgent(cfg, agentFlag)
			if err != nil {
				return err
			}
			out, err := executeHistory(cfg, agent, historyN)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	})
	historyCmd.Flags().IntVarP(&historyN, "count", "n", 10, "number of commits to show")

	statsCmd := withCommonFlags(&cobra.Command{
		Use:   "stats",
		Short: "Dump an agent's counter snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadCfg()
			if err := requireWorkspace(cfg); err != nil {
				return err
			}
			agent, err := resolveAgent(cfg, agentFlag)
			if err != nil {
				return err
			}
			out, err := executeStats(cfg, agent)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	})

	var tailKind string
	var tailLimit int
	tailCmd := withCommonFlags(&cobra.Command{
		Use:   "tail",
		Short: "Show recent audit entries for an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadCfg()
			if err := requireWorkspace(cfg); err != nil {
				return err
			}
			agent, err := resolveAgent(cfg, agentFlag)
			if err != nil {
				return err
			}
			out, err := executeTail(cfg, agent, tailKind, tailLimit)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	})
	tailCmd.Flags().StringVar(&tailKind, "kind", "", "filter by event kind")
	tailCmd.Flags().IntVarP(&tailLimit, "count", "n", 20, "number of entries to show")

	enableCmd := withCommonFlags(&cobra.Command{
		Use:   "enable",
		Short: "Clear the workspace kill-switch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadCfg()
			if err := requireWorkspace(cfg); err != nil {
				return err
			}
			out, err := executeEnable(cfg)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	})

	disableCmd := withCommonFlags(&cobra.Command{
		Use:   "disable",
		Short: "Engage the workspace kill-switch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadCfg()
			if err := requireWorkspace(cfg); err != nil {
				return err
			}
			out, err := executeDisable(cfg)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	})

	return []*cobra.Command{statusCmd, historyCmd, statsCmd, tailCmd, enableCmd, disableCmd}
}
