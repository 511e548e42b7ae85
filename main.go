package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	cmd2 "github.com/EmZod/pi-subagent-with-logging/cmd"
	"github.com/EmZod/pi-subagent-with-logging/config"
	"github.com/EmZod/pi-subagent-with-logging/config/auditlog"
	"github.com/EmZod/pi-subagent-with-logging/hook"
	"github.com/EmZod/pi-subagent-with-logging/internal/sentry"
	"github.com/EmZod/pi-subagent-with-logging/log"
	"github.com/EmZod/pi-subagent-with-logging/session"
	"github.com/EmZod/pi-subagent-with-logging/session/git"
	"github.com/EmZod/pi-subagent-with-logging/session/patch"
)

var (
	version = "0.3.0"
	rootCmd = &cobra.Command{
		Use:   "pilog",
		Short: "pilog - Record agent sessions as audit logs and checkpoint history.",
		Long: `pilog observes one coding-agent session: the host runtime pipes lifecycle
events (NDJSON, one object per line) into stdin, and pilog turns them into an
append-only audit log plus a per-agent checkpoint repository. Control and
inspection subcommands operate on the recorded state from outside.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			if err := sentry.Init(version, cfg.IsTelemetryEnabled()); err != nil {
				// Non-fatal: sentry failure should not prevent startup
				_ = err
			}
			defer sentry.Flush()
			defer sentry.RecoverPanic()

			log.Initialize("", cfg.IsTelemetryEnabled())
			defer log.Close()

			// An unconfigured recorder still drains the event stream so
			// the host never blocks on a full pipe; it just records
			// nothing.
			if !cfg.Complete() {
				log.WarningLog.Printf("recorder unconfigured (%s/%s unset), running as no-op",
					config.EnvWorkspaceDir, config.EnvAgentName)
				return hook.Run(os.Stdin, os.Stdout, noopHandler{})
			}

			audit := buildAuditLogger(cfg)
			defer audit.Close()

			repo := git.NewCheckpointRepo(cfg.AgentDir(), cfg.AgentName, cfg.TargetBranch, audit)
			capturer := patch.NewCapturer(cfg.PatchDir(), cfg.AgentName, audit)
			engine := session.NewEngine(cfg, audit, repo, capturer)

			sentry.SetContext(cfg.AgentName, filepath.Base(cfg.WorkspaceDir), engine.Enabled())

			return hook.Run(os.Stdin, os.Stdout, engine)
		},
	}

	debugCmd = &cobra.Command{
		Use:   "debug",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			configJSON, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Printf("%s\n", configJSON)
			if cfg.Complete() {
				fmt.Printf("agent dir:  %s\naudit:      %s\npatches:    %s\n",
					cfg.AgentDir(), cfg.AuditPath(), cfg.PatchDir())
			}
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of pilog",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pilog version %s\n", version)
		},
	}
)

// buildAuditLogger wires the JSONL source of truth plus, when possible, the
// SQLite index used by the tail command. Index failures cost only the index.
func buildAuditLogger(cfg *config.Config) auditlog.Logger {
	jsonl := auditlog.NewJSONLLogger(cfg.AuditPath())

	if err := os.MkdirAll(cfg.AgentDir(), 0755); err != nil {
		log.WarningLog.Printf("failed to create agent directory: %v", err)
		return jsonl
	}
	index, err := auditlog.NewSQLiteLogger(cfg.AuditDBPath())
	if err != nil {
		log.WarningLog.Printf("audit index unavailable: %v", err)
		return jsonl
	}
	return auditlog.Multi(jsonl, index)
}

// noopHandler drains events for an unconfigured recorder.
type noopHandler struct{}

func (noopHandler) HandleEvent(_ hook.Event) {}

func (noopHandler) HandleCommand(command string) string {
	return fmt.Sprintf("recorder unconfigured, %q ignored", command)
}

func init() {
	for _, c := range cmd2.NewControlCmds() {
		rootCmd.AddCommand(c)
	}
	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
