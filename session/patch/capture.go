package patch

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/EmZod/pi-subagent-with-logging/config/auditlog"
)

var toolNameSanitizer = regexp.MustCompile(`[^a-z0-9_-]+`)

// Capturer persists diff artifacts for classified external edits. The patch
// directory is shared across agents; files are partitioned by target
// repository and numbered by a per-process sequence counter.
type Capturer struct {
	patchDir string
	agent    string
	audit    auditlog.Logger
	seq      int
}

// NewCapturer returns a capturer writing under patchDir.
func NewCapturer(patchDir, agent string, audit auditlog.Logger) *Capturer {
	return &Capturer{patchDir: patchDir, agent: agent, audit: audit}
}

// Capture computes the unstaged diff of path against the target repository's
// HEAD and, if non-empty, persists it under
// {patchDir}/{repoShortName}/turn-{NNN}-{tool}-{seq}.patch. For the unknown
// bucket the diff runs in the edited file's own enclosing repository.
// Emits patch_captured or patch_error; never fails or blocks the caller.
// Returns whether a patch file was written.
func (c *Capturer) Capture(target, path, tool string, turn int) bool {
	diffDir := target
	shortName := filepath.Base(target)
	if target == UnknownTarget {
		diffDir = filepath.Dir(path)
		shortName = UnknownTarget
	}

	failure := auditlog.New(auditlog.EventPatchError, c.agent, turn,
		auditlog.WithTool(tool),
		auditlog.WithPatch(target, ""))

	var diff string
	ok := auditlog.Attempt(c.audit, failure, func() error {
		var err error
		diff, err = diffAgainstHead(diffDir, path)
		return err
	})
	if !ok {
		return false
	}
	if strings.TrimSpace(diff) == "" {
		return false
	}

	c.seq++
	name := fmt.Sprintf("turn-%03d-%s-%d.patch", turn, sanitizeToolName(tool), c.seq)
	destDir := filepath.Join(c.patchDir, shortName)
	dest := filepath.Join(destDir, name)

	ok = auditlog.Attempt(c.audit, failure, func() error {
		if err := os.MkdirAll(destDir, 0755); err != nil {
			return fmt.Errorf("create patch directory: %w", err)
		}
		if err := os.WriteFile(dest, []byte(diff), 0644); err != nil {
			return fmt.Errorf("write patch file: %w", err)
		}
		return nil
	})
	if !ok {
		return false
	}

	c.audit.Emit(auditlog.New(auditlog.EventPatchCaptured, c.agent, turn,
		auditlog.WithTool(tool),
		auditlog.WithPatch(target, dest)))
	return true
}

// diffAgainstHead returns the unstaged diff of a single file against the
// repository containing dir.
func diffAgainstHead(dir, path string) (string, error) {
	cmd := exec.Command("git", "-C", dir, "diff", "HEAD", "--", path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git diff HEAD -- %s: %s (%w)", path, strings.TrimSpace(string(out)), err)
	}
	return string(out), nil
}

func sanitizeToolName(tool string) string {
	tool = strings.ToLower(strings.TrimSpace(tool))
	tool = toolNameSanitizer.ReplaceAllString(tool, "-")
	if tool == "" {
		tool = "tool"
	}
	return tool
}
