// Package patch detects edits to files outside the agent's workspace and
// records them as independent diff artifacts. Target repositories are the
// agent's actual task output; they are tracked via patches, never via
// checkpoint commits.
package patch

import (
	"path/filepath"
	"strings"
)

// UnknownTarget is the generic bucket for external edits when no target
// repositories were configured. Over-capturing beats silently dropping
// changes an operator forgot to declare.
const UnknownTarget = "external"

// Class labels where an edited path lives relative to the session.
type Class int

const (
	// ClassInternal: inside the workspace, checkpoint commits cover it.
	ClassInternal Class = iota
	// ClassTarget: inside a configured target repository.
	ClassTarget
	// ClassUnknownExternal: outside the workspace with no targets declared.
	ClassUnknownExternal
)

// Classification is the result of classifying one edited path.
type Classification struct {
	Class Class
	// Target is the configured target-repository path for ClassTarget,
	// or UnknownTarget for ClassUnknownExternal.
	Target string
}

// Classify resolves path against the workspace and the configured target
// repositories. First matching target wins. A path that cannot be resolved
// is treated as internal so no capture is attempted on garbage input. With
// targets configured, an external path matching none of them is internal by
// the documented default.
func Classify(workspaceDir string, targetRepos []string, path string) Classification {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Classification{Class: ClassInternal}
	}
	absWorkspace, err := filepath.Abs(workspaceDir)
	if err != nil {
		return Classification{Class: ClassInternal}
	}

	if within(absWorkspace, abs) {
		return Classification{Class: ClassInternal}
	}

	for _, repo := range targetRepos {
		absRepo, err := filepath.Abs(repo)
		if err != nil {
			continue
		}
		if within(absRepo, abs) {
			return Classification{Class: ClassTarget, Target: repo}
		}
	}

	if len(targetRepos) == 0 {
		return Classification{Class: ClassUnknownExternal, Target: UnknownTarget}
	}
	return Classification{Class: ClassInternal}
}

// within reports whether child is parent or lives under parent, respecting
// path component boundaries ("/a/bc" is not within "/a/b").
func within(parent, child string) bool {
	if parent == child {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}
