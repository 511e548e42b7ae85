package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// TOMLConfig is the shape of the optional pilog.toml overlay placed in the
// workspace root by an operator.
//
//	target_repos = ["/srv/checkouts/backend", "/srv/checkouts/frontend"]
//	target_branch = "feature/auth-refactor"
//	disabled = false
//
//	[telemetry]
//	enabled = false
type TOMLConfig struct {
	TargetRepos  []string `toml:"target_repos,omitempty"`
	TargetBranch string   `toml:"target_branch,omitempty"`
	Disabled     bool     `toml:"disabled,omitempty"`
	Telemetry    struct {
		Enabled *bool `toml:"enabled,omitempty"`
	} `toml:"telemetry,omitempty"`

	// TelemetryEnabled mirrors Telemetry.Enabled for the overlay logic.
	TelemetryEnabled *bool `toml:"-"`
}

// LoadTOMLConfigFrom parses the overlay at path. A missing file is not an
// error and yields a nil config.
func LoadTOMLConfigFrom(path string) (*TOMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var tc TOMLConfig
	if err := toml.Unmarshal(data, &tc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	tc.TelemetryEnabled = tc.Telemetry.Enabled
	return &tc, nil
}
