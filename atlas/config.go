package atlas

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSnapshotURL is the upstream corpus release consumed when no other
// source is configured.
const DefaultSnapshotURL = "https://raw.githubusercontent.com/mitre-atlas/atlas-data/main/dist/ATLAS.yaml"

// Config carries everything the service needs to run. Zero values fall
// back to working defaults via Normalize.
type Config struct {
	// SnapshotURL is where corpus snapshots are fetched from.
	SnapshotURL string `yaml:"snapshot_url"`
	// DBPath is the SQLite database file. Empty means in-memory.
	DBPath string `yaml:"db_path"`
	// FetchTimeout bounds one snapshot download.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// ResyncSchedule is a cron expression for the periodic staleness
	// recheck. Empty disables the scheduler.
	ResyncSchedule string `yaml:"resync_schedule"`
	// GitHubToken raises the code-host search quota when set.
	GitHubToken string `yaml:"github_token"`
	// NVDAPIKey raises the vulnerability database quota when set.
	NVDAPIKey string `yaml:"nvd_api_key"`
}

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	if c.SnapshotURL == "" {
		c.SnapshotURL = DefaultSnapshotURL
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 60 * time.Second
	}
	if c.ResyncSchedule == "" {
		c.ResyncSchedule = "@every 12h"
	}
}

// LoadConfigFile reads a YAML config. Fields absent from the file keep
// their zero value; call Normalize before use.
func LoadConfigFile(path string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
