// Package config loads the optional project-level override file, layered
// underneath command-line flags: flags always win, the file only fills in
// what a flag didn't set.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the project config file's name, read from the repo root.
const FileName = ".codegraph.yaml"

// Config holds every user-overridable setting outside the CLI flags
// themselves.
type Config struct {
	// Ignore lists extra directory names, returned by ExtraIgnoreDirs.
	// Discovery and the watcher do not read it: both skip only the
	// built-in indexer.IgnoreDirs list.
	Ignore []string `yaml:"ignore"`

	// DebounceMS overrides the watcher's default debounce window.
	DebounceMS *int `yaml:"debounce_ms"`

	// StaleHours overrides the freshness check's staleness threshold.
	StaleHours *int `yaml:"stale_hours"`
}

// Default returns a Config with every field unset, so effective lookups
// fall back to their built-in defaults.
func Default() *Config {
	return &Config{}
}

// Load reads FileName from repoRoot. A missing file or invalid YAML both
// yield the default config rather than an error — project config is
// optional, never load-bearing.
func Load(repoRoot string) *Config {
	data, err := os.ReadFile(filepath.Join(repoRoot, FileName))
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return Default()
	}
	return cfg
}

// EffectiveDebounceMS returns the configured debounce window, or fallback
// if the config doesn't set one.
func (c *Config) EffectiveDebounceMS(fallback int) int {
	if c.DebounceMS != nil {
		return *c.DebounceMS
	}
	return fallback
}

// EffectiveStaleHours returns the configured staleness threshold, or
// fallback if the config doesn't set one.
func (c *Config) EffectiveStaleHours(fallback int) int {
	if c.StaleHours != nil {
		return *c.StaleHours
	}
	return fallback
}

// ExtraIgnoreDirs returns the project-specific ignore list, or nil when
// none is configured.
func (c *Config) ExtraIgnoreDirs() []string {
	return c.Ignore
}

// Validate reports a descriptive error for a config file that parses as
// YAML but sets nonsensical values, so a typo surfaces at startup rather
// than silently degrading behavior later.
func (c *Config) Validate() error {
	if c.DebounceMS != nil && *c.DebounceMS < 0 {
		return fmt.Errorf("config: debounce_ms must be >= 0, got %d", *c.DebounceMS)
	}
	if c.StaleHours != nil && *c.StaleHours < 0 {
		return fmt.Errorf("config: stale_hours must be >= 0, got %d", *c.StaleHours)
	}
	return nil
}
