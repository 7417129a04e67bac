// Package config loads workspace settings from a YAML file with LOOM_*
// environment overrides layered on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	MaxTerminals    int    `yaml:"max_terminals"`
	Shell           string `yaml:"shell"`
	ScrollbackLines int    `yaml:"scrollback_lines"`

	Layout LayoutConfig `yaml:"layout"`

	DebounceMS int `yaml:"debounce_ms"`

	Worktree WorktreeConfig `yaml:"worktree"`

	LogLevel string `yaml:"log_level"`

	// Presets map a name to the command a session runs, referenced from
	// the persisted workspace document.
	Presets map[string]Preset `yaml:"presets"`
}

type LayoutConfig struct {
	Default       string `yaml:"default"`
	GridCols      int    `yaml:"grid_cols"`
	MinPaneWidth  int    `yaml:"min_pane_width"`
	MinPaneHeight int    `yaml:"min_pane_height"`
}

type WorktreeConfig struct {
	Enabled      bool   `yaml:"enabled"`
	SyncSeconds  int    `yaml:"sync_seconds"`
	BranchPrefix string `yaml:"branch_prefix"`
	BaseBranch   string `yaml:"base_branch"`
}

type Preset struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Title   string   `yaml:"title"`
}

func Default() Config {
	return Config{
		MaxTerminals:    10,
		ScrollbackLines: 10000,
		Layout: LayoutConfig{
			Default:       "vertical",
			GridCols:      2,
			MinPaneWidth:  40,
			MinPaneHeight: 10,
		},
		DebounceMS: 250,
		Worktree: WorktreeConfig{
			Enabled:      true,
			SyncSeconds:  300,
			BranchPrefix: "loom/",
		},
		LogLevel: "info",
	}
}

// Load reads the config file if present, merges it over the defaults, and
// finally applies environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(payload, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := envInt("LOOM_MAX_TERMINALS"); ok {
		cfg.MaxTerminals = v
	}
	if v := os.Getenv("LOOM_SHELL"); v != "" {
		cfg.Shell = v
	}
	if v, ok := envInt("LOOM_SCROLLBACK_LINES"); ok {
		cfg.ScrollbackLines = v
	}
	if v := os.Getenv("LOOM_LAYOUT"); v != "" {
		cfg.Layout.Default = v
	}
	if v, ok := envInt("LOOM_DEBOUNCE_MS"); ok {
		cfg.DebounceMS = v
	}
	if v := os.Getenv("LOOM_WORKTREES"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Worktree.Enabled = enabled
		}
	}
	if v, ok := envInt("LOOM_SYNC_SECONDS"); ok {
		cfg.Worktree.SyncSeconds = v
	}
	if v := os.Getenv("LOOM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return value, true
}

func normalize(cfg *Config) {
	defaults := Default()
	if cfg.MaxTerminals <= 0 {
		cfg.MaxTerminals = defaults.MaxTerminals
	}
	if cfg.ScrollbackLines <= 0 {
		cfg.ScrollbackLines = defaults.ScrollbackLines
	}
	if cfg.Layout.Default == "" {
		cfg.Layout.Default = defaults.Layout.Default
	}
	if cfg.Layout.GridCols <= 0 {
		cfg.Layout.GridCols = defaults.Layout.GridCols
	}
	if cfg.Layout.MinPaneWidth <= 0 {
		cfg.Layout.MinPaneWidth = defaults.Layout.MinPaneWidth
	}
	if cfg.Layout.MinPaneHeight <= 0 {
		cfg.Layout.MinPaneHeight = defaults.Layout.MinPaneHeight
	}
	if cfg.DebounceMS <= 0 {
		cfg.DebounceMS = defaults.DebounceMS
	}
	if cfg.Worktree.SyncSeconds <= 0 {
		cfg.Worktree.SyncSeconds = defaults.Worktree.SyncSeconds
	}
	if cfg.Worktree.BranchPrefix == "" {
		cfg.Worktree.BranchPrefix = defaults.Worktree.BranchPrefix
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
}

func (c Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

func (c Config) SyncInterval() time.Duration {
	return time.Duration(c.Worktree.SyncSeconds) * time.Second
}
