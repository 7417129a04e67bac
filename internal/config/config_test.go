package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxTerminals != 10 {
		t.Fatalf("expected default max terminals 10, got %d", cfg.MaxTerminals)
	}
	if cfg.Debounce() != 250*time.Millisecond {
		t.Fatalf("expected 250ms debounce, got %v", cfg.Debounce())
	}
	if cfg.SyncInterval() != 5*time.Minute {
		t.Fatalf("expected 300s sync interval, got %v", cfg.SyncInterval())
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loom.yaml")
	payload := `
max_terminals: 4
layout:
  default: grid
  grid_cols: 3
worktree:
  enabled: false
presets:
  editor:
    command: nvim
    title: Editor
`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxTerminals != 4 {
		t.Fatalf("expected 4, got %d", cfg.MaxTerminals)
	}
	if cfg.Layout.Default != "grid" || cfg.Layout.GridCols != 3 {
		t.Fatalf("layout not applied: %+v", cfg.Layout)
	}
	if cfg.Worktree.Enabled {
		t.Fatal("worktrees should be disabled")
	}
	preset, ok := cfg.Presets["editor"]
	if !ok || preset.Command != "nvim" {
		t.Fatalf("preset not loaded: %+v", cfg.Presets)
	}
	// Unset fields fall back to defaults.
	if cfg.ScrollbackLines != 10000 {
		t.Fatalf("expected default scrollback, got %d", cfg.ScrollbackLines)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loom.yaml")
	if err := os.WriteFile(path, []byte("max_terminals: 4\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("LOOM_MAX_TERMINALS", "7")
	t.Setenv("LOOM_LAYOUT", "spiral")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxTerminals != 7 {
		t.Fatalf("env should win, got %d", cfg.MaxTerminals)
	}
	if cfg.Layout.Default != "spiral" {
		t.Fatalf("env layout should win, got %s", cfg.Layout.Default)
	}
}
