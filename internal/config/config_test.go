package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Gateway.BaseURL == "" {
		t.Error("Gateway.BaseURL should not be empty")
	}
	if cfg.Gateway.Timeout != 30*time.Second {
		t.Errorf("Gateway.Timeout = %v, want 30s", cfg.Gateway.Timeout)
	}
	if cfg.Gateway.UserAgent == "" {
		t.Error("Gateway.UserAgent should not be empty")
	}

	if cfg.Database.Timeout != 1*time.Second {
		t.Errorf("Database.Timeout = %v, want 1s", cfg.Database.Timeout)
	}

	if cfg.Timeline.PageSize != 50 {
		t.Errorf("Timeline.PageSize = %d, want 50", cfg.Timeline.PageSize)
	}
	if cfg.Timeline.SnapshotLimit != 100 {
		t.Errorf("Timeline.SnapshotLimit = %d, want 100", cfg.Timeline.SnapshotLimit)
	}

	if cfg.Cache.Capacity != 50 {
		t.Errorf("Cache.Capacity = %d, want 50", cfg.Cache.Capacity)
	}

	if cfg.Refresh.Debounce != 800*time.Millisecond {
		t.Errorf("Refresh.Debounce = %v, want 800ms", cfg.Refresh.Debounce)
	}
	if cfg.Refresh.Schedule == "" || cfg.Sync.Schedule == "" {
		t.Error("schedules should have defaults")
	}
	if cfg.Sync.PushBatch != 200 {
		t.Errorf("Sync.PushBatch = %d, want 200", cfg.Sync.PushBatch)
	}

	if cfg.Log.Level != "off" {
		t.Errorf("Log.Level = %s, want 'off'", cfg.Log.Level)
	}
}

func TestLoad_DefaultConfig(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg == nil {
		t.Fatal("Load() returned nil config")
	}
	if cfg.Timeline.PageSize != 50 {
		t.Errorf("Timeline.PageSize = %d, want default 50", cfg.Timeline.PageSize)
	}
	if !filepath.IsAbs(cfg.Database.Path) {
		t.Errorf("Database.Path should be absolute after load, got %s", cfg.Database.Path)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	content := `
[gateway]
base_url = "https://feeds.example.com/api"
timeout = "10s"

[cache]
capacity = 25

[refresh]
debounce = "250ms"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Gateway.BaseURL != "https://feeds.example.com/api" {
		t.Errorf("Gateway.BaseURL = %s", cfg.Gateway.BaseURL)
	}
	if cfg.Gateway.Timeout != 10*time.Second {
		t.Errorf("Gateway.Timeout = %v, want 10s", cfg.Gateway.Timeout)
	}
	if cfg.Cache.Capacity != 25 {
		t.Errorf("Cache.Capacity = %d, want 25", cfg.Cache.Capacity)
	}
	if cfg.Refresh.Debounce != 250*time.Millisecond {
		t.Errorf("Refresh.Debounce = %v, want 250ms", cfg.Refresh.Debounce)
	}
	// Untouched sections keep their defaults.
	if cfg.Timeline.PageSize != 50 {
		t.Errorf("Timeline.PageSize = %d, want default 50", cfg.Timeline.PageSize)
	}
}

func TestGenerateDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if err := GenerateDefaultConfig(path); err != nil {
		t.Fatalf("GenerateDefaultConfig() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading generated config: %v", err)
	}
	out := string(data)
	for _, section := range []string{"[gateway]", "[database]", "[timeline]", "[cache]", "[refresh]", "[sync]", "[log]"} {
		if !strings.Contains(out, section) {
			t.Errorf("generated config missing %s section", section)
		}
	}

	// The generated file must round-trip through Load.
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("loading generated config: %v", err)
	}
	if cfg.Refresh.Debounce != 800*time.Millisecond {
		t.Errorf("round-tripped Refresh.Debounce = %v, want 800ms", cfg.Refresh.Debounce)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	got := expandPath("~/data/feedsync.db")
	want := filepath.Join(home, "data", "feedsync.db")
	if got != want {
		t.Errorf("expandPath(~/...) = %s, want %s", got, want)
	}

	if expandPath("") != "" {
		t.Error("expandPath(\"\") should stay empty")
	}

	abs := expandPath("relative/path")
	if !filepath.IsAbs(abs) {
		t.Errorf("expandPath should absolutize relative paths, got %s", abs)
	}
}
