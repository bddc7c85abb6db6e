package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Database DatabaseConfig `mapstructure:"database"`
	Timeline TimelineConfig `mapstructure:"timeline"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Log      LogConfig      `mapstructure:"log"`
}

type GatewayConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

type DatabaseConfig struct {
	Path        string        `mapstructure:"path"`
	Timeout     time.Duration `mapstructure:"timeout"`
	SearchIndex string        `mapstructure:"search_index"`
}

type TimelineConfig struct {
	PageSize      int `mapstructure:"page_size"`
	SnapshotLimit int `mapstructure:"snapshot_limit"`
}

type CacheConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type RefreshConfig struct {
	// Debounce is the trailing window that coalesces article refetches
	// while feed_complete events burst in during a bulk refresh.
	Debounce time.Duration `mapstructure:"debounce"`
	Schedule string        `mapstructure:"schedule"`
}

type SyncConfig struct {
	Schedule string `mapstructure:"schedule"`
	// PushBatch caps how many read-state transitions one push uploads.
	PushBatch int `mapstructure:"push_batch"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Path  string `mapstructure:"path"`
}

func defaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dbPath := filepath.Join(homeDir, ".feedsync.db")
	searchIndexPath := filepath.Join(homeDir, ".feedsync", "index.bleve")

	return &Config{
		Gateway: GatewayConfig{
			BaseURL:   "http://localhost:8787/api",
			Timeout:   30 * time.Second,
			UserAgent: "feedsync/1.0 (feed reader sync engine)",
		},
		Database: DatabaseConfig{
			Path:        dbPath,
			Timeout:     1 * time.Second,
			SearchIndex: searchIndexPath,
		},
		Timeline: TimelineConfig{
			PageSize:      50,
			SnapshotLimit: 100,
		},
		Cache: CacheConfig{
			Capacity: 50,
		},
		Refresh: RefreshConfig{
			Debounce: 800 * time.Millisecond,
			Schedule: "*/30 * * * *",
		},
		Sync: SyncConfig{
			Schedule:  "*/5 * * * *",
			PushBatch: 200,
		},
		Log: LogConfig{
			Level: "off",
			Path:  "",
		},
	}
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	cfg := defaultConfig()
	v.SetDefault("gateway", cfg.Gateway)
	v.SetDefault("database", cfg.Database)
	v.SetDefault("timeline", cfg.Timeline)
	v.SetDefault("cache", cfg.Cache)
	v.SetDefault("refresh", cfg.Refresh)
	v.SetDefault("sync", cfg.Sync)
	v.SetDefault("log", cfg.Log)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		homeDir, _ := os.UserHomeDir()
		configDir := filepath.Join(homeDir, ".config", "feedsync")

		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FEEDSYNC")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	expandPaths(&config)

	return &config, nil
}

// expandPath expands ~ to home directory and converts to absolute path
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}

	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	return path
}

func expandPaths(cfg *Config) {
	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Database.SearchIndex = expandPath(cfg.Database.SearchIndex)
	cfg.Log.Path = expandPath(cfg.Log.Path)
}

func Save(config *Config, path string) error {
	v := viper.New()

	// Convert durations to strings for TOML readability
	gatewayCfg := map[string]interface{}{
		"base_url":   config.Gateway.BaseURL,
		"timeout":    config.Gateway.Timeout.String(),
		"user_agent": config.Gateway.UserAgent,
	}

	dbCfg := map[string]interface{}{
		"path":         config.Database.Path,
		"timeout":      config.Database.Timeout.String(),
		"search_index": config.Database.SearchIndex,
	}

	refreshCfg := map[string]interface{}{
		"debounce": config.Refresh.Debounce.String(),
		"schedule": config.Refresh.Schedule,
	}

	v.Set("gateway", gatewayCfg)
	v.Set("database", dbCfg)
	v.Set("timeline", config.Timeline)
	v.Set("cache", config.Cache)
	v.Set("refresh", refreshCfg)
	v.Set("sync", config.Sync)
	v.Set("log", config.Log)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return v.WriteConfigAs(path)
}

func GenerateDefaultConfig(path string) error {
	return Save(defaultConfig(), path)
}
