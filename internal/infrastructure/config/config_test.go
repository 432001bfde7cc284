package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.Store.Backend != "remote" {
		t.Errorf("Store.Backend = %q", cfg.Store.Backend)
	}
	if cfg.Sync.LocalQuietWindow != 500*time.Millisecond {
		t.Errorf("LocalQuietWindow = %v", cfg.Sync.LocalQuietWindow)
	}
	if cfg.Sync.RemoteQuietWindow != time.Second {
		t.Errorf("RemoteQuietWindow = %v", cfg.Sync.RemoteQuietWindow)
	}
	if cfg.Heartbeat.Interval != 60*time.Second {
		t.Errorf("Heartbeat.Interval = %v", cfg.Heartbeat.Interval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"memory backend", func(c *Config) { c.Store.Backend = "memory" }, false},
		{"bad backend", func(c *Config) { c.Store.Backend = "dynamo" }, true},
		{"zero quiet window", func(c *Config) { c.Sync.LocalQuietWindow = 0 }, true},
		{"zero heartbeat", func(c *Config) { c.Heartbeat.Interval = 0 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad sample rate", func(c *Config) { c.Tracing.SampleRate = 2 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	loader, err := NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}

	cfg := NewDefaultConfig()
	cfg.Store.BaseURL = "https://sync.example.com"
	cfg.Logging.Level = "debug"

	path := filepath.Join(dir, "config.yaml")
	if err := loader.Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %o, want 0600", info.Mode().Perm())
	}

	loaded, err := loader.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Store.BaseURL != "https://sync.example.com" {
		t.Errorf("BaseURL = %q", loaded.Store.BaseURL)
	}
	if loaded.Logging.Level != "debug" {
		t.Errorf("Level = %q", loaded.Logging.Level)
	}
	// Unset fields keep defaults.
	if loaded.Heartbeat.DeviceRefreshEvery != DefaultDeviceRefresh {
		t.Errorf("DeviceRefreshEvery = %d", loaded.Heartbeat.DeviceRefreshEvery)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	loader, err := NewLoader(t.TempDir())
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	cfg, err := loader.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Backend != DefaultStoreBackend {
		t.Errorf("Backend = %q", cfg.Store.Backend)
	}
}

func TestResolvePaths(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Agent.Home = filepath.Join(t.TempDir(), "agent-home")

	paths, err := ResolvePaths(cfg)
	if err != nil {
		t.Fatalf("ResolvePaths: %v", err)
	}
	if paths.AgentHome != cfg.Agent.Home {
		t.Errorf("AgentHome = %q", paths.AgentHome)
	}
	if filepath.Base(paths.AgentConfigFile) != "agent.json" {
		t.Errorf("AgentConfigFile = %q", paths.AgentConfigFile)
	}
	if paths.AgentInstalled() {
		t.Error("AgentInstalled should be false before agent.json exists")
	}

	if err := os.MkdirAll(paths.AgentHome, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(paths.AgentConfigFile, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	if !paths.AgentInstalled() {
		t.Error("AgentInstalled should be true once agent.json exists")
	}
}
