// Package config provides configuration structs and utilities for the petsync daemon.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config represents the root configuration for the petsync daemon.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	Identity  IdentityConfig  `yaml:"identity"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Sync      SyncConfig      `yaml:"sync"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Agent     AgentConfig     `yaml:"agent"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// StoreConfig holds configuration for the remote document store.
type StoreConfig struct {
	// Backend selects the store adapter: "remote" or "memory".
	Backend string        `yaml:"backend"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// SecretsConfig holds the encrypt/decrypt service endpoints.
type SecretsConfig struct {
	EncryptURL string        `yaml:"encrypt_url"`
	DecryptURL string        `yaml:"decrypt_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// IdentityConfig holds the pairing and session service endpoints.
type IdentityConfig struct {
	ClientURL         string        `yaml:"client_url"`
	ClaimDeviceURL    string        `yaml:"claim_device_url"`
	RefreshSessionURL string        `yaml:"refresh_session_url"`
	TokenURL          string        `yaml:"token_url"`
	LoginTimeout      time.Duration `yaml:"login_timeout"`
}

// GatewayConfig holds configuration for the local agent gateway.
type GatewayConfig struct {
	// Port is used when the agent configuration does not name one.
	Port  int    `yaml:"port"`
	Model string `yaml:"model"`
}

// SyncConfig holds reconciler tuning.
type SyncConfig struct {
	// LocalQuietWindow suppresses file-watch events after a pull-path write.
	LocalQuietWindow time.Duration `yaml:"local_quiet_window"`
	// RemoteQuietWindow suppresses store notifications after a push.
	RemoteQuietWindow time.Duration `yaml:"remote_quiet_window"`
	// FullSyncInterval triggers a periodic push independent of file events.
	FullSyncInterval time.Duration `yaml:"full_sync_interval"`
	// WatchDebounce coalesces bursts of file events before a push.
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// HeartbeatConfig holds liveness publishing cadences.
type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval"`
	// DeviceRefreshEvery is the number of ticks between device-presence
	// refreshes on the main document.
	DeviceRefreshEvery int `yaml:"device_refresh_every"`
}

// AgentConfig holds the managed agent installation location.
type AgentConfig struct {
	// Home overrides agent installation detection (default: ~/.agent).
	Home string `yaml:"home"`
}

// LoggingConfig holds configuration for daemon logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporter_type"` // none, stdout, otlp
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
	ServiceName  string  `yaml:"service_name"`
}

// Default configuration values.
const (
	DefaultStoreBackend      = "remote"
	DefaultStoreTimeout      = 30 * time.Second
	DefaultSecretsTimeout    = 15 * time.Second
	DefaultGatewayPort       = 18789
	DefaultGatewayModel      = "agent"
	DefaultLocalQuietWindow  = 500 * time.Millisecond
	DefaultRemoteQuietWindow = 1 * time.Second
	DefaultFullSyncInterval  = 15 * time.Minute
	DefaultWatchDebounce     = 300 * time.Millisecond
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultDeviceRefresh     = 5
	DefaultLoginTimeout      = 10 * time.Minute
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

// NewDefaultConfig returns a Config populated with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: DefaultStoreBackend,
			Timeout: DefaultStoreTimeout,
		},
		Secrets: SecretsConfig{
			Timeout: DefaultSecretsTimeout,
		},
		Identity: IdentityConfig{
			LoginTimeout: DefaultLoginTimeout,
		},
		Gateway: GatewayConfig{
			Port:  DefaultGatewayPort,
			Model: DefaultGatewayModel,
		},
		Sync: SyncConfig{
			LocalQuietWindow:  DefaultLocalQuietWindow,
			RemoteQuietWindow: DefaultRemoteQuietWindow,
			FullSyncInterval:  DefaultFullSyncInterval,
			WatchDebounce:     DefaultWatchDebounce,
		},
		Heartbeat: HeartbeatConfig{
			Interval:           DefaultHeartbeatInterval,
			DeviceRefreshEvery: DefaultDeviceRefresh,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			ExporterType: "none",
			SampleRate:   1.0,
			ServiceName:  "petsync",
		},
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "remote", "memory":
	default:
		return fmt.Errorf("store.backend must be remote or memory, got %q", c.Store.Backend)
	}
	if c.Store.Backend == "remote" && c.Store.BaseURL != "" {
		if _, err := url.Parse(c.Store.BaseURL); err != nil {
			return fmt.Errorf("store.base_url invalid: %w", err)
		}
	}
	if c.Sync.LocalQuietWindow <= 0 || c.Sync.RemoteQuietWindow <= 0 {
		return fmt.Errorf("sync quiet windows must be positive")
	}
	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be positive")
	}
	if c.Heartbeat.DeviceRefreshEvery <= 0 {
		return fmt.Errorf("heartbeat.device_refresh_every must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level invalid: %q", c.Logging.Level)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be in [0,1]")
	}
	return nil
}
