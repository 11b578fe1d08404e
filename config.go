// config.go: Host configuration model, defaults, and validation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Enforced configuration floors. Values below these are clamped during
// normalization rather than rejected, matching the documented behavior of
// the external configuration surface.
const (
	// MinStartupRejectDuration is the floor for the startup rejection window.
	MinStartupRejectDuration = 10 * time.Second

	// MinRequestCleanupInterval is the floor for the dedup lazy-cleanup pace.
	MinRequestCleanupInterval = 60 * time.Second

	// MinRequestExpiry is the floor for outbound request fingerprint expiry.
	MinRequestExpiry = 300 * time.Second

	// MinRequestWaitTimeout is the floor for waiting on an in-flight
	// duplicate outbound request.
	MinRequestWaitTimeout = 10 * time.Second
)

// HostConfig is the full configuration surface of the plugin host.
//
// The core consumes these as already-validated values: load a file with
// LoadHostConfig or build the struct directly, then call Normalize and
// Validate before handing it to NewHost.
type HostConfig struct {
	// Gateway client
	GatewayBaseURL        string        `yaml:"gateway_base_url"`
	GatewayToken          string        `yaml:"gateway_token"`
	GatewayRequestTimeout time.Duration `yaml:"gateway_request_timeout"`
	GatewayLongTimeout    time.Duration `yaml:"gateway_long_timeout"`
	GatewayMaxRetries     int           `yaml:"gateway_max_retries"`

	// Inbound event server
	ListenHost string `yaml:"listen_host"`
	ListenPort int    `yaml:"listen_port"`
	EventPath  string `yaml:"event_path"`

	// Filesystem layout
	PluginsDir string `yaml:"plugins_dir"`
	LogsDir    string `yaml:"logs_dir"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// Dispatch budgets
	EventTimeout      time.Duration `yaml:"event_timeout"`
	CancelGracePeriod time.Duration `yaml:"cancel_grace_period"`

	// Hot reload
	HotReload         bool          `yaml:"hot_reload"`
	HotReloadInterval time.Duration `yaml:"hot_reload_interval"`

	// Dependency auto-install
	AutoInstallModules   bool          `yaml:"auto_install_modules"`
	ModuleInstallTimeout time.Duration `yaml:"module_install_timeout"`

	// Startup rejection gate
	StartupRejectEvents   bool          `yaml:"startup_reject_events"`
	StartupRejectDuration time.Duration `yaml:"startup_reject_duration"`

	// Deduplication
	EnableEventDeduplication   bool          `yaml:"enable_event_deduplication"`
	EnableRequestDeduplication bool          `yaml:"enable_request_deduplication"`
	EventDedupWindow           time.Duration `yaml:"event_dedup_window"`
	RequestCleanupInterval     time.Duration `yaml:"request_cleanup_interval"`
	RequestExpiry              time.Duration `yaml:"request_expiry"`
	RequestWaitTimeout         time.Duration `yaml:"request_wait_timeout"`

	// Log retention
	EnableRuntimeLogCleanup bool          `yaml:"enable_runtime_log_cleanup"`
	LogRetentionMaxAge      time.Duration `yaml:"log_retention_max_age"`
	LogCleanupInterval      time.Duration `yaml:"log_cleanup_interval"`

	// Background stats refresh
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// DefaultHostConfig returns the default host configuration.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		GatewayBaseURL:        "http://localhost:3000",
		GatewayRequestTimeout: 10 * time.Second,
		GatewayLongTimeout:    60 * time.Second,
		GatewayMaxRetries:     3,

		ListenHost: "127.0.0.1",
		ListenPort: 8080,
		EventPath:  "/events",

		PluginsDir: "plugins",
		LogsDir:    "logs",

		LogLevel: "info",

		EventTimeout:      120 * time.Second,
		CancelGracePeriod: 1 * time.Second,

		HotReload:         true,
		HotReloadInterval: 5 * time.Second,

		AutoInstallModules:   true,
		ModuleInstallTimeout: 120 * time.Second,

		StartupRejectEvents:   false,
		StartupRejectDuration: 20 * time.Second,

		EnableEventDeduplication:   false,
		EnableRequestDeduplication: false,
		EventDedupWindow:           5 * time.Second,
		RequestCleanupInterval:     60 * time.Second,
		RequestExpiry:              360 * time.Second,
		RequestWaitTimeout:         10 * time.Second,

		EnableRuntimeLogCleanup: true,
		LogRetentionMaxAge:      24 * time.Hour,
		LogCleanupInterval:      24 * time.Hour,

		StatsInterval: 10 * time.Second,
	}
}

// LoadHostConfig reads and parses a YAML configuration file, applying
// defaults for unset fields and clamping floors.
func LoadHostConfig(path string) (HostConfig, error) {
	cfg := DefaultHostConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, NewConfigFileError(path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, NewConfigParseError(path, err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Normalize clamps configured values to their enforced floors. It never
// fails; genuinely unusable values are caught by Validate.
func (c *HostConfig) Normalize() {
	if c.StartupRejectDuration < MinStartupRejectDuration {
		c.StartupRejectDuration = MinStartupRejectDuration
	}
	if c.RequestCleanupInterval < MinRequestCleanupInterval {
		c.RequestCleanupInterval = MinRequestCleanupInterval
	}
	if c.RequestExpiry < MinRequestExpiry {
		c.RequestExpiry = MinRequestExpiry
	}
	if c.RequestWaitTimeout < MinRequestWaitTimeout {
		c.RequestWaitTimeout = MinRequestWaitTimeout
	}
}

// Validate checks the configuration for unusable values.
func (c *HostConfig) Validate() error {
	if c.PluginsDir == "" {
		return NewInvalidConfigError("plugins_dir", "must not be empty")
	}
	if c.LogsDir == "" {
		return NewInvalidConfigError("logs_dir", "must not be empty")
	}
	if c.EventTimeout <= 0 {
		return NewInvalidConfigError("event_timeout", "must be positive")
	}
	if c.CancelGracePeriod <= 0 {
		return NewInvalidConfigError("cancel_grace_period", "must be positive")
	}
	if c.HotReload && c.HotReloadInterval <= 0 {
		return NewInvalidConfigError("hot_reload_interval", "must be positive when hot reload is enabled")
	}
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return NewInvalidConfigError("listen_port", "must be a valid TCP port")
	}
	if c.GatewayMaxRetries < 1 {
		return NewInvalidConfigError("gateway_max_retries", "must be at least 1")
	}
	if c.EventDedupWindow <= 0 {
		return NewInvalidConfigError("event_dedup_window", "must be positive")
	}
	if c.StatsInterval <= 0 {
		return NewInvalidConfigError("stats_interval", "must be positive")
	}
	if !strings.HasPrefix(c.EventPath, "/") {
		return NewInvalidConfigError("event_path", "must begin with /")
	}
	return nil
}
