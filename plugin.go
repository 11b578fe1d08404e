// plugin.go: Core plugin interfaces and types
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"context"
	"time"
)

// EventHandler is the one required capability of a plugin: an asynchronous
// entry point invoked once per dispatched event. The contract is checked at
// registration time, not through runtime introspection.
type EventHandler interface {
	// Info returns metadata about the plugin
	Info() PluginInfo

	// HandleEvent processes one gateway event. Context must be honored for
	// timeouts and cancellation; a handler that refuses to unwind within the
	// host's grace period is escalated to a forced reload.
	HandleEvent(ctx context.Context, event Event) error

	// Close tears down the plugin's runtime resources.
	// Should be idempotent (safe to call multiple times).
	Close() error
}

// PluginInfo describes a loaded plugin instance.
type PluginInfo struct {
	// Name is the stable module name derived from the source file name.
	// At most one live instance exists per name at any time.
	Name string `json:"name"`

	// SourcePath is the plugin source file the instance was built from.
	SourcePath string `json:"source_path"`

	// LoadedAt is when this instance was created.
	LoadedAt time.Time `json:"loaded_at"`
}

// ModuleInstaller provisions modules a plugin requires but the host cannot
// resolve. It is consulted only during plugin load; any installation
// failure aborts the load so a plugin is never partially registered.
type ModuleInstaller interface {
	// InstallModule installs one module within the bounded timeout and
	// reports success.
	InstallModule(ctx context.Context, name string, timeout time.Duration) bool
}

// NoInstaller is the default ModuleInstaller: it installs nothing, so any
// plugin with unresolved modules is rejected.
type NoInstaller struct{}

// InstallModule implements ModuleInstaller (always fails).
func (NoInstaller) InstallModule(ctx context.Context, name string, timeout time.Duration) bool {
	return false
}
