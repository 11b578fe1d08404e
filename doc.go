// Package bothost provides the runtime core of a chat-bot plugin host.
// It receives webhook-style events from an external messaging gateway,
// fans each event out concurrently to independently loaded Lua plugins,
// and keeps the whole plugin population hot-swappable without a process
// restart.
//
// Key Features:
//   - File-based plugin lifecycle: load, reload, unload, with mtime+hash
//     change detection on the plugin directory
//   - Embedded Lua plugin execution (one interpreter state per plugin)
//     with a required handle_event entry point
//   - Concurrent fan-out dispatch with a global per-event timeout,
//     cooperative cancellation and forced-reload escalation for handlers
//     that refuse to unwind
//   - Fingerprint-based deduplication of inbound events and outbound
//     gateway requests with lazy expiry
//   - Startup rejection gate that drops events during a configurable
//     warm-up window
//   - Shared state store with a write-restricted framework tier,
//     per-plugin namespaces, cross-plugin access grants, and
//     hash-verified value integrity
//   - Hot-reloadable host configuration powered by Argus
//   - Graceful shutdown with task draining and connection pool cleanup
//
// Basic Usage:
//
//	cfg := bothost.DefaultHostConfig()
//	cfg.PluginsDir = "./plugins"
//	cfg.LogsDir = "./logs"
//
//	host, err := bothost.NewHost(cfg, logger, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx := context.Background()
//	if err := host.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer host.Shutdown(context.Background())
//
// Plugins are single Lua source files in the plugin directory. Each must
// define a global handle_event(event) function; everything else about the
// file is up to the plugin author. Touching a file without changing its
// bytes does not trigger a reload; changing a single byte reloads exactly
// once on the next scan.
//
// Fault containment:
// One plugin's panic, error, or timeout never affects delivery to, or
// completion accounting of, other plugins. Isolation here is about fault
// containment and timeouts, not security confinement.
//
// Copyright (c) 2025 AGILira - A. Giordano
// SPDX-License-Identifier: MPL-2.0
package bothost
