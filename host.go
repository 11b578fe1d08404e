// host.go: Host composition root and background lifecycle
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// FrameworkVersion is reported through the shared state store and status
// snapshots.
const FrameworkVersion = "1.0.0"

// Host wires the full plugin host together: shared state, deduplication,
// startup gate, gateway client, plugin registry, event dispatcher, inbound
// server, and the background maintenance loops.
//
// Lifecycle:
//
//	host, err := bothost.NewHost(cfg, logger, nil)
//	if err != nil { ... }
//	if err := host.Start(ctx); err != nil { ... }
//	defer host.Shutdown(context.Background())
//
// Start loads all plugins, starts the maintenance loops, and begins
// serving events. Shutdown is cooperative: the inbound server drains,
// in-flight handlers are cancelled through the root context, loops observe
// the stop channel at their next tick, and plugins are torn down in the
// registry. A handler that ignores cancellation cannot stall shutdown
// beyond the cancel grace period.
//
// Background-loop iterations run with panic containment: a failure in one
// sweep is logged and the loop continues at its next tick.
type Host struct {
	cfg    HostConfig
	logger Logger

	store      *SharedStateStore
	dedup      *DeduplicationManager
	gate       *StartupGate
	gateway    *GatewayClient
	registry   *PluginRegistry
	dispatcher *EventDispatcher
	server     *EventServer
	cleaner    *LogCleaner

	hotReload atomic.Bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
	stopChan   chan struct{}
	wg         sync.WaitGroup
	serveErr   chan error

	started   atomic.Bool
	stopped   atomic.Bool
	startTime time.Time
}

// NewHost builds a host from a normalized configuration. The logger accepts
// a Logger, a *slog.Logger, or nil for silent operation. A nil installer
// disables dependency auto-install regardless of configuration.
func NewHost(cfg HostConfig, logger any, installer ModuleInstaller) (*Host, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := NewLogger(logger)

	if err := os.MkdirAll(cfg.PluginsDir, 0o755); err != nil {
		return nil, NewConfigFileError(cfg.PluginsDir, err)
	}
	if err := os.MkdirAll(cfg.LogsDir, 0o755); err != nil {
		return nil, NewConfigFileError(cfg.LogsDir, err)
	}

	store := NewSharedStateStore(FrameworkVersion)
	dedup := NewDeduplicationManager(cfg)
	gate := NewStartupGate(cfg.StartupRejectEvents, cfg.StartupRejectDuration)
	gateway := NewGatewayClient(cfg, dedup, store, l)
	registry := NewPluginRegistry(cfg, store, gateway, installer, l)
	dispatcher := NewEventDispatcher(cfg, registry, dedup, gate, store, l)

	rootCtx, rootCancel := context.WithCancel(context.Background())

	h := &Host{
		cfg:        cfg,
		logger:     l,
		store:      store,
		dedup:      dedup,
		gate:       gate,
		gateway:    gateway,
		registry:   registry,
		dispatcher: dispatcher,
		server:     NewEventServer(cfg, dispatcher, rootCtx, l),
		cleaner:    NewLogCleaner(cfg, l),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		stopChan:   make(chan struct{}),
		serveErr:   make(chan error, 1),
	}
	h.hotReload.Store(cfg.HotReload)
	return h, nil
}

// Start loads every plugin from the plugins directory, starts the
// maintenance loops, and begins serving inbound events. It returns once
// the host is running; serve failures after that surface through ServeErr.
func (h *Host) Start(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return NewInvalidConfigError("host", "already started")
	}

	h.startTime = timecache.CachedTime()
	h.store.UpdateFrameworkStatus("starting")

	h.registry.LoadAll(ctx)

	h.wg.Add(3)
	go h.hotReloadLoop()
	go h.statsLoop()
	go h.logRetentionLoop()

	h.server.Start(h.serveErr)

	h.store.UpdateFrameworkStatus("running")
	h.logger.Info("Host started",
		"version", FrameworkVersion,
		"plugins", h.registry.Count(),
		"hot_reload", h.hotReload.Load(),
		"startup_gate", h.cfg.StartupRejectEvents)
	return nil
}

// ServeErr reports a fatal inbound-server failure, if one occurred.
func (h *Host) ServeErr() <-chan error {
	return h.serveErr
}

// Shutdown stops the host: drains the inbound server, cancels in-flight
// handlers, stops the maintenance loops, and tears down every plugin.
// Safe to call once; subsequent calls return immediately.
func (h *Host) Shutdown(ctx context.Context) error {
	if !h.started.Load() || !h.stopped.CompareAndSwap(false, true) {
		return nil
	}

	h.logger.Info("Host shutting down")
	h.store.UpdateFrameworkStatus("shutting_down")

	if err := h.server.Shutdown(ctx); err != nil {
		h.logger.Warn("Event server shutdown error", "error", err)
	}

	close(h.stopChan)
	h.rootCancel()
	h.wg.Wait()

	h.registry.Shutdown()
	h.gateway.Close()

	h.store.UpdateFrameworkStatus("stopped")
	h.logger.Info("Host stopped", "uptime", time.Since(h.startTime))
	return nil
}

// Registry exposes the plugin registry for status inspection.
func (h *Host) Registry() *PluginRegistry { return h.registry }

// State exposes the shared state store.
func (h *Host) State() *SharedStateStore { return h.store }

// Gate exposes the startup gate.
func (h *Host) Gate() *StartupGate { return h.gate }

// Dispatcher exposes the event dispatcher, mainly for embedding hosts that
// feed events from a source other than the HTTP server.
func (h *Host) Dispatcher() *EventDispatcher { return h.dispatcher }

// ApplyRuntimeConfig applies the live-reloadable subset of a new
// configuration: deduplication toggles, the startup-gate switch, and the
// hot-reload switch. Structural settings (listen address, directories,
// timeouts) keep their boot values until restart.
func (h *Host) ApplyRuntimeConfig(cfg HostConfig) {
	cfg.Normalize()

	h.dedup.SetEventDeduplication(cfg.EnableEventDeduplication)
	h.dedup.SetRequestDeduplication(cfg.EnableRequestDeduplication)
	h.gate.SetEnabled(cfg.StartupRejectEvents)
	h.hotReload.Store(cfg.HotReload)

	h.logger.Info("Runtime configuration applied",
		"event_dedup", cfg.EnableEventDeduplication,
		"request_dedup", cfg.EnableRequestDeduplication,
		"startup_gate", cfg.StartupRejectEvents,
		"hot_reload", cfg.HotReload)
}

// hotReloadLoop scans the plugins directory for added, removed, and
// changed sources at the configured interval.
func (h *Host) hotReloadLoop() {
	defer h.wg.Done()

	interval := h.cfg.HotReloadInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopChan:
			return
		case <-ticker.C:
			h.safeIteration("hot_reload", func() {
				if !h.hotReload.Load() {
					return
				}
				h.registry.CheckForUpdates(h.rootCtx)
				h.store.UpdateSystemTimes("", timecache.CachedTime().Format(time.RFC3339))
			})
		}
	}
}

// statsLoop refreshes uptime and health in the shared state store.
func (h *Host) statsLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopChan:
			return
		case <-ticker.C:
			h.safeIteration("stats", func() {
				h.store.UpdateRuntimeStats(time.Since(h.startTime), true)
			})
		}
	}
}

// logRetentionLoop drives the throttled log retention sweep. The sweep
// itself enforces the cleanup interval, so the tick can be much shorter
// than the retention window.
func (h *Host) logRetentionLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopChan:
			return
		case <-ticker.C:
			h.safeIteration("log_retention", func() {
				if h.cleaner.CleanRuntimeLogs() > 0 {
					h.store.UpdateSystemTimes(timecache.CachedTime().Format(time.RFC3339), "")
				}
			})
		}
	}
}

// safeIteration runs one background-loop iteration with panic containment.
func (h *Host) safeIteration(name string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("Background loop iteration panicked", "loop", name, "panic", rec)
		}
	}()
	fn()
}
