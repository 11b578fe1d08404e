// config_watcher.go: Live configuration reload via Argus file watching
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
)

// HostConfigWatcher watches the host configuration file and applies the
// live-reloadable subset of changes to a running host without restart.
//
// Only runtime toggles are applied (see Host.ApplyRuntimeConfig); a file
// that fails to parse or validate is logged and ignored, keeping the last
// good configuration in effect.
//
// The watcher follows the usual start/stop contract: Start is rejected
// while running, Stop is permanent.
type HostConfigWatcher struct {
	host       *Host
	configPath string
	logger     Logger

	watcher *argus.Watcher

	enabled  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	mutex    sync.Mutex
}

// NewHostConfigWatcher creates a watcher bound to a host and its
// configuration file path.
func NewHostConfigWatcher(host *Host, configPath string, logger any) *HostConfigWatcher {
	l := NewLogger(logger)
	w := &HostConfigWatcher{
		host:       host,
		configPath: configPath,
		logger:     l,
	}

	w.watcher = argus.New(argus.Config{
		PollInterval:         5 * time.Second,
		CacheTTL:             2 * time.Second,
		MaxWatchedFiles:      5,
		OptimizationStrategy: argus.OptimizationSingleEvent,
		ErrorHandler: func(err error, filepath string) {
			l.Error("Configuration file watching error", "error", err, "file", filepath)
		},
	})
	return w
}

// Start begins watching the configuration file.
func (w *HostConfigWatcher) Start() error {
	if w.stopped.Load() {
		return NewInvalidConfigError("config_watcher", "permanently stopped, cannot be restarted")
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	if !w.enabled.CompareAndSwap(false, true) {
		return NewInvalidConfigError("config_watcher", "already running")
	}

	if err := w.watcher.Watch(w.configPath, w.handleConfigChange); err != nil {
		w.enabled.Store(false)
		return NewConfigFileError(w.configPath, err)
	}
	if err := w.watcher.Start(); err != nil {
		w.enabled.Store(false)
		return NewConfigFileError(w.configPath, err)
	}

	w.logger.Info("Configuration watcher started", "config_path", w.configPath)
	return nil
}

// Stop stops the watcher permanently.
func (w *HostConfigWatcher) Stop() error {
	var stopErr error
	w.stopOnce.Do(func() {
		w.mutex.Lock()
		defer w.mutex.Unlock()

		if !w.enabled.CompareAndSwap(true, false) {
			return
		}
		w.stopped.Store(true)

		if err := w.watcher.Stop(); err != nil {
			stopErr = err
			return
		}
		w.logger.Info("Configuration watcher stopped")
	})
	return stopErr
}

// IsRunning reports whether the watcher is active.
func (w *HostConfigWatcher) IsRunning() bool {
	return w.enabled.Load() && !w.stopped.Load()
}

func (w *HostConfigWatcher) handleConfigChange(event argus.ChangeEvent) {
	if event.IsDelete {
		w.logger.Warn("Configuration file deleted, keeping current configuration", "path", event.Path)
		return
	}

	w.logger.Info("Configuration file change detected", "path", event.Path, "mod_time", event.ModTime)

	cfg, err := LoadHostConfig(event.Path)
	if err != nil {
		w.logger.Error("Failed to reload configuration, keeping current configuration",
			"path", event.Path, "error", err)
		return
	}

	w.host.ApplyRuntimeConfig(cfg)
}
