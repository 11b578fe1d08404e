// log_retention.go: Aging out stale plugin log content
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogCleaner ages out stale log content in the host log directory.
//
// Active log files are truncated, not deleted, so open sinks keep writing
// to a valid file descriptor. The sweep is throttled: CleanRuntimeLogs is
// cheap to call from a frequent loop and does real work at most once per
// cleanup interval.
type LogCleaner struct {
	cfg    HostConfig
	logger Logger

	lastSweep time.Time
	mu        sync.Mutex
}

// NewLogCleaner creates a cleaner over the configured log directory.
func NewLogCleaner(cfg HostConfig, logger any) *LogCleaner {
	return &LogCleaner{
		cfg:    cfg,
		logger: NewLogger(logger),
	}
}

// CleanRuntimeLogs runs the throttled sweep when runtime cleanup is
// enabled. Returns the number of files truncated (zero when throttled).
func (c *LogCleaner) CleanRuntimeLogs() int {
	if !c.cfg.EnableRuntimeLogCleanup {
		return 0
	}

	c.mu.Lock()
	now := time.Now()
	if now.Sub(c.lastSweep) < c.cfg.LogCleanupInterval {
		c.mu.Unlock()
		return 0
	}
	c.lastSweep = now
	c.mu.Unlock()

	return c.Sweep()
}

// Sweep truncates every .log file in the log directory whose modification
// time is older than the retention window, unconditionally.
func (c *LogCleaner) Sweep() int {
	entries, err := os.ReadDir(c.cfg.LogsDir)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("Log retention sweep failed", "dir", c.cfg.LogsDir, "error", err)
		}
		return 0
	}

	cleaned := 0
	now := time.Now()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= c.cfg.LogRetentionMaxAge {
			continue
		}
		path := filepath.Join(c.cfg.LogsDir, entry.Name())
		if err := os.Truncate(path, 0); err != nil {
			c.logger.Warn("Failed to truncate stale log file", "file", entry.Name(), "error", err)
			continue
		}
		cleaned++
		c.logger.Debug("Truncated stale log file", "file", entry.Name())
	}

	if cleaned > 0 {
		c.logger.Info("Log retention sweep complete", "truncated", cleaned)
	}
	return cleaned
}
