// logging.go: Pluggable logging with per-plugin file sinks and error dedup
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

// Logger defines the pluggable logging interface for the bot plugin host.
//
// This interface enables users to integrate any logging framework (slog, zap,
// logrus, custom loggers) without the library taking a hard dependency on one.
//
// Design principles:
//   - Zero dependencies: the interface has no external logging dependencies
//   - Structured args: key-value pairs for structured logging
//   - Contextual logging: With() for adding persistent context
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error message with optional key-value pairs
	Error(msg string, args ...any)

	// With returns a new logger with persistent context key-value pairs
	With(args ...any) Logger
}

// NewLogger creates a Logger from supported logger types.
//
// Supported types:
//   - Logger interface: used directly
//   - *slog.Logger: wrapped with an adapter
//   - nil: returns NoOpLogger for silent operation
func NewLogger(logger any) Logger {
	switch l := logger.(type) {
	case Logger:
		return l
	case *slog.Logger:
		return &SlogAdapter{logger: l}
	case nil:
		return NewNoOpLogger()
	default:
		panic("unsupported logger type: expected Logger interface, *slog.Logger, or nil")
	}
}

// NoOpLogger provides a silent logger implementation for testing and
// minimal setups.
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-operation logger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Debug implements Logger interface (no-op)
func (n *NoOpLogger) Debug(msg string, args ...any) {}

// Info implements Logger interface (no-op)
func (n *NoOpLogger) Info(msg string, args ...any) {}

// Warn implements Logger interface (no-op)
func (n *NoOpLogger) Warn(msg string, args ...any) {}

// Error implements Logger interface (no-op)
func (n *NoOpLogger) Error(msg string, args ...any) {}

// With implements Logger interface (no-op)
func (n *NoOpLogger) With(args ...any) Logger {
	return n
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a Logger backed by the given *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAdapter{logger: logger}
}

func (s *SlogAdapter) Debug(msg string, args ...any) { s.logger.Debug(msg, args...) }
func (s *SlogAdapter) Info(msg string, args ...any)  { s.logger.Info(msg, args...) }
func (s *SlogAdapter) Warn(msg string, args ...any)  { s.logger.Warn(msg, args...) }
func (s *SlogAdapter) Error(msg string, args ...any) { s.logger.Error(msg, args...) }

func (s *SlogAdapter) With(args ...any) Logger {
	return &SlogAdapter{logger: s.logger.With(args...)}
}

// PluginLogSink is a dedicated file-backed logger for a single plugin.
//
// Each loaded plugin gets its own sink writing to plugin_<name>.log in the
// host log directory. The sink is closed and its file removed when the
// plugin is unloaded, and rebuilt wholesale on reload.
type PluginLogSink struct {
	pluginName string
	path       string
	file       *os.File
	logger     Logger
	mu         sync.Mutex
	closed     bool
}

// NewPluginLogSink creates a file-backed logger for the named plugin under
// logsDir. The directory is created if it does not exist.
func NewPluginLogSink(pluginName, logsDir string) (*PluginLogSink, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	path := filepath.Join(logsDir, "plugin_"+pluginName+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open plugin log file: %w", err)
	}

	handler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := NewSlogAdapter(slog.New(handler)).With("plugin", pluginName)

	return &PluginLogSink{
		pluginName: pluginName,
		path:       path,
		file:       file,
		logger:     logger,
	}, nil
}

// Logger returns the structured logger writing to the plugin's log file.
func (s *PluginLogSink) Logger() Logger {
	return s.logger
}

// Path returns the log file path backing this sink.
func (s *PluginLogSink) Path() string {
	return s.path
}

// Close detaches the sink from its file. Safe to call multiple times.
func (s *PluginLogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

// Remove closes the sink and deletes its log file.
func (s *PluginLogSink) Remove() error {
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// errorLogWindow is how long a distinct error message stays suppressed
// after being logged once.
const errorLogWindow = time.Hour

// ErrorDeduper suppresses repeated error messages by content hash.
//
// A distinct message is logged at most once per hour; repeats within the
// window are dropped. This keeps a crash-looping plugin from flooding the
// host log during continuous hot-reload scans and event dispatch.
type ErrorDeduper struct {
	logger  Logger
	history map[string]time.Time
	mu      sync.Mutex
}

// NewErrorDeduper creates a deduper that forwards to the given logger.
func NewErrorDeduper(logger Logger) *ErrorDeduper {
	return &ErrorDeduper{
		logger:  NewLogger(logger),
		history: make(map[string]time.Time),
	}
}

// LogOnce logs msg with the given args unless an identical msg was already
// logged within the suppression window. Returns true if the message was
// actually emitted.
func (d *ErrorDeduper) LogOnce(msg string, args ...any) bool {
	sum := sha256.Sum256([]byte(msg))
	key := hex.EncodeToString(sum[:])
	now := timecache.CachedTime()

	d.mu.Lock()
	if last, seen := d.history[key]; seen && now.Sub(last) < errorLogWindow {
		d.mu.Unlock()
		return false
	}
	d.history[key] = now
	d.mu.Unlock()

	d.logger.Error(msg, args...)
	return true
}

// Reset clears the suppression history.
func (d *ErrorDeduper) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = make(map[string]time.Time)
}
