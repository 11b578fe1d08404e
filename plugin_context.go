// plugin_context.go: Per-plugin sandbox bundling log sink, tasks, and state
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"time"
)

// PluginContext is the per-plugin sandbox: a dedicated file log sink, the
// registry of the plugin's active handler tasks, a state accessor scoped to
// the plugin's own namespace, and the read-only framework state view.
//
// A context is built fresh on every (re)load and destroyed wholesale on
// reload or unload; nothing from the previous instance survives.
type PluginContext struct {
	pluginName string
	logSink    *PluginLogSink
	tasks      *TaskTracker
	state      *PluginStateAccessor
	view       *ReadOnlyStateView
}

// NewPluginContext builds the sandbox for one plugin: a fresh log sink in
// logsDir, an empty task set, and a state accessor bound to the plugin's
// namespace.
func NewPluginContext(pluginName, logsDir string, store *SharedStateStore) (*PluginContext, error) {
	sink, err := NewPluginLogSink(pluginName, logsDir)
	if err != nil {
		return nil, err
	}

	return &PluginContext{
		pluginName: pluginName,
		logSink:    sink,
		tasks:      NewTaskTracker(),
		state:      NewPluginStateAccessor(pluginName, store),
		view:       NewReadOnlyStateView(store),
	}, nil
}

// PluginName returns the owning plugin's module name.
func (c *PluginContext) PluginName() string {
	return c.pluginName
}

// Logger returns the plugin's dedicated file-backed logger.
func (c *PluginContext) Logger() Logger {
	return c.logSink.Logger()
}

// Tasks returns the plugin's active-task registry.
func (c *PluginContext) Tasks() *TaskTracker {
	return c.tasks
}

// State returns the accessor scoped to the plugin's own namespace.
func (c *PluginContext) State() *PluginStateAccessor {
	return c.state
}

// FrameworkView returns the read-only projection over the framework tier.
func (c *PluginContext) FrameworkView() *ReadOnlyStateView {
	return c.view
}

// Cleanup tears the sandbox down: cancels all active tasks, waits up to
// grace for them to drain, then closes the log sink and removes its file.
// A drain overrun is reported via the return value but never blocks
// teardown beyond the grace period.
func (c *PluginContext) Cleanup(grace time.Duration) (drained bool) {
	drained = c.Release(grace)
	_ = c.logSink.Remove()
	return drained
}

// Release cancels all active tasks, waits up to grace for them to drain,
// and closes the log sink without removing its file. Used when a newer
// context for the same plugin already owns the log path.
func (c *PluginContext) Release(grace time.Duration) (drained bool) {
	c.tasks.CancelAll()
	drained = c.tasks.WaitForDrain(grace)
	_ = c.logSink.Close()
	return drained
}
