// dispatcher.go: Concurrent event fan-out with timeout escalation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"context"
	"fmt"
	"time"
)

// EventDispatcher fans each accepted event out to every active plugin
// concurrently and enforces the per-event timeout policy.
//
// Pipeline per event: dedup check, startup-gate check, defensive snapshot
// of the plugin list, one handler task per plugin, then a single wait
// against the global per-event timeout. Tasks still pending at the timeout
// are individually cancelled; a task that ignores its cancellation beyond
// the grace period is treated as wedged and escalated to an asynchronous
// forced reload of its plugin, without blocking current or future
// dispatch.
//
// Bulkhead isolation: a handler panic, error, or timeout never affects
// delivery to, or completion accounting of, the other plugins on the same
// event. Delivery is never retried, and no ordering exists between
// plugins' completions or between distinct events' side effects.
type EventDispatcher struct {
	cfg      HostConfig
	registry *PluginRegistry
	dedup    *DeduplicationManager
	gate     *StartupGate
	store    *SharedStateStore
	logger   Logger
	errDedup *ErrorDeduper
}

// NewEventDispatcher wires a dispatcher over the registry, dedup manager,
// and startup gate.
func NewEventDispatcher(cfg HostConfig, registry *PluginRegistry, dedup *DeduplicationManager, gate *StartupGate, store *SharedStateStore, logger any) *EventDispatcher {
	l := NewLogger(logger)
	return &EventDispatcher{
		cfg:      cfg,
		registry: registry,
		dedup:    dedup,
		gate:     gate,
		store:    store,
		logger:   l,
		errDedup: NewErrorDeduper(l),
	}
}

// handlerTask tracks one plugin's handler invocation for an event.
type handlerTask struct {
	plugin *loadedPlugin
	cancel context.CancelFunc
	done   chan struct{}
}

// Dispatch delivers one event to all active plugins and blocks until every
// handler finished, was cancelled, or was escalated. Callers that must not
// wait (the inbound HTTP path) run it on its own goroutine.
func (d *EventDispatcher) Dispatch(ctx context.Context, event Event) {
	if d.dedup.CheckEvent(event) {
		d.logger.Debug("Duplicate event suppressed", "post_type", event.PostType())
		return
	}

	if d.gate.ShouldReject() {
		d.logger.Debug("Event dropped by startup gate",
			"post_type", event.PostType(),
			"remaining", d.gate.Remaining(),
			"rejected_total", d.gate.RejectedCount())
		return
	}

	d.store.RecordEventProcessed()

	plugins := d.registry.Snapshot()
	if len(plugins) == 0 {
		return
	}

	tasks := make([]*handlerTask, 0, len(plugins))
	for _, plugin := range plugins {
		hctx, cancel := context.WithCancel(ctx)
		task := &handlerTask{plugin: plugin, cancel: cancel, done: make(chan struct{})}
		tasks = append(tasks, task)

		taskID := plugin.context.Tasks().Begin(cancel)
		go func(p *loadedPlugin, t *handlerTask) {
			defer close(t.done)
			defer p.context.Tasks().End(taskID)
			d.invoke(hctx, p, event)
		}(plugin, task)
	}

	d.waitAll(tasks)
}

// waitAll waits for every task against one global per-event timeout, then
// escalates the stragglers.
func (d *EventDispatcher) waitAll(tasks []*handlerTask) {
	timer := time.NewTimer(d.cfg.EventTimeout)
	defer timer.Stop()

	var pending []*handlerTask
	timedOut := false
	for _, task := range tasks {
		if timedOut {
			select {
			case <-task.done:
			default:
				pending = append(pending, task)
			}
			continue
		}
		select {
		case <-task.done:
		case <-timer.C:
			timedOut = true
			select {
			case <-task.done:
			default:
				pending = append(pending, task)
			}
		}
	}

	for _, task := range pending {
		d.escalate(task)
	}

	// Completed tasks need no inspection here: invoke already logged any
	// handler failure, and one plugin's failure never affects the others.
}

// escalate cancels one straggler and bounds the cancellation itself by the
// grace period. A task that does not terminate within the grace period is
// wedged; corrective action is an asynchronous forced reload of its
// plugin.
func (d *EventDispatcher) escalate(task *handlerTask) {
	name := task.plugin.name
	d.logger.Warn("Plugin handler exceeded event timeout, cancelling", "plugin", name)
	d.store.IncrementTimeoutCount()
	task.cancel()

	select {
	case <-task.done:
		d.logger.Info("Plugin handler cancelled cleanly", "plugin", name)
	case <-time.After(d.cfg.CancelGracePeriod):
		d.logger.Error("Plugin handler refused to terminate, forcing reload", "plugin", name)
		go d.registry.ReloadByName(context.Background(), name)
	}
}

// invoke runs one plugin handler with panic containment. Handler errors
// are logged (message-hash-deduplicated) and dropped; cancellations are
// the expected timeout path and not treated as handler failures.
func (d *EventDispatcher) invoke(ctx context.Context, plugin *loadedPlugin, event Event) {
	defer func() {
		if rec := recover(); rec != nil {
			d.errDedup.LogOnce(fmt.Sprintf("Plugin %s handler panic: %v", plugin.name, rec))
		}
	}()

	if err := plugin.handler.HandleEvent(ctx, event); err != nil {
		if ctx.Err() != nil {
			return
		}
		d.errDedup.LogOnce(fmt.Sprintf("Plugin %s handler error: %v", plugin.name, err))
	}
}
