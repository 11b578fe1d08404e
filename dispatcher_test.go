// dispatcher_test.go: Event fan-out, timeout escalation, and isolation tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubHandler is a scriptable EventHandler for dispatcher tests.
type stubHandler struct {
	name       string
	block      time.Duration
	obeyCancel bool
	err        error
	panics     bool
	calls      atomic.Int32
}

func (h *stubHandler) Info() PluginInfo {
	return PluginInfo{Name: h.name}
}

func (h *stubHandler) HandleEvent(ctx context.Context, event Event) error {
	h.calls.Add(1)
	if h.panics {
		panic("stub handler panic")
	}
	if h.block > 0 {
		if h.obeyCancel {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(h.block):
			}
		} else {
			time.Sleep(h.block)
		}
	}
	return h.err
}

func (h *stubHandler) Close() error { return nil }

// dispatcherFixture wires a dispatcher over a registry populated with stub
// handlers.
type dispatcherFixture struct {
	cfg        HostConfig
	store      *SharedStateStore
	dedup      *DeduplicationManager
	gate       *StartupGate
	registry   *PluginRegistry
	dispatcher *EventDispatcher
}

func newDispatcherFixture(t *testing.T, mutate func(*HostConfig)) *dispatcherFixture {
	t.Helper()
	cfg := DefaultHostConfig()
	cfg.PluginsDir = t.TempDir()
	cfg.LogsDir = t.TempDir()
	cfg.AutoInstallModules = false
	cfg.EventTimeout = 150 * time.Millisecond
	cfg.CancelGracePeriod = 100 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	store := NewSharedStateStore(FrameworkVersion)
	dedup := NewDeduplicationManager(cfg)
	gate := NewStartupGate(cfg.StartupRejectEvents, cfg.StartupRejectDuration)
	registry := NewPluginRegistry(cfg, store, nil, nil, nil)
	t.Cleanup(registry.Shutdown)

	return &dispatcherFixture{
		cfg:        cfg,
		store:      store,
		dedup:      dedup,
		gate:       gate,
		registry:   registry,
		dispatcher: NewEventDispatcher(cfg, registry, dedup, gate, store, nil),
	}
}

// register installs a stub handler as a live plugin. A non-empty source
// path makes forced reload viable for the entry.
func (f *dispatcherFixture) register(t *testing.T, h *stubHandler, source string) {
	t.Helper()
	pctx, err := NewPluginContext(h.name, f.cfg.LogsDir, f.store)
	require.NoError(t, err)

	f.registry.mu.Lock()
	f.registry.plugins[h.name] = &loadedPlugin{name: h.name, handler: h, context: pctx, source: source}
	if source != "" {
		if rec, err := fileInfo(source); err == nil {
			f.registry.fileRecords[source] = rec
		}
	}
	f.registry.mu.Unlock()
}

func (f *dispatcherFixture) counter(t *testing.T, key string) int {
	t.Helper()
	return frameworkInt(t, f.store, key)
}

func TestEventDispatcher_FanOut(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	a := &stubHandler{name: "alpha"}
	b := &stubHandler{name: "beta"}
	f.register(t, a, "")
	f.register(t, b, "")

	f.dispatcher.Dispatch(context.Background(), Event{"post_type": "message"})

	assert.Equal(t, int32(1), a.calls.Load())
	assert.Equal(t, int32(1), b.calls.Load())
	assert.Equal(t, 1, f.counter(t, "framework.runtime.total_events_processed"))
}

func TestEventDispatcher_DuplicateSuppression(t *testing.T) {
	f := newDispatcherFixture(t, func(c *HostConfig) {
		c.EnableEventDeduplication = true
	})
	h := &stubHandler{name: "alpha"}
	f.register(t, h, "")

	event := Event{"post_type": "message", "message": "hi", "user_id": 42}
	f.dispatcher.Dispatch(context.Background(), event)
	f.dispatcher.Dispatch(context.Background(), Event{"user_id": 42, "message": "hi", "post_type": "message"})

	assert.Equal(t, int32(1), h.calls.Load(), "duplicate within the window invokes no handler")
	assert.Equal(t, 1, f.counter(t, "framework.runtime.total_events_processed"))
}

func TestEventDispatcher_StartupGateDropsEvents(t *testing.T) {
	f := newDispatcherFixture(t, func(c *HostConfig) {
		c.StartupRejectEvents = true
	})
	h := &stubHandler{name: "alpha"}
	f.register(t, h, "")

	f.dispatcher.Dispatch(context.Background(), Event{"post_type": "message"})
	f.dispatcher.Dispatch(context.Background(), Event{"post_type": "notice"})

	assert.Equal(t, int32(0), h.calls.Load())
	assert.Equal(t, int64(2), f.gate.RejectedCount())
	assert.Equal(t, 0, f.counter(t, "framework.runtime.total_events_processed"))

	// Window over: events flow again.
	f.gate.endTime = time.Now().Add(-time.Second)
	f.dispatcher.Dispatch(context.Background(), Event{"post_type": "message", "n": 2})
	assert.Equal(t, int32(1), h.calls.Load())
}

func TestEventDispatcher_BulkheadIsolation(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	failing := &stubHandler{name: "failing", err: errors.New("handler exploded")}
	panicking := &stubHandler{name: "panicking", panics: true}
	healthy := &stubHandler{name: "healthy"}
	f.register(t, failing, "")
	f.register(t, panicking, "")
	f.register(t, healthy, "")

	f.dispatcher.Dispatch(context.Background(), Event{"post_type": "message"})

	assert.Equal(t, int32(1), failing.calls.Load())
	assert.Equal(t, int32(1), panicking.calls.Load())
	assert.Equal(t, int32(1), healthy.calls.Load())
	assert.Equal(t, 0, f.counter(t, "framework.plugins.timeout_count"))
}

func TestEventDispatcher_TimeoutCancelsCleanly(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	slow := &stubHandler{name: "slow", block: 5 * time.Second, obeyCancel: true}
	fast := &stubHandler{name: "fast"}
	f.register(t, slow, "")
	f.register(t, fast, "")

	start := time.Now()
	f.dispatcher.Dispatch(context.Background(), Event{"post_type": "message"})

	assert.Less(t, time.Since(start), 2*time.Second, "dispatch bounded by timeout plus grace")
	assert.Equal(t, 1, f.counter(t, "framework.plugins.timeout_count"))
	assert.Equal(t, 0, f.counter(t, "framework.plugins.reload_count"),
		"a handler that honors cancellation is not reloaded")
	assert.Equal(t, int32(1), fast.calls.Load())
}

func TestEventDispatcher_WedgedHandlerForcesReload(t *testing.T) {
	f := newDispatcherFixture(t, nil)

	// The wedged plugin is backed by a real source file so the forced
	// reload can rebuild it as a live plugin.
	source := writePluginSource(t, f.cfg.PluginsDir, "wedged", `function handle_event(event) end`)
	wedged := &stubHandler{name: "wedged", block: 2 * time.Second}
	healthy := &stubHandler{name: "healthy"}
	f.register(t, wedged, source)
	f.register(t, healthy, "")

	f.dispatcher.Dispatch(context.Background(), Event{"post_type": "message"})

	assert.Equal(t, int32(1), healthy.calls.Load(), "other plugins are unaffected")
	assert.Equal(t, 1, f.counter(t, "framework.plugins.timeout_count"))

	// The forced reload runs asynchronously after the grace period.
	assert.Eventually(t, func() bool {
		return f.counter(t, "framework.plugins.reload_count") == 1
	}, 5*time.Second, 50*time.Millisecond)

	assert.Eventually(t, func() bool {
		plugin, ok := f.registry.Get("wedged")
		if !ok {
			return false
		}
		_, isLua := plugin.handler.(*LuaPlugin)
		return isLua
	}, 5*time.Second, 50*time.Millisecond, "wedged instance replaced by a fresh one")
}

func TestEventDispatcher_NoPluginsIsANoOp(t *testing.T) {
	f := newDispatcherFixture(t, nil)

	f.dispatcher.Dispatch(context.Background(), Event{"post_type": "message"})

	assert.Equal(t, 1, f.counter(t, "framework.runtime.total_events_processed"))
}
