// lua_plugin_test.go: Lua plugin instance and host binding tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePluginSource writes a plugin source file and returns its path.
func writePluginSource(t *testing.T, dir, name, source string) string {
	t.Helper()
	path := filepath.Join(dir, name+pluginSourceExt)
	require.NoError(t, os.WriteFile(path, []byte(source), 0o644))
	return path
}

// newTestPlugin loads a plugin from source with a fresh sandbox over store.
func newTestPlugin(t *testing.T, store *SharedStateStore, name, source string) *LuaPlugin {
	t.Helper()
	dir := t.TempDir()
	path := writePluginSource(t, dir, name, source)
	pctx, err := NewPluginContext(name, t.TempDir(), store)
	require.NoError(t, err)

	p, err := NewLuaPlugin(name, path, pctx, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNewLuaPlugin_Validation(t *testing.T) {
	store := NewSharedStateStore("1.0.0")
	dir := t.TempDir()

	t.Run("valid_plugin_loads", func(t *testing.T) {
		p := newTestPlugin(t, store, "echo", `
function handle_event(event)
  host.set("last_post_type", event.post_type)
end
`)
		info := p.Info()
		assert.Equal(t, "echo", info.Name)
		assert.False(t, info.LoadedAt.IsZero())
	})

	t.Run("missing_entry_point_is_rejected", func(t *testing.T) {
		path := writePluginSource(t, dir, "no_handler", `local x = 1`)
		pctx, err := NewPluginContext("no_handler", t.TempDir(), store)
		require.NoError(t, err)

		_, err = NewLuaPlugin("no_handler", path, pctx, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), PluginEntryPoint)
	})

	t.Run("entry_point_must_be_a_function", func(t *testing.T) {
		path := writePluginSource(t, dir, "not_fn", `handle_event = 42`)
		pctx, err := NewPluginContext("not_fn", t.TempDir(), store)
		require.NoError(t, err)

		_, err = NewLuaPlugin("not_fn", path, pctx, nil)
		assert.Error(t, err)
	})

	t.Run("syntax_error_is_rejected", func(t *testing.T) {
		path := writePluginSource(t, dir, "broken", `function handle_event( this is not lua`)
		pctx, err := NewPluginContext("broken", t.TempDir(), store)
		require.NoError(t, err)

		_, err = NewLuaPlugin("broken", path, pctx, nil)
		assert.Error(t, err)
	})

	t.Run("unsafe_libraries_are_closed", func(t *testing.T) {
		// io and os are not opened in the sandbox; touching them at load
		// time fails the plugin.
		path := writePluginSource(t, dir, "escapee", `
io.open("/etc/passwd")
function handle_event(event) end
`)
		pctx, err := NewPluginContext("escapee", t.TempDir(), store)
		require.NoError(t, err)

		_, err = NewLuaPlugin("escapee", path, pctx, nil)
		assert.Error(t, err)
	})
}

func TestLuaPlugin_HandleEvent(t *testing.T) {
	t.Run("handler_receives_the_event", func(t *testing.T) {
		store := NewSharedStateStore("1.0.0")
		p := newTestPlugin(t, store, "reader", `
function handle_event(event)
  host.set("post_type", event.post_type)
  host.set("user_id", event.sender.user_id)
  host.set("first_item", event.items[1])
end
`)
		err := p.HandleEvent(context.Background(), Event{
			"post_type": "message",
			"sender":    map[string]any{"user_id": 42},
			"items":     []any{"a", "b"},
		})
		require.NoError(t, err)

		assert.Equal(t, "message", store.GetPluginValue("reader", "post_type", nil))
		assert.Equal(t, int64(42), store.GetPluginValue("reader", "user_id", nil))
		assert.Equal(t, "a", store.GetPluginValue("reader", "first_item", nil))
	})

	t.Run("runtime_error_is_reported", func(t *testing.T) {
		store := NewSharedStateStore("1.0.0")
		p := newTestPlugin(t, store, "crasher", `
function handle_event(event)
  error("intentional failure")
end
`)
		err := p.HandleEvent(context.Background(), Event{"post_type": "message"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "intentional failure")

		// The instance survives a handler error.
		err = p.HandleEvent(context.Background(), Event{"post_type": "notice"})
		assert.Error(t, err)
	})

	t.Run("cancellation_interrupts_a_busy_handler", func(t *testing.T) {
		store := NewSharedStateStore("1.0.0")
		p := newTestPlugin(t, store, "spinner", `
function handle_event(event)
  while true do end
end
`)
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		start := time.Now()
		err := p.HandleEvent(ctx, Event{"post_type": "message"})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("closed_plugin_rejects_events", func(t *testing.T) {
		store := NewSharedStateStore("1.0.0")
		p := newTestPlugin(t, store, "closer", `function handle_event(event) end`)

		require.NoError(t, p.Close())
		err := p.HandleEvent(context.Background(), Event{"post_type": "message"})
		assert.Error(t, err)
	})
}

func TestLuaPlugin_HostBindings(t *testing.T) {
	t.Run("state_and_identity", func(t *testing.T) {
		store := NewSharedStateStore("1.0.0")
		p := newTestPlugin(t, store, "stateful", `
function handle_event(event)
  host.set("name", host.plugin_name())
  host.set("counter", host.get("counter", 0) + 1)
  host.set("temp", "x")
  host.set("deleted", host.delete("temp"))
end
`)
		require.NoError(t, p.HandleEvent(context.Background(), Event{}))
		require.NoError(t, p.HandleEvent(context.Background(), Event{}))

		assert.Equal(t, "stateful", store.GetPluginValue("stateful", "name", nil))
		assert.Equal(t, int64(2), store.GetPluginValue("stateful", "counter", nil))
		assert.Equal(t, true, store.GetPluginValue("stateful", "deleted", nil))
		assert.Nil(t, store.GetPluginValue("stateful", "temp", nil))
	})

	t.Run("cross_plugin_grants", func(t *testing.T) {
		store := NewSharedStateStore("1.0.0")
		owner := newTestPlugin(t, store, "owner", `
function handle_event(event)
  host.set("shared", "payload")
  if event.grant then host.grant("peer") end
  if event.revoke then host.revoke("peer") end
end
`)
		peer := newTestPlugin(t, store, "peer", `
function handle_event(event)
  host.set("seen", host.get_other("owner", "shared", "denied"))
end
`)

		require.NoError(t, owner.HandleEvent(context.Background(), Event{}))
		require.NoError(t, peer.HandleEvent(context.Background(), Event{}))
		assert.Equal(t, "denied", store.GetPluginValue("peer", "seen", nil))

		require.NoError(t, owner.HandleEvent(context.Background(), Event{"grant": true}))
		require.NoError(t, peer.HandleEvent(context.Background(), Event{}))
		assert.Equal(t, "payload", store.GetPluginValue("peer", "seen", nil))

		require.NoError(t, owner.HandleEvent(context.Background(), Event{"revoke": true}))
		require.NoError(t, peer.HandleEvent(context.Background(), Event{}))
		assert.Equal(t, "denied", store.GetPluginValue("peer", "seen", nil))
	})

	t.Run("framework_view_is_readable", func(t *testing.T) {
		store := NewSharedStateStore("7.7.7")
		p := newTestPlugin(t, store, "observer", `
function handle_event(event)
  host.set("fw_version", host.framework_get("framework.version", "?"))
  host.set("fw_missing", host.framework_get("framework.nope", "fallback"))
end
`)
		require.NoError(t, p.HandleEvent(context.Background(), Event{}))
		assert.Equal(t, "7.7.7", store.GetPluginValue("observer", "fw_version", nil))
		assert.Equal(t, "fallback", store.GetPluginValue("observer", "fw_missing", nil))
	})

	t.Run("invoke_without_gateway_reports_error", func(t *testing.T) {
		store := NewSharedStateStore("1.0.0")
		p := newTestPlugin(t, store, "caller", `
function handle_event(event)
  local result, err = host.invoke("send_msg", {message = "hi"})
  host.set("got_result", result ~= nil)
  host.set("got_error", err ~= nil)
end
`)
		require.NoError(t, p.HandleEvent(context.Background(), Event{}))
		assert.Equal(t, false, store.GetPluginValue("caller", "got_result", nil))
		assert.Equal(t, true, store.GetPluginValue("caller", "got_error", nil))
	})

	t.Run("plugin_logger_writes_to_its_sink", func(t *testing.T) {
		store := NewSharedStateStore("1.0.0")
		logsDir := t.TempDir()
		path := writePluginSource(t, t.TempDir(), "talker", `
function handle_event(event)
  host.log_info("handled an event")
end
`)
		pctx, err := NewPluginContext("talker", logsDir, store)
		require.NoError(t, err)
		p, err := NewLuaPlugin("talker", path, pctx, nil)
		require.NoError(t, err)
		defer func() { _ = p.Close() }()

		require.NoError(t, p.HandleEvent(context.Background(), Event{}))

		data, err := os.ReadFile(filepath.Join(logsDir, "plugin_talker.log"))
		require.NoError(t, err)
		assert.Contains(t, string(data), "handled an event")
	})
}

func TestLuaValueConversion(t *testing.T) {
	store := NewSharedStateStore("1.0.0")
	p := newTestPlugin(t, store, "shapes", `
function handle_event(event)
  host.set("table", {a = 1, b = "two", nested = {true, false}})
  host.set("array", {"x", "y", "z"})
  host.set("float", 1.5)
end
`)
	require.NoError(t, p.HandleEvent(context.Background(), Event{}))

	asMap, ok := store.GetPluginValue("shapes", "table", nil).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(1), asMap["a"])
	assert.Equal(t, "two", asMap["b"])
	assert.Equal(t, []any{true, false}, asMap["nested"])

	assert.Equal(t, []any{"x", "y", "z"}, store.GetPluginValue("shapes", "array", nil))
	assert.Equal(t, 1.5, store.GetPluginValue("shapes", "float", nil))
}
