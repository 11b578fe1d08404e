// host_test.go: Host lifecycle and runtime reconfiguration tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHostConfig(t *testing.T) HostConfig {
	t.Helper()
	cfg := DefaultHostConfig()
	cfg.PluginsDir = t.TempDir()
	cfg.LogsDir = t.TempDir()
	cfg.ListenPort = 0 // ephemeral port
	cfg.AutoInstallModules = false
	cfg.HotReloadInterval = 50 * time.Millisecond
	cfg.StatsInterval = 50 * time.Millisecond
	return cfg
}

func frameworkString(t *testing.T, store *SharedStateStore, key string) string {
	t.Helper()
	value, err := store.GetFrameworkValue(key, "")
	require.NoError(t, err)
	s, ok := value.(string)
	require.True(t, ok)
	return s
}

func TestNewHost_RejectsInvalidConfig(t *testing.T) {
	cfg := newTestHostConfig(t)
	cfg.EventTimeout = 0

	_, err := NewHost(cfg, nil, nil)
	assert.Error(t, err)
}

func TestHost_Lifecycle(t *testing.T) {
	cfg := newTestHostConfig(t)
	writePluginSource(t, cfg.PluginsDir, "greeter", `
function handle_event(event)
  host.set("last", event.post_type)
end
`)

	host, err := NewHost(cfg, nil, nil)
	require.NoError(t, err)

	require.NoError(t, host.Start(context.Background()))
	assert.Error(t, host.Start(context.Background()), "double start is rejected")

	assert.Equal(t, "running", frameworkString(t, host.State(), "framework.status"))
	assert.Equal(t, 1, host.Registry().Count())

	// Events flow end to end through the dispatcher.
	host.Dispatcher().Dispatch(context.Background(), Event{"post_type": "message"})
	assert.Equal(t, "message", host.State().GetPluginValue("greeter", "last", nil))

	// Stats loop refreshes uptime.
	assert.Eventually(t, func() bool {
		value, err := host.State().GetFrameworkValue("framework.runtime.uptime_seconds", float64(0))
		if err != nil {
			return false
		}
		uptime, ok := value.(float64)
		return ok && uptime > 0
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, host.Shutdown(context.Background()))
	assert.Equal(t, "stopped", frameworkString(t, host.State(), "framework.status"))
	assert.NoError(t, host.Shutdown(context.Background()), "repeated shutdown is a no-op")
}

func TestHost_HotReloadLoopPicksUpNewPlugins(t *testing.T) {
	cfg := newTestHostConfig(t)
	host, err := NewHost(cfg, nil, nil)
	require.NoError(t, err)
	require.NoError(t, host.Start(context.Background()))
	defer func() { _ = host.Shutdown(context.Background()) }()

	assert.Equal(t, 0, host.Registry().Count())

	writePluginSource(t, cfg.PluginsDir, "fresh", `function handle_event(event) end`)

	assert.Eventually(t, func() bool {
		return host.Registry().Count() == 1
	}, 3*time.Second, 25*time.Millisecond)
}

func TestHost_ApplyRuntimeConfig(t *testing.T) {
	cfg := newTestHostConfig(t)
	host, err := NewHost(cfg, nil, nil)
	require.NoError(t, err)

	assert.False(t, host.gate.Status().Enabled)
	assert.True(t, host.hotReload.Load())

	next := cfg
	next.EnableEventDeduplication = true
	next.StartupRejectEvents = true
	next.HotReload = false
	host.ApplyRuntimeConfig(next)

	assert.True(t, host.gate.Status().Enabled)
	assert.False(t, host.hotReload.Load())

	// Event dedup toggle is live.
	event := Event{"post_type": "message", "n": 1}
	assert.False(t, host.dedup.CheckEvent(event))
	assert.True(t, host.dedup.CheckEvent(event))
}
