// config_watcher_test.go: Configuration watcher start/stop contract tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agilira/argus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func changeEventFor(path string) argus.ChangeEvent {
	return argus.ChangeEvent{Path: path, ModTime: time.Now(), IsModify: true}
}

func newWatcherFixture(t *testing.T) (*HostConfigWatcher, string) {
	t.Helper()
	cfg := newTestHostConfig(t)
	host, err := NewHost(cfg, nil, nil)
	require.NoError(t, err)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("log_level: info\n"), 0o644))

	return NewHostConfigWatcher(host, configPath, nil), configPath
}

func TestHostConfigWatcher_StartStop(t *testing.T) {
	watcher, _ := newWatcherFixture(t)

	assert.False(t, watcher.IsRunning())
	require.NoError(t, watcher.Start())
	assert.True(t, watcher.IsRunning())

	assert.Error(t, watcher.Start(), "second start is rejected")

	require.NoError(t, watcher.Stop())
	assert.False(t, watcher.IsRunning())

	assert.Error(t, watcher.Start(), "stop is permanent")
	assert.NoError(t, watcher.Stop(), "repeated stop is a no-op")
}

func TestHostConfigWatcher_ChangeApplication(t *testing.T) {
	cfg := newTestHostConfig(t)
	host, err := NewHost(cfg, nil, nil)
	require.NoError(t, err)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("startup_reject_events: true\n"), 0o644))
	watcher := NewHostConfigWatcher(host, configPath, nil)

	// Apply the change handler directly; the Argus poll loop is exercised
	// by its own library tests.
	assert.False(t, host.gate.Status().Enabled)
	watcher.handleConfigChange(changeEventFor(configPath))
	assert.True(t, host.gate.Status().Enabled)
}

func TestHostConfigWatcher_BadFileKeepsCurrentConfig(t *testing.T) {
	cfg := newTestHostConfig(t)
	host, err := NewHost(cfg, nil, nil)
	require.NoError(t, err)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("{broken: ["), 0o644))
	watcher := NewHostConfigWatcher(host, configPath, nil)

	watcher.handleConfigChange(changeEventFor(configPath))
	assert.False(t, host.gate.Status().Enabled, "unparseable file leaves settings untouched")
}
