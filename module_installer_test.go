// module_installer_test.go: External dependency installer tests
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
)

func TestCommandInstaller(t *testing.T) {
	t.Run("successful_command", func(t *testing.T) {
		installer := NewCommandInstaller("true", nil, nil)
		assert.True(t, installer.InstallModule(context.Background(), "socket", 5*time.Second))
	})

	t.Run("failing_command", func(t *testing.T) {
		installer := NewCommandInstaller("false", nil, nil)
		assert.False(t, installer.InstallModule(context.Background(), "socket", 5*time.Second))
	})

	t.Run("timeout_kills_the_command", func(t *testing.T) {
		installer := NewCommandInstaller("sleep", nil, nil)
		start := time.Now()
		assert.False(t, installer.InstallModule(context.Background(), "5", 100*time.Millisecond))
		assert.Less(t, time.Since(start), 3*time.Second)
	})

	t.Run("unsafe_module_names_are_rejected", func(t *testing.T) {
		installer := NewCommandInstaller("true", nil, nil)
		assert.False(t, installer.InstallModule(context.Background(), "x; rm -rf /", time.Second))
		assert.False(t, installer.InstallModule(context.Background(), "$(whoami)", time.Second))
		assert.False(t, installer.InstallModule(context.Background(), "", time.Second))
	})

	t.Run("empty_command_defaults_to_luarocks", func(t *testing.T) {
		installer := NewCommandInstaller("", nil, nil)
		assert.Equal(t, "luarocks", installer.command)
		assert.Equal(t, []string{"install"}, installer.args)
	})
}

func TestNoInstaller(t *testing.T) {
	assert.False(t, NoInstaller{}.InstallModule(context.Background(), "anything", time.Second))
}
