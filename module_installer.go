// module_installer.go: Best-effort dependency installation for plugins
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"context"
	"os/exec"
	"regexp"
	"time"
)

// modulePattern restricts installable module names to safe identifiers so
// a plugin source cannot smuggle shell metacharacters into the install
// command.
var modulePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// CommandInstaller installs plugin dependencies by invoking an external
// package manager (luarocks by default), bounded per module by the
// configured timeout. Installation is best effort from the host's point of
// view: a false return aborts the load of the requiring plugin only.
type CommandInstaller struct {
	command string
	args    []string
	logger  Logger
}

// NewCommandInstaller creates an installer that runs command with args
// followed by the module name. Passing an empty command selects the
// default "luarocks install".
func NewCommandInstaller(command string, args []string, logger any) *CommandInstaller {
	if command == "" {
		command = "luarocks"
		args = []string{"install"}
	}
	return &CommandInstaller{
		command: command,
		args:    args,
		logger:  NewLogger(logger),
	}
}

// InstallModule runs the install command for one module and reports
// whether it succeeded within the timeout.
func (i *CommandInstaller) InstallModule(ctx context.Context, name string, timeout time.Duration) bool {
	if !modulePattern.MatchString(name) {
		i.logger.Warn("Rejected module name for installation", "module", name)
		return false
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, i.args...), name)
	cmd := exec.CommandContext(cctx, i.command, args...)

	start := time.Now()
	output, err := cmd.CombinedOutput()
	if err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			i.logger.Error("Module installation timed out", "module", name, "timeout", timeout)
		} else {
			i.logger.Error("Module installation failed",
				"module", name, "error", err, "output", string(output))
		}
		return false
	}

	i.logger.Info("Module installed", "module", name, "elapsed", time.Since(start))
	return true
}
