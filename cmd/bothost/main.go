// main.go: bothost runtime entrypoint
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	bothost "github.com/agilira/go-bothost"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to YAML configuration file")
	flag.Parse()

	cfg := bothost.DefaultHostConfig()
	if configPath != "" {
		loaded, err := bothost.LoadHostConfig(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bothost: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))

	var installer bothost.ModuleInstaller
	if cfg.AutoInstallModules {
		installer = bothost.NewCommandInstaller("", nil, logger)
	}

	host, err := bothost.NewHost(cfg, logger, installer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bothost: %v\n", err)
		os.Exit(1)
	}

	if err := host.Start(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "bothost: %v\n", err)
		os.Exit(1)
	}

	var watcher *bothost.HostConfigWatcher
	if configPath != "" {
		watcher = bothost.NewHostConfigWatcher(host, configPath, logger)
		if err := watcher.Start(); err != nil {
			logger.Warn("Configuration watcher failed to start", "error", err)
			watcher = nil
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Signal received, shutting down", "signal", sig)
	case err := <-host.ServeErr():
		logger.Error("Event server failed", "error", err)
	}

	if watcher != nil {
		_ = watcher.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := host.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
		os.Exit(1)
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
