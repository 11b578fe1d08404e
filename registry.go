// registry.go: Plugin discovery, lifecycle, and file-change detection
//
// This file implements the host-side plugin registry. It owns discovery of
// plugin source files, load/reload/unload, change detection, and delegation
// of dependency resolution to the external module installer.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// pluginSourceExt is the extension of plugin source units in the plugin
// directory; one file is one plugin.
const pluginSourceExt = ".lua"

// pluginFileRecord identifies a plugin source file's content cheaply:
// modification time is compared first, and the content hash is recomputed
// only when the mtime changed. A touch without byte changes is therefore
// not a real change.
type pluginFileRecord struct {
	path    string
	modTime time.Time
	hash    string
	size    int64
}

// loadedPlugin pairs a live handler instance with its sandbox.
type loadedPlugin struct {
	name    string
	handler EventHandler
	context *PluginContext
	source  string
}

// PluginRegistry manages the plugin population on the host side.
//
// Key responsibilities:
//   - Plugin discovery in the configured plugin directory
//   - Load, reload, and unload with all-or-nothing semantics
//   - mtime+hash change detection driving hot reload
//   - Dependency resolution delegation to the ModuleInstaller
//   - Plugin counters pushed into the framework state tier
//
// Module names are unique: reload replaces, never duplicates, an entry, so
// at most one live instance exists per name at any instant. A coarse mutex
// guards the shared maps; dispatch takes a defensive snapshot instead of
// iterating them directly.
type PluginRegistry struct {
	cfg       HostConfig
	store     *SharedStateStore
	gateway   *GatewayClient
	installer ModuleInstaller
	logger    Logger
	errDedup  *ErrorDeduper

	plugins          map[string]*loadedPlugin
	fileRecords      map[string]pluginFileRecord
	installedModules map[string]struct{}
	mu               sync.RWMutex
}

// NewPluginRegistry creates a registry. The gateway client may be nil in
// hosts that never let plugins call out; the installer defaults to
// NoInstaller when nil.
func NewPluginRegistry(cfg HostConfig, store *SharedStateStore, gateway *GatewayClient, installer ModuleInstaller, logger any) *PluginRegistry {
	if installer == nil {
		installer = NoInstaller{}
	}
	l := NewLogger(logger)
	return &PluginRegistry{
		cfg:              cfg,
		store:            store,
		gateway:          gateway,
		installer:        installer,
		logger:           l,
		errDedup:         NewErrorDeduper(l),
		plugins:          make(map[string]*loadedPlugin),
		fileRecords:      make(map[string]pluginFileRecord),
		installedModules: make(map[string]struct{}),
	}
}

// moduleNameFromPath derives the stable plugin name from its source file.
func moduleNameFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), pluginSourceExt)
}

// fileInfo stats and hashes a plugin source file.
func fileInfo(path string) (pluginFileRecord, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return pluginFileRecord{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return pluginFileRecord{}, err
	}
	defer func() { _ = f.Close() }()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return pluginFileRecord{}, err
	}

	return pluginFileRecord{
		path:    path,
		modTime: stat.ModTime(),
		hash:    hex.EncodeToString(hasher.Sum(nil)),
		size:    stat.Size(),
	}, nil
}

// isFileChanged reports whether the file's content really changed relative
// to the old record. The mtime is checked first; only a differing mtime
// triggers the hash recomputation.
func isFileChanged(path string, old pluginFileRecord) bool {
	stat, err := os.Stat(path)
	if err != nil {
		return false
	}
	if stat.ModTime().Equal(old.modTime) {
		return false
	}
	current, err := fileInfo(path)
	if err != nil {
		return false
	}
	return current.hash != old.hash
}

// listPluginFiles returns the plugin source files currently on disk.
func (r *PluginRegistry) listPluginFiles() ([]string, error) {
	entries, err := os.ReadDir(r.cfg.PluginsDir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), pluginSourceExt) {
			continue
		}
		files = append(files, filepath.Join(r.cfg.PluginsDir, entry.Name()))
	}
	return files, nil
}

// LoadAll performs the initial scan of the plugin directory, loading every
// source file and publishing the loaded/rejected counters.
func (r *PluginRegistry) LoadAll(ctx context.Context) {
	files, err := r.listPluginFiles()
	if err != nil {
		r.logger.Warn("Plugin directory not readable", "dir", r.cfg.PluginsDir, "error", err)
		r.store.UpdatePluginCounts(0, 0)
		return
	}

	loaded, rejected := 0, 0
	for _, path := range files {
		if err := r.load(ctx, path); err != nil {
			rejected++
			r.errDedup.LogOnce(fmt.Sprintf("Failed to load plugin %s: %v", filepath.Base(path), err))
			continue
		}
		loaded++
		r.logger.Info("Loaded plugin", "plugin", moduleNameFromPath(path))
	}

	r.store.UpdatePluginCounts(loaded, rejected)
	r.logger.Info("Initial plugin load complete", "loaded", loaded, "rejected", rejected)
}

// load validates, instantiates, and registers the plugin from one source
// file. Nothing is registered on failure. The caller owns counters.
func (r *PluginRegistry) load(ctx context.Context, path string) error {
	name := moduleNameFromPath(path)

	record, err := fileInfo(path)
	if err != nil {
		return NewPluginLoadError(name, err)
	}

	if r.cfg.AutoInstallModules {
		if err := r.resolveDependencies(ctx, name, path); err != nil {
			return err
		}
	}

	pctx, err := NewPluginContext(name, r.cfg.LogsDir, r.store)
	if err != nil {
		return NewPluginLoadError(name, err)
	}

	handler, err := NewLuaPlugin(name, path, pctx, r.gateway)
	if err != nil {
		_ = pctx.logSink.Remove()
		return err
	}

	r.mu.Lock()
	if previous, exists := r.plugins[name]; exists {
		// Reload path ensures teardown first; a stray previous instance
		// here means a duplicate file name race. Replace, never duplicate.
		// The new context has already reopened the same log path, so the
		// old sandbox is released rather than cleaned up: tasks cancelled
		// and drained, sink closed, file left to the new owner.
		r.mu.Unlock()
		previous.context.Release(r.cfg.CancelGracePeriod)
		_ = previous.handler.Close()
		r.mu.Lock()
	}
	r.plugins[name] = &loadedPlugin{
		name:    name,
		handler: handler,
		context: pctx,
		source:  path,
	}
	r.fileRecords[path] = record
	r.mu.Unlock()

	return nil
}

// luaRequirePattern matches top-level require calls in plugin source.
var luaRequirePattern = regexp.MustCompile(`(?m)require\s*\(?\s*["']([A-Za-z0-9_.\-]+)["']`)

// luaBuiltinModules are modules the interpreter resolves on its own; they
// are never handed to the installer.
var luaBuiltinModules = map[string]struct{}{
	"string": {}, "table": {}, "math": {}, "os": {}, "io": {},
	"coroutine": {}, "debug": {}, "utf8": {}, "package": {}, "host": {},
}

// resolveDependencies scans the source's require statements and installs
// unresolved modules through the external installer, each within the
// bounded timeout. Any failure aborts the load so the plugin is never
// partially loaded.
func (r *PluginRegistry) resolveDependencies(ctx context.Context, name, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return NewPluginLoadError(name, err)
	}

	seen := make(map[string]struct{})
	for _, match := range luaRequirePattern.FindAllStringSubmatch(string(content), -1) {
		module := match[1]
		if _, builtin := luaBuiltinModules[module]; builtin {
			continue
		}
		if _, done := seen[module]; done {
			continue
		}
		seen[module] = struct{}{}

		r.mu.RLock()
		_, installed := r.installedModules[module]
		r.mu.RUnlock()
		if installed {
			continue
		}

		r.logger.Info("Installing plugin dependency", "plugin", name, "module", module)
		if !r.installer.InstallModule(ctx, module, r.cfg.ModuleInstallTimeout) {
			return NewPluginDependencyError(name, module)
		}
		r.mu.Lock()
		r.installedModules[module] = struct{}{}
		r.mu.Unlock()
	}
	return nil
}

// Reload performs a full teardown of the plugin built from path, then
// loads it fresh. Registry consistency is idempotent: after N reloads of
// the same file exactly one instance is registered under the module name,
// with an empty active-task set.
func (r *PluginRegistry) Reload(ctx context.Context, path string) bool {
	name := moduleNameFromPath(path)

	r.teardown(name)

	if err := r.load(ctx, path); err != nil {
		r.store.AddRejectedPlugins(1)
		r.errDedup.LogOnce(fmt.Sprintf("Failed to reload plugin %s: %v", name, err))
		return false
	}

	r.store.IncrementReloadCount()
	r.logger.Info("Reloaded plugin", "plugin", name)
	return true
}

// ReloadByName reloads a registered plugin from its recorded source file.
// Used by the dispatcher's forced-reload escalation.
func (r *PluginRegistry) ReloadByName(ctx context.Context, name string) bool {
	r.mu.RLock()
	plugin, ok := r.plugins[name]
	r.mu.RUnlock()
	if !ok {
		r.logger.Error("Cannot reload unknown plugin", "plugin", name)
		return false
	}
	return r.Reload(ctx, plugin.source)
}

// Unload tears a plugin down and removes it from the registry,
// decrementing the loaded-plugin counter.
func (r *PluginRegistry) Unload(name string) bool {
	r.mu.RLock()
	plugin, ok := r.plugins[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	r.teardown(name)

	r.mu.Lock()
	delete(r.fileRecords, plugin.source)
	r.mu.Unlock()

	r.store.AddLoadedPlugins(-1)
	r.logger.Info("Unloaded plugin", "plugin", name)
	return true
}

// teardown cancels the plugin's active tasks with a bounded grace wait,
// closes its handler and log sink, and forgets the registration. Safe to
// call for names that are not registered.
func (r *PluginRegistry) teardown(name string) {
	r.mu.Lock()
	plugin, ok := r.plugins[name]
	if ok {
		delete(r.plugins, name)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	if drained := plugin.context.Cleanup(r.cfg.CancelGracePeriod); !drained {
		r.logger.Warn("Plugin task drain timed out during teardown", "plugin", name)
	}
	_ = plugin.handler.Close()
}

// CheckForUpdates runs one hot-reload scan: new files are loaded, removed
// files force-unloaded, and files whose content really changed reloaded.
func (r *PluginRegistry) CheckForUpdates(ctx context.Context) {
	files, err := r.listPluginFiles()
	if err != nil {
		r.logger.Warn("Hot-reload scan failed", "dir", r.cfg.PluginsDir, "error", err)
		return
	}

	onDisk := make(map[string]struct{}, len(files))
	for _, path := range files {
		onDisk[path] = struct{}{}
	}

	r.mu.RLock()
	known := make(map[string]pluginFileRecord, len(r.fileRecords))
	for path, record := range r.fileRecords {
		known[path] = record
	}
	r.mu.RUnlock()

	// New files attempt load.
	for _, path := range files {
		if _, tracked := known[path]; tracked {
			continue
		}
		if err := r.load(ctx, path); err != nil {
			r.store.AddRejectedPlugins(1)
			r.errDedup.LogOnce(fmt.Sprintf("Failed to load new plugin %s: %v", filepath.Base(path), err))
			continue
		}
		r.store.AddLoadedPlugins(1)
		r.logger.Info("Discovered and loaded new plugin", "plugin", moduleNameFromPath(path))
	}

	// Removed files force-unload.
	for path := range known {
		if _, exists := onDisk[path]; exists {
			continue
		}
		name := moduleNameFromPath(path)
		if r.Unload(name) {
			r.logger.Info("Plugin source removed, unloaded", "plugin", name)
		} else {
			r.mu.Lock()
			delete(r.fileRecords, path)
			r.mu.Unlock()
		}
	}

	// Changed files reload.
	for path, record := range known {
		if _, exists := onDisk[path]; !exists {
			continue
		}
		if !isFileChanged(path, record) {
			continue
		}
		r.logger.Info("Plugin source change detected", "file", filepath.Base(path))
		r.Reload(ctx, path)
	}
}

// Snapshot returns a defensive copy of the active plugin list, isolating
// dispatch from concurrent reload and unload.
func (r *PluginRegistry) Snapshot() []*loadedPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make([]*loadedPlugin, 0, len(r.plugins))
	for _, plugin := range r.plugins {
		snapshot = append(snapshot, plugin)
	}
	return snapshot
}

// Get returns the live plugin registered under name.
func (r *PluginRegistry) Get(name string) (*loadedPlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	plugin, ok := r.plugins[name]
	return plugin, ok
}

// Count returns the number of registered plugins.
func (r *PluginRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// Shutdown tears down every registered plugin.
func (r *PluginRegistry) Shutdown() {
	for _, plugin := range r.Snapshot() {
		r.teardown(plugin.name)
	}
}
