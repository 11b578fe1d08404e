// state.go: Shared state store with access grants and integrity hashing
//
// This file implements the two-tier shared state service: a framework tier
// writable only by internal host operations and readable by everyone
// through a read-only projection, and a per-plugin tier where each plugin
// freely mutates its own namespace and may grant other plugins read access.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

// SharedStateStore is a concurrency-safe key/value store shared between the
// host and its plugins.
//
// Framework tier: dot-namespaced keys (framework.plugins.loaded_count, ...)
// written only by the host's internal setters. Every write stores a content
// hash alongside the value; every read recomputes the hash of the fetched
// value and compares, raising an integrity-violation error on mismatch.
// This converts silent aliasing or out-of-band mutation into a detectable
// failure instead of masking it. It is a diagnostic, not a security
// boundary.
//
// Plugin tier: a flat key/value namespace per plugin. Cross-plugin reads
// require an explicit grant from the target namespace's owner; absent a
// grant the caller's default is returned, never an error.
//
// A single coarse mutex guards both tiers so read-modify-write sequences
// never observe partially updated structures.
type SharedStateStore struct {
	frameworkVars map[string]any
	valueHashes   map[string]string

	pluginVars    map[string]map[string]any
	accessControl map[string]map[string]struct{}

	mu sync.RWMutex
}

// NewSharedStateStore creates a store pre-seeded with the framework tier.
func NewSharedStateStore(version string) *SharedStateStore {
	s := &SharedStateStore{
		frameworkVars: make(map[string]any),
		valueHashes:   make(map[string]string),
		pluginVars:    make(map[string]map[string]any),
		accessControl: make(map[string]map[string]struct{}),
	}
	s.initializeFrameworkVars(version)
	return s
}

func (s *SharedStateStore) initializeFrameworkVars(version string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seed := map[string]any{
		"framework.version":    version,
		"framework.start_time": timecache.CachedTime().Format(time.RFC3339),
		"framework.status":     "initializing",

		"framework.plugins.loaded_count":   0,
		"framework.plugins.rejected_count": 0,
		"framework.plugins.timeout_count":  0,
		"framework.plugins.reload_count":   0,

		"framework.runtime.total_events_processed": 0,
		"framework.runtime.last_event_time":        "",
		"framework.runtime.uptime_seconds":         float64(0),

		"framework.performance.api_requests_total":  0,
		"framework.performance.api_requests_failed": 0,
		"framework.performance.plugin_timeouts":     0,

		"framework.system.last_cleanup_time": "",
		"framework.system.last_reload_check": "",
		"framework.system.is_healthy":        true,
	}
	for key, value := range seed {
		s.frameworkVars[key] = value
		s.valueHashes[key] = hashCanonical(value)
	}
}

// GetFrameworkValue returns a framework-tier value, or the default when the
// key is unset. A stored value whose recomputed hash no longer matches the
// hash written by the setter yields an integrity-violation error.
func (s *SharedStateStore) GetFrameworkValue(key string, def any) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.frameworkVars[key]
	if !ok {
		return def, nil
	}
	if stored, hashed := s.valueHashes[key]; hashed && hashCanonical(value) != stored {
		return nil, NewIntegrityViolationError(key)
	}
	return value, nil
}

// FrameworkSnapshot returns a verified copy of the whole framework tier.
func (s *SharedStateStore) FrameworkSnapshot() (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(map[string]any, len(s.frameworkVars))
	for key, value := range s.frameworkVars {
		if stored, hashed := s.valueHashes[key]; hashed && hashCanonical(value) != stored {
			return nil, NewIntegrityViolationError(key)
		}
		snapshot[key] = value
	}
	return snapshot, nil
}

// setFrameworkValue writes a framework-tier value and its integrity hash.
// Internal framework operations only; plugins have no path to it.
func (s *SharedStateStore) setFrameworkValue(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setFrameworkValueLocked(key, value)
}

func (s *SharedStateStore) setFrameworkValueLocked(key string, value any) {
	s.frameworkVars[key] = value
	s.valueHashes[key] = hashCanonical(value)
}

// UpdateFrameworkStatus records the host lifecycle phase.
func (s *SharedStateStore) UpdateFrameworkStatus(status string) {
	s.setFrameworkValue("framework.status", status)
}

// UpdatePluginCounts overwrites the loaded/rejected plugin counters.
func (s *SharedStateStore) UpdatePluginCounts(loaded, rejected int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setFrameworkValueLocked("framework.plugins.loaded_count", loaded)
	s.setFrameworkValueLocked("framework.plugins.rejected_count", rejected)
}

// AddLoadedPlugins adjusts the loaded-plugin counter by delta, atomically
// under the store lock.
func (s *SharedStateStore) AddLoadedPlugins(delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, _ := s.frameworkVars["framework.plugins.loaded_count"].(int)
	s.setFrameworkValueLocked("framework.plugins.loaded_count", current+delta)
}

// AddRejectedPlugins adjusts the rejected-plugin counter by delta.
func (s *SharedStateStore) AddRejectedPlugins(delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, _ := s.frameworkVars["framework.plugins.rejected_count"].(int)
	s.setFrameworkValueLocked("framework.plugins.rejected_count", current+delta)
}

// IncrementReloadCount bumps the plugin reload counter.
func (s *SharedStateStore) IncrementReloadCount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, _ := s.frameworkVars["framework.plugins.reload_count"].(int)
	s.setFrameworkValueLocked("framework.plugins.reload_count", current+1)
}

// IncrementTimeoutCount bumps the handler timeout counter, in both the
// plugin and the performance views.
func (s *SharedStateStore) IncrementTimeoutCount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, _ := s.frameworkVars["framework.plugins.timeout_count"].(int)
	s.setFrameworkValueLocked("framework.plugins.timeout_count", current+1)
	timeouts, _ := s.frameworkVars["framework.performance.plugin_timeouts"].(int)
	s.setFrameworkValueLocked("framework.performance.plugin_timeouts", timeouts+1)
}

// IncrementAPIRequests bumps the outbound gateway request counter, and the
// failure counter when the request did not succeed. Cached duplicate
// results never reach this path.
func (s *SharedStateStore) IncrementAPIRequests(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total, _ := s.frameworkVars["framework.performance.api_requests_total"].(int)
	s.setFrameworkValueLocked("framework.performance.api_requests_total", total+1)
	if !success {
		failed, _ := s.frameworkVars["framework.performance.api_requests_failed"].(int)
		s.setFrameworkValueLocked("framework.performance.api_requests_failed", failed+1)
	}
}

// RecordEventProcessed bumps the processed-event counter and stamps the
// last event time.
func (s *SharedStateStore) RecordEventProcessed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, _ := s.frameworkVars["framework.runtime.total_events_processed"].(int)
	s.setFrameworkValueLocked("framework.runtime.total_events_processed", current+1)
	s.setFrameworkValueLocked("framework.runtime.last_event_time", timecache.CachedTime().Format(time.RFC3339))
}

// UpdateRuntimeStats refreshes uptime and health.
func (s *SharedStateStore) UpdateRuntimeStats(uptime time.Duration, healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setFrameworkValueLocked("framework.runtime.uptime_seconds", uptime.Seconds())
	s.setFrameworkValueLocked("framework.system.is_healthy", healthy)
}

// UpdateSystemTimes stamps background-loop bookkeeping times. Empty strings
// leave the corresponding key untouched.
func (s *SharedStateStore) UpdateSystemTimes(lastCleanup, lastReloadCheck string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lastCleanup != "" {
		s.setFrameworkValueLocked("framework.system.last_cleanup_time", lastCleanup)
	}
	if lastReloadCheck != "" {
		s.setFrameworkValueLocked("framework.system.last_reload_check", lastReloadCheck)
	}
}

// RegisterPlugin creates the plugin's namespace and grant set if absent.
func (s *SharedStateStore) RegisterPlugin(pluginName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pluginVars[pluginName]; !ok {
		s.pluginVars[pluginName] = make(map[string]any)
		s.accessControl[pluginName] = make(map[string]struct{})
	}
}

// SetPluginValue writes a key in the plugin's own namespace.
func (s *SharedStateStore) SetPluginValue(pluginName, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pluginVars[pluginName]; !ok {
		s.pluginVars[pluginName] = make(map[string]any)
		s.accessControl[pluginName] = make(map[string]struct{})
	}
	s.pluginVars[pluginName][key] = value
}

// GetPluginValue reads a key from the plugin's own namespace.
func (s *SharedStateStore) GetPluginValue(pluginName, key string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.pluginVars[pluginName]
	if !ok {
		return def
	}
	if value, ok := ns[key]; ok {
		return value
	}
	return def
}

// GetOtherPluginValue reads a key from another plugin's namespace. Without
// an explicit grant from the target to the requester the caller's default
// is returned, not an error.
func (s *SharedStateStore) GetOtherPluginValue(requester, target, key string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.pluginVars[target]
	if !ok {
		return def
	}
	if _, granted := s.accessControl[target][requester]; !granted {
		return def
	}
	if value, ok := ns[key]; ok {
		return value
	}
	return def
}

// GrantAccess lets requester read the owner's namespace. Effective before
// the next read.
func (s *SharedStateStore) GrantAccess(owner, requester string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if grants, ok := s.accessControl[owner]; ok {
		grants[requester] = struct{}{}
	}
}

// RevokeAccess withdraws a previously issued grant.
func (s *SharedStateStore) RevokeAccess(owner, requester string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if grants, ok := s.accessControl[owner]; ok {
		delete(grants, requester)
	}
}

// PluginValues returns a copy of the plugin's whole namespace.
func (s *SharedStateStore) PluginValues(pluginName string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.pluginVars[pluginName]
	if !ok {
		return map[string]any{}
	}
	copied := make(map[string]any, len(ns))
	for k, v := range ns {
		copied[k] = v
	}
	return copied
}

// DeletePluginValue removes a key from the plugin's namespace, reporting
// whether it existed.
func (s *SharedStateStore) DeletePluginValue(pluginName, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.pluginVars[pluginName]
	if !ok {
		return false
	}
	if _, ok := ns[key]; !ok {
		return false
	}
	delete(ns, key)
	return true
}

// ClearPluginValues empties the plugin's namespace. Grants are untouched.
func (s *SharedStateStore) ClearPluginValues(pluginName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ns, ok := s.pluginVars[pluginName]; ok {
		for k := range ns {
			delete(ns, k)
		}
	}
}

// ReadOnlyStateView is the projection handed to non-owning consumers. It
// exposes only read operations over the framework tier: never mutation,
// never the per-plugin tier directly.
type ReadOnlyStateView struct {
	store *SharedStateStore
}

// NewReadOnlyStateView creates the read-only projection of a store.
func NewReadOnlyStateView(store *SharedStateStore) *ReadOnlyStateView {
	return &ReadOnlyStateView{store: store}
}

// GetFrameworkValue reads a framework-tier value.
func (v *ReadOnlyStateView) GetFrameworkValue(key string, def any) (any, error) {
	return v.store.GetFrameworkValue(key, def)
}

// FrameworkSnapshot returns a verified copy of the framework tier.
func (v *ReadOnlyStateView) FrameworkSnapshot() (map[string]any, error) {
	return v.store.FrameworkSnapshot()
}

// PluginStateAccessor scopes state access to a single plugin namespace. It
// is the only state handle a plugin ever receives; all cross-namespace
// traffic goes through the grant checks in the store.
type PluginStateAccessor struct {
	pluginName string
	store      *SharedStateStore
}

// NewPluginStateAccessor registers the plugin's namespace and returns its
// scoped accessor.
func NewPluginStateAccessor(pluginName string, store *SharedStateStore) *PluginStateAccessor {
	store.RegisterPlugin(pluginName)
	return &PluginStateAccessor{pluginName: pluginName, store: store}
}

// PluginName returns the namespace this accessor is bound to.
func (a *PluginStateAccessor) PluginName() string {
	return a.pluginName
}

// Set writes a key in the plugin's own namespace.
func (a *PluginStateAccessor) Set(key string, value any) {
	a.store.SetPluginValue(a.pluginName, key, value)
}

// Get reads a key from the plugin's own namespace.
func (a *PluginStateAccessor) Get(key string, def any) any {
	return a.store.GetPluginValue(a.pluginName, key, def)
}

// GetOther reads a key from another plugin's namespace, subject to grants.
func (a *PluginStateAccessor) GetOther(target, key string, def any) any {
	return a.store.GetOtherPluginValue(a.pluginName, target, key, def)
}

// GrantAccessTo lets another plugin read this plugin's namespace.
func (a *PluginStateAccessor) GrantAccessTo(requester string) {
	a.store.GrantAccess(a.pluginName, requester)
}

// RevokeAccessFrom withdraws a grant issued to another plugin.
func (a *PluginStateAccessor) RevokeAccessFrom(requester string) {
	a.store.RevokeAccess(a.pluginName, requester)
}

// All returns a copy of the plugin's whole namespace.
func (a *PluginStateAccessor) All() map[string]any {
	return a.store.PluginValues(a.pluginName)
}

// Delete removes a key, reporting whether it existed.
func (a *PluginStateAccessor) Delete(key string) bool {
	return a.store.DeletePluginValue(a.pluginName, key)
}

// Clear empties the plugin's namespace.
func (a *PluginStateAccessor) Clear() {
	a.store.ClearPluginValues(a.pluginName)
}
