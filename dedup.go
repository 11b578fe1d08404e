// dedup.go: Fingerprint-based suppression of duplicate events and requests
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

// RequestState describes the dedup state of an outbound gateway request.
type RequestState int

const (
	// RequestAbsent means the request has not been seen within the expiry
	// window; the caller should perform it and report back.
	RequestAbsent RequestState = iota

	// RequestPending means an identical request is currently in flight.
	RequestPending

	// RequestCompleted means an identical request recently succeeded and
	// its result is available.
	RequestCompleted
)

// trackedRequest is the dedup record for one outbound request fingerprint.
type trackedRequest struct {
	state     RequestState
	timestamp time.Time
	result    *InvokeResult
}

// DeduplicationManager suppresses duplicate inbound events and duplicate
// outbound gateway requests by content fingerprint.
//
// Fingerprints are hashes over canonical (key-sorted) serializations, so
// structurally identical payloads collide regardless of key order. Entries
// expire after a configured window and are purged lazily on the next check;
// there is no dedicated cleanup timer. False negatives after expiry are
// accepted because gateway retries are time-bounded.
//
// Both sides can be toggled independently; a disabled side reports every
// probe as fresh.
type DeduplicationManager struct {
	eventsEnabled   bool
	requestsEnabled bool

	eventWindow     time.Duration
	requestExpiry   time.Duration
	cleanupInterval time.Duration

	events      map[string]time.Time
	requests    map[string]*trackedRequest
	lastCleanup time.Time
	mu          sync.Mutex
}

// NewDeduplicationManager creates a dedup manager from the host config.
func NewDeduplicationManager(cfg HostConfig) *DeduplicationManager {
	return &DeduplicationManager{
		eventsEnabled:   cfg.EnableEventDeduplication,
		requestsEnabled: cfg.EnableRequestDeduplication,
		eventWindow:     cfg.EventDedupWindow,
		requestExpiry:   cfg.RequestExpiry,
		cleanupInterval: cfg.RequestCleanupInterval,
		events:          make(map[string]time.Time),
		requests:        make(map[string]*trackedRequest),
		lastCleanup:     timecache.CachedTime(),
	}
}

// SetEventDeduplication toggles event-side dedup at runtime.
func (d *DeduplicationManager) SetEventDeduplication(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.eventsEnabled = enabled
}

// SetRequestDeduplication toggles request-side dedup at runtime.
func (d *DeduplicationManager) SetRequestDeduplication(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requestsEnabled = enabled
}

// CheckEvent reports whether the event is a duplicate of one seen within
// the dedup window. Fresh events are recorded with the current timestamp.
func (d *DeduplicationManager) CheckEvent(event Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.eventsEnabled {
		return false
	}

	d.cleanupLocked()

	now := timecache.CachedTime()
	fp := event.Fingerprint()
	if seen, ok := d.events[fp]; ok && now.Sub(seen) <= d.eventWindow {
		return true
	}

	d.events[fp] = now
	return false
}

// CheckRequest reports the dedup state of an outbound request. When the
// state is RequestAbsent the request is marked pending and the caller owns
// performing it; it must report the outcome via CompleteRequest. When the
// state is RequestCompleted the cached successful result is returned.
func (d *DeduplicationManager) CheckRequest(action string, params map[string]any) (RequestState, *InvokeResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.requestsEnabled {
		return RequestAbsent, nil
	}

	d.cleanupLocked()

	fp := requestFingerprint(action, params)
	if rec, ok := d.requests[fp]; ok {
		switch rec.state {
		case RequestPending:
			return RequestPending, nil
		case RequestCompleted:
			return RequestCompleted, rec.result
		}
	}

	d.requests[fp] = &trackedRequest{
		state:     RequestPending,
		timestamp: timecache.CachedTime(),
	}
	return RequestAbsent, nil
}

// CompleteRequest records the outcome of a request previously marked
// pending. Only successful results are cached as completed; failures are
// evicted immediately so the next identical call retries fresh.
func (d *DeduplicationManager) CompleteRequest(action string, params map[string]any, result *InvokeResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.requestsEnabled {
		return
	}

	fp := requestFingerprint(action, params)
	if result != nil && result.OK() {
		d.requests[fp] = &trackedRequest{
			state:     RequestCompleted,
			timestamp: timecache.CachedTime(),
			result:    result,
		}
		return
	}
	delete(d.requests, fp)
}

// cleanupLocked purges expired entries, at most once per cleanup interval.
// Callers must hold d.mu.
func (d *DeduplicationManager) cleanupLocked() {
	now := timecache.CachedTime()
	if now.Sub(d.lastCleanup) < d.cleanupInterval {
		return
	}
	d.lastCleanup = now

	for fp, seen := range d.events {
		if now.Sub(seen) > d.eventWindow {
			delete(d.events, fp)
		}
	}
	for fp, rec := range d.requests {
		if now.Sub(rec.timestamp) > d.requestExpiry {
			delete(d.requests, fp)
		}
	}
}

// TrackedCounts returns the current number of tracked event and request
// fingerprints. Intended for tests and status reporting.
func (d *DeduplicationManager) TrackedCounts() (events, requests int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events), len(d.requests)
}
