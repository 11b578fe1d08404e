// startup_gate.go: Time-boxed event rejection during host warm-up
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// StartupGate drops incoming events during a fixed window starting at
// process start. Dropped events are not queued and not retried; the inbound
// call still reports success. This protects against event floods before
// dependent services are ready, at the cost of unrecoverable event loss
// during the window.
//
// The window duration has an enforced floor of MinStartupRejectDuration.
type StartupGate struct {
	enabled   atomic.Bool
	startTime time.Time
	endTime   time.Time
	rejected  atomic.Int64
}

// StartupGateStatus is a point-in-time snapshot of the gate.
type StartupGateStatus struct {
	Enabled       bool          `json:"enabled"`
	Active        bool          `json:"active"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	Remaining     time.Duration `json:"remaining"`
	RejectedCount int64         `json:"rejected_count"`
}

// NewStartupGate creates a gate whose window starts now.
func NewStartupGate(enabled bool, duration time.Duration) *StartupGate {
	if duration < MinStartupRejectDuration {
		duration = MinStartupRejectDuration
	}
	now := timecache.CachedTime()
	g := &StartupGate{
		startTime: now,
		endTime:   now.Add(duration),
	}
	g.enabled.Store(enabled)
	return g
}

// SetEnabled toggles the gate at runtime. The window itself is fixed at
// construction; enabling after it has elapsed has no effect.
func (g *StartupGate) SetEnabled(enabled bool) {
	g.enabled.Store(enabled)
}

// Active reports whether the rejection window is still open.
func (g *StartupGate) Active() bool {
	return timecache.CachedTime().Before(g.endTime)
}

// Remaining returns how long the rejection window has left, floored at zero.
func (g *StartupGate) Remaining() time.Duration {
	remaining := time.Until(g.endTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ShouldReject reports whether an incoming event must be dropped, counting
// each rejection.
func (g *StartupGate) ShouldReject() bool {
	if !g.enabled.Load() {
		return false
	}
	if g.Active() {
		g.rejected.Add(1)
		return true
	}
	return false
}

// RejectedCount returns how many events the gate has dropped.
func (g *StartupGate) RejectedCount() int64 {
	return g.rejected.Load()
}

// Status returns a snapshot of the gate for status reporting.
func (g *StartupGate) Status() StartupGateStatus {
	return StartupGateStatus{
		Enabled:       g.enabled.Load(),
		Active:        g.Active(),
		StartTime:     g.startTime,
		EndTime:       g.endTime,
		Remaining:     g.Remaining(),
		RejectedCount: g.rejected.Load(),
	}
}
