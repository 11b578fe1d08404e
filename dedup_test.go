// dedup_test.go: Event and request deduplication tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func dedupConfig() HostConfig {
	cfg := DefaultHostConfig()
	cfg.EnableEventDeduplication = true
	cfg.EnableRequestDeduplication = true
	return cfg
}

func TestDeduplicationManager_CheckEvent(t *testing.T) {
	t.Run("duplicate_within_window_is_suppressed", func(t *testing.T) {
		d := NewDeduplicationManager(dedupConfig())
		event := Event{"post_type": "message", "message": "hi", "user_id": 42}

		assert.False(t, d.CheckEvent(event))
		assert.True(t, d.CheckEvent(event))
	})

	t.Run("key_order_still_collides", func(t *testing.T) {
		d := NewDeduplicationManager(dedupConfig())

		assert.False(t, d.CheckEvent(Event{"a": 1, "b": "x"}))
		assert.True(t, d.CheckEvent(Event{"b": "x", "a": 1}))
	})

	t.Run("distinct_events_pass", func(t *testing.T) {
		d := NewDeduplicationManager(dedupConfig())

		assert.False(t, d.CheckEvent(Event{"message": "one"}))
		assert.False(t, d.CheckEvent(Event{"message": "two"}))
	})

	t.Run("expired_entry_is_fresh_again", func(t *testing.T) {
		cfg := dedupConfig()
		cfg.EventDedupWindow = time.Millisecond
		d := NewDeduplicationManager(cfg)
		event := Event{"message": "hi"}

		assert.False(t, d.CheckEvent(event))
		time.Sleep(20 * time.Millisecond)
		assert.False(t, d.CheckEvent(event))
	})

	t.Run("disabled_side_passes_everything", func(t *testing.T) {
		cfg := dedupConfig()
		cfg.EnableEventDeduplication = false
		d := NewDeduplicationManager(cfg)
		event := Event{"message": "hi"}

		assert.False(t, d.CheckEvent(event))
		assert.False(t, d.CheckEvent(event))
	})

	t.Run("runtime_toggle", func(t *testing.T) {
		d := NewDeduplicationManager(dedupConfig())
		event := Event{"message": "hi"}

		assert.False(t, d.CheckEvent(event))
		d.SetEventDeduplication(false)
		assert.False(t, d.CheckEvent(event))
		d.SetEventDeduplication(true)
		assert.True(t, d.CheckEvent(event))
	})
}

func TestDeduplicationManager_Requests(t *testing.T) {
	params := map[string]any{"group_id": 1, "message": "hi"}
	okResult := &InvokeResult{Status: "ok", Retcode: 0, Data: "sent"}

	t.Run("absent_marks_pending", func(t *testing.T) {
		d := NewDeduplicationManager(dedupConfig())

		state, cached := d.CheckRequest("send_msg", params)
		assert.Equal(t, RequestAbsent, state)
		assert.Nil(t, cached)

		state, _ = d.CheckRequest("send_msg", params)
		assert.Equal(t, RequestPending, state)
	})

	t.Run("success_is_cached", func(t *testing.T) {
		d := NewDeduplicationManager(dedupConfig())

		d.CheckRequest("send_msg", params)
		d.CompleteRequest("send_msg", params, okResult)

		state, cached := d.CheckRequest("send_msg", params)
		assert.Equal(t, RequestCompleted, state)
		assert.Equal(t, okResult, cached)
	})

	t.Run("failure_is_evicted", func(t *testing.T) {
		d := NewDeduplicationManager(dedupConfig())

		d.CheckRequest("send_msg", params)
		d.CompleteRequest("send_msg", params, &InvokeResult{Status: "failed", Retcode: 100})

		state, cached := d.CheckRequest("send_msg", params)
		assert.Equal(t, RequestAbsent, state)
		assert.Nil(t, cached)
	})

	t.Run("nil_result_is_evicted", func(t *testing.T) {
		d := NewDeduplicationManager(dedupConfig())

		d.CheckRequest("send_msg", params)
		d.CompleteRequest("send_msg", params, nil)

		state, _ := d.CheckRequest("send_msg", params)
		assert.Equal(t, RequestAbsent, state)
	})

	t.Run("disabled_side_always_absent", func(t *testing.T) {
		cfg := dedupConfig()
		cfg.EnableRequestDeduplication = false
		d := NewDeduplicationManager(cfg)

		state, _ := d.CheckRequest("send_msg", params)
		assert.Equal(t, RequestAbsent, state)
		state, _ = d.CheckRequest("send_msg", params)
		assert.Equal(t, RequestAbsent, state)
	})
}

func TestDeduplicationManager_LazyCleanup(t *testing.T) {
	cfg := dedupConfig()
	cfg.EventDedupWindow = time.Millisecond
	d := NewDeduplicationManager(cfg)
	// Force the next check to run a purge regardless of the interval floor.
	d.cleanupInterval = 0

	d.CheckEvent(Event{"message": "one"})
	d.CheckEvent(Event{"message": "two"})
	events, _ := d.TrackedCounts()
	assert.Equal(t, 2, events)

	time.Sleep(20 * time.Millisecond)
	d.CheckEvent(Event{"message": "three"})

	events, _ = d.TrackedCounts()
	assert.Equal(t, 1, events, "expired fingerprints purged on next check")
}
