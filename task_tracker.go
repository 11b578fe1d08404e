// task_tracker.go: Active-task tracking and graceful draining per plugin
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"context"
	"sync"
	"time"
)

// TaskTracker monitors the in-flight handler tasks of one plugin so
// teardown can cancel and drain them before the instance is replaced.
//
// A task is registered when its handler goroutine starts and forgotten when
// it returns, so the set contains only tasks the plugin spawned and is
// empty immediately after (re)instantiation.
type TaskTracker struct {
	active map[uint64]context.CancelFunc
	nextID uint64
	mu     sync.Mutex
}

// NewTaskTracker creates an empty tracker.
func NewTaskTracker() *TaskTracker {
	return &TaskTracker{
		active: make(map[uint64]context.CancelFunc),
	}
}

// Begin registers a running task and its cancellation handle, returning the
// id to pass to End when the task completes.
func (t *TaskTracker) Begin(cancel context.CancelFunc) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.active[id] = cancel
	return id
}

// End forgets a completed task.
func (t *TaskTracker) End(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, id)
}

// ActiveCount returns the number of in-flight tasks.
func (t *TaskTracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// CancelAll cancels every in-flight task and returns how many were
// signalled. The tasks stay registered until their goroutines observe the
// cancellation and call End.
func (t *TaskTracker) CancelAll() int {
	t.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(t.active))
	for _, cancel := range t.active {
		cancels = append(cancels, cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// WaitForDrain waits for all in-flight tasks to complete.
// Returns true if the tracker drained within the timeout.
func (t *TaskTracker) WaitForDrain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if t.ActiveCount() == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		<-ticker.C
	}
}
