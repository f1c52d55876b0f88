// Copyright 2024 The Mthread Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fatmutex

import (
	"sync"
	"time"

	"mthread.dev/mthread/pkg/thread"
	"mthread.dev/mthread/pkg/waitq"
)

// Cond is spec.md §4.7's condition variable: always used together with a
// Mutex that the waiting thread must already hold.
type Cond struct {
	mu      sync.Mutex
	waiters waitq.Queue[*thread.Thread]
}

// NewCond returns a ready-to-use condition variable.
func NewCond() *Cond { return &Cond{} }

// Wait releases m (recording its recursion depth to restore later),
// atomically parks caller on the condition's wait queue, and reacquires m
// before returning — on a real signal, on timeout, and on cancellation
// alike, so a deferred Unlock in caller's code is always correct regardless
// of which of the three ended the wait.
//
// spec.md flags its own source's version of this loop as decrementing the
// mutex's level on every retry through the async-interrupt path, which
// would corrupt a recursive mutex's depth if a wait is interrupted more
// than once before it actually ends; here the release (and its one
// level decrement) happens exactly once, before the park loop begins, and
// the interrupt-retry loop only re-parks — it never touches the level
// again until the final reacquire.
func (c *Cond) Wait(caller *thread.Thread, m *Mutex, deadline time.Time) error {
	m.mu.Lock()
	owner := m.owner
	m.mu.Unlock()
	if owner != caller {
		return thread.NewError(thread.ErrMutexWrongThread, "condition wait requires the calling thread to hold the mutex")
	}

	c.mu.Lock()
	preLevel := m.unlockForWait()

	caller.SetHeldMutex(locker{m: m, caller: caller})
	defer caller.ClearHeldMutex()

	res := caller.Block(&c.waiters, c, &c.mu, deadline)
	for res == thread.BlockInterrupted {
		caller.AsyncQueue().Tick()
		if caller.Canceled() {
			break
		}
		res = caller.Block(&c.waiters, c, &c.mu, deadline)
	}
	c.mu.Unlock()

	if err := m.relockForWait(caller, preLevel, time.Time{}); err != nil {
		return err
	}

	switch res {
	case thread.BlockTimedOut:
		return thread.NewError(thread.ErrTimedOut, "condition wait timed out")
	case thread.BlockInterrupted:
		return thread.NewError(thread.ErrCanceled, "condition wait canceled")
	default:
		return nil
	}
}

// Signal wakes the longest-waiting thread blocked in Wait, if any.
func (c *Cond) Signal() {
	c.mu.Lock()
	thread.Unblock(&c.waiters)
	c.mu.Unlock()
}

// Broadcast wakes every thread currently blocked in Wait.
func (c *Cond) Broadcast() {
	c.mu.Lock()
	for thread.Unblock(&c.waiters) != nil {
	}
	c.mu.Unlock()
}
