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

// Package async models the "async-interrupt" subsystem spec.md treats as an
// external collaborator (§3, §6, §9): a per-thread queue of deferred
// interrupts (signals, cancellation requests, GC stop requests) plus the
// block_asyncs counter that suppresses delivery during a critical window.
//
// An async is delivered at the next suspension point, never preemptively:
// Queue.Tick is the "tick" hook spec.md's block/join/select loops call after
// waking to find out whether they were woken by a real event or merely to
// process a pending interrupt and go back to sleep.
package async

import (
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Func is a single deferred interrupt action. It runs on the thread that
// owns the Queue, during a call to Tick.
type Func func()

// Queue is the per-thread pending-async queue plus its delivery gate
// (block_asyncs in spec.md's Thread descriptor). The zero Queue is usable;
// NewQueue additionally installs a tick rate limiter.
type Queue struct {
	mu      sync.Mutex
	pending []Func

	blockAsyncs int32 // spec.md: block_asyncs
	pendingFlag atomic.Bool // spec.md: pending_asyncs

	// limiter paces repeated Tick calls made back-to-back by a spinning
	// retry loop (spec.md §4.5's "outer loop drains the queue then
	// retries"), so a burst of spurious wakeups with nothing to deliver
	// doesn't turn into a busy loop.
	limiter *rate.Limiter
}

// NewQueue returns a ready-to-use Queue.
func NewQueue() *Queue {
	return &Queue{
		limiter: rate.NewLimiter(rate.Limit(1000), 10),
	}
}

// BlockAsyncs increments the suppression counter. While the counter is
// above zero, Deliverable reports false and Tick is a no-op; this is the
// "increment block_asyncs" step bracketing every park in spec.md §4.5, §4.7,
// §4.8.
func (q *Queue) BlockAsyncs() {
	atomic.AddInt32(&q.blockAsyncs, 1)
}

// UnblockAsyncs decrements the suppression counter.
func (q *Queue) UnblockAsyncs() {
	if atomic.AddInt32(&q.blockAsyncs, -1) < 0 {
		panic("async: UnblockAsyncs without matching BlockAsyncs")
	}
}

// Blocked reports whether asyncs are currently suppressed.
func (q *Queue) Blocked() bool {
	return atomic.LoadInt32(&q.blockAsyncs) > 0
}

// Enqueue queues fn for delivery and marks the queue as having a pending
// async, for later observation by Pending. Enqueue is called by whatever
// delivers the interrupt (a signal handler shim, Cancel, or the GC's stop
// request) and may run concurrently with the owning thread's Tick.
func (q *Queue) Enqueue(fn Func) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
	q.pendingFlag.Store(true)
}

// Pending reports whether an async is queued, regardless of whether
// delivery is currently suppressed. spec.md's block primitive consults this
// before parking: "If setup_sleep reports an async is already pending,
// return interrupted without parking."
func (q *Queue) Pending() bool {
	return q.pendingFlag.Load()
}

// Deliverable reports whether there is a pending async and delivery is not
// currently suppressed.
func (q *Queue) Deliverable() bool {
	return q.Pending() && !q.Blocked()
}

// Tick drains and runs every currently-queued async, provided delivery is
// not suppressed. It returns the number of asyncs it ran. Tick is always
// safe to call speculatively (e.g. on every suspension point); it is a
// fast no-op when nothing is pending.
func (q *Queue) Tick() int {
	if q.Blocked() || !q.pendingFlag.Load() {
		return 0
	}
	if q.limiter != nil && !q.limiter.Allow() {
		// A caller looping Tick() in a hot retry (nothing else woke it)
		// is rate-limited here: skip this drain and report nothing run,
		// rather than let an unbounded burst of spurious wakeups turn
		// into a busy loop. The async stays pending for the next Tick.
		return 0
	}
	q.mu.Lock()
	run := q.pending
	q.pending = nil
	q.pendingFlag.Store(false)
	q.mu.Unlock()
	for _, fn := range run {
		fn()
	}
	return len(run)
}
