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

package thread

import (
	"sync"
	"time"

	"mthread.dev/mthread/pkg/async"
	"mthread.dev/mthread/pkg/waitq"
)

// BlockResult is the outcome of a call to Block, spec.md §4.5/§7's
// "interrupted"/"timed-out"/clean-wake trichotomy.
type BlockResult int

const (
	// BlockOK means the thread was woken by a real Unblock call and is no
	// longer on the queue it parked on.
	BlockOK BlockResult = iota
	// BlockInterrupted means the thread woke because an async is pending
	// (either one was already pending before parking, or one arrived
	// while parked) and was not removed from the queue by a signaller;
	// the caller's own retry loop is expected to process the async and
	// call Block again.
	BlockInterrupted
	// BlockTimedOut means the deadline passed before any signal arrived.
	BlockTimedOut
)

// Block parks the calling thread t on q while atomically releasing mu,
// spec.md §4.5's central interruption primitive. sleepObject is kept as the
// thread's notion of what it is blocked on (spec.md's sleep_object); with a
// tracing GC this would anchor the object against collection for the
// duration of the park, which in Go is unnecessary (the caller's own stack
// reference already does that), so the field is retained for fidelity to
// the data model and for introspection, not for correctness.
//
// On return mu is held again — Block follows the same atomic
// unlock-wait-relock contract as a POSIX pthread_cond_timedwait, which is
// what spec.md's "wait on sleep_cond with mutex" describes. Callers
// structure their retry loops around that: re-examine state with mu held,
// and either proceed or call Block again.
func (t *Thread) Block(q *waitq.Queue[*Thread], sleepObject any, mu sync.Locker, deadline time.Time) BlockResult {
	if t.asyncQ.Pending() {
		return BlockInterrupted
	}

	t.asyncQ.BlockAsyncs()
	defer t.asyncQ.UnblockAsyncs()

	wake := make(chan struct{}, 1)
	handle := q.Enqueue(t)

	t.sleepMu.Lock()
	t.sleep = &sleepState{queue: q, wake: wake, fd: -1}
	t.sleepMu.Unlock()

	_ = sleepObject // retained for data-model fidelity; see doc comment above.

	mu.Unlock()
	tk := t.Leave()

	var timedOut bool
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d < 0 {
			d = 0
		}
		timer := time.NewTimer(d)
		select {
		case <-wake:
			timer.Stop()
		case <-timer.C:
			timedOut = true
		}
	} else {
		<-wake
	}

	tk.Enter()
	mu.Lock()

	t.sleepMu.Lock()
	t.sleep = nil
	t.sleepMu.Unlock()

	removed := q.Remove(handle)
	switch {
	case removed && !timedOut:
		return BlockInterrupted
	case timedOut:
		return BlockTimedOut
	default:
		return BlockOK
	}
}

// Unblock dequeues the head of q (if any), wakes it, and returns it. It
// reports nil if the queue was empty. Signalling a thread that is not
// actually parked on q is impossible by construction (a thread can only be
// on q if it enqueued itself in Block); a spurious wake on a thread that
// has already been removed by a timeout or an async race is harmless — the
// thread's own Block call has already returned by the time anyone could
// observe it missing from q.
func Unblock(q *waitq.Queue[*Thread]) *Thread {
	t, ok := q.Dequeue()
	if !ok {
		return nil
	}
	t.wakeParked()
	return t
}

// wakeParked performs the actual wakeup signal for t, used both by Unblock
// and by Interrupt.
func (t *Thread) wakeParked() {
	t.sleepMu.Lock()
	s := t.sleep
	t.sleepMu.Unlock()
	if s == nil {
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	if s.fd >= 0 {
		pokeSelfPipe(s.fd)
	}
}

// Interrupt queues fn for delivery on t's async queue and, if t is
// currently parked (in Block or in StdSelect), wakes it immediately so its
// retry loop observes the pending async at the next suspension point. This
// is the concrete "async delivery" collaborator spec.md §6 leaves external:
// a signal handler shim, Cancel, or the GC's stop request all route through
// Interrupt.
func (t *Thread) Interrupt(fn async.Func) {
	t.asyncQ.Enqueue(fn)
	t.wakeParked()
}

// SetSleepFD records fd (the write end of this thread's self-pipe) as the
// thing Interrupt should poke while the thread is parked in StdSelect
// rather than in Block. Used only by pkg/ioready.
func (t *Thread) SetSleepFD(fd int) {
	t.sleepMu.Lock()
	defer t.sleepMu.Unlock()
	if t.sleep == nil {
		t.sleep = &sleepState{fd: fd}
		return
	}
	t.sleep.fd = fd
}

// ClearSleepFD undoes SetSleepFD.
func (t *Thread) ClearSleepFD() {
	t.sleepMu.Lock()
	defer t.sleepMu.Unlock()
	if t.sleep != nil {
		t.sleep.fd = -1
	}
}

// SetHeldMutex records the mutex (as a plain Locker) a condvar wait is
// currently releasing/re-acquiring, so teardown can force it unlocked if the
// thread is torn down mid-wait (spec.md's held_mutex field, consumed by
// on_thread_exit per §5's cancellation semantics).
func (t *Thread) SetHeldMutex(l sync.Locker) {
	t.sleepMu.Lock()
	t.heldMutex = l
	t.sleepMu.Unlock()
}

// ClearHeldMutex undoes SetHeldMutex.
func (t *Thread) ClearHeldMutex() {
	t.sleepMu.Lock()
	t.heldMutex = nil
	t.sleepMu.Unlock()
}
