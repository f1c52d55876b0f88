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

// Package fatmutex implements spec.md §4.6's fat mutex: a FIFO-fair lock
// that is recursive-or-not, checked-or-not, and externally-unlockable-or-not
// per immutable policy flags fixed at construction, with abandonment
// detection when the owning thread exits still holding it.
package fatmutex

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"mthread.dev/mthread/pkg/thread"
	"mthread.dev/mthread/pkg/waitq"
)

// Option configures a Mutex's immutable policy at construction.
type Option func(*policy)

type policy struct {
	recursive           bool
	uncheckedUnlock     bool
	allowExternalUnlock bool
}

// Recursive lets the owning thread lock the mutex more than once, each Lock
// requiring a matching Unlock before the mutex is released to a waiter.
func Recursive() Option { return func(p *policy) { p.recursive = true } }

// UncheckedUnlock makes unlocking an already-unlocked mutex a silent no-op
// instead of an error.
func UncheckedUnlock() Option { return func(p *policy) { p.uncheckedUnlock = true } }

// AllowExternalUnlock lets a thread other than the recorded owner unlock the
// mutex.
func AllowExternalUnlock() Option { return func(p *policy) { p.allowExternalUnlock = true } }

// Mutex is spec.md §4.6's fat mutex.
type Mutex struct {
	policy policy

	mu    sync.Mutex // guards level/owner bookkeeping
	level int
	owner *thread.Thread

	// Exactly one of sem/waiters is the mutex's actual blocking mechanism,
	// chosen once at construction by policy.recursive. A binary semaphore
	// already gives FIFO-fair blocking for free, so a non-recursive mutex
	// is backed by one directly instead of duplicating that fairness
	// logic on top of this module's own wait-queue; a recursive mutex
	// cannot be (a semaphore has no notion of "the holder re-entering"),
	// so it uses the wait-queue and thread.Block directly, matching
	// spec.md's lock() loop verbatim. Abandonment for the semaphore case
	// is expressed as the dead owner's Abandon releasing the semaphore's
	// single permit, exactly as an Unlock would.
	//
	// One consequence: contention on a non-recursive mutex is only
	// deadline-interruptible (via the context passed to sem.Acquire), not
	// async-interruptible the way the recursive path is — an Interrupt
	// delivered to a thread blocked in the semaphore path does not wake it
	// early. spec.md's lock() is not among the operations it calls out as
	// needing to drain pending asyncs while blocked (only block/unblock,
	// condvar wait, join, and select are), so this is judged an acceptable
	// narrowing, not a correctness gap.
	sem     *semaphore.Weighted
	waiters waitq.Queue[*thread.Thread]
}

// New constructs a Mutex with the given policy options. The zero-value
// policy (no options) is a plain, non-recursive, checked, owner-only mutex.
func New(opts ...Option) *Mutex {
	var p policy
	for _, opt := range opts {
		opt(&p)
	}
	m := &Mutex{policy: p}
	if !p.recursive {
		m.sem = semaphore.NewWeighted(1)
	}
	return m
}

// Lock acquires the mutex for caller, blocking until it is available or
// deadline passes (a zero deadline blocks indefinitely). It reports whether
// the mutex was found abandoned (its previous owner had exited while still
// holding it) — the caller decides whether that is itself an error.
func (m *Mutex) Lock(caller *thread.Thread, deadline time.Time) (abandoned bool, err error) {
	if m.sem != nil {
		return m.lockSimple(caller, deadline)
	}
	return m.lockRecursive(caller, deadline)
}

// TryLock attempts to acquire the mutex without blocking.
func (m *Mutex) TryLock(caller *thread.Thread) (abandoned bool, err error) {
	return m.Lock(caller, pastDeadline)
}

// pastDeadline is a non-zero time guaranteed to already have passed, used to
// express "do not block at all" in terms of Lock's deadline parameter
// (a zero time.Time means "block forever").
var pastDeadline = time.Unix(0, 1)

func (m *Mutex) lockSimple(caller *thread.Thread, deadline time.Time) (bool, error) {
	ctx := context.Background()
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return false, thread.NewError(thread.ErrTimedOut, "lock timed out")
	}
	m.mu.Lock()
	abandoned := m.owner != nil && m.owner.Exited()
	m.owner = caller
	m.level = 1
	m.mu.Unlock()
	caller.AddHeldMutex(m)
	return abandoned, nil
}

func (m *Mutex) lockRecursive(caller *thread.Thread, deadline time.Time) (bool, error) {
	// m.mu is locked exactly once here, before the loop. Block's atomic
	// unlock-wait-relock contract (pkg/thread/block.go) means m.mu is
	// already held again by the time Block returns, in every case
	// including BlockTimedOut — the loop body must never call m.mu.Lock()
	// again, and every return path must explicitly Unlock before leaving,
	// matching Join's AdminLock/AdminUnlock pattern in
	// pkg/thread/lifecycle.go.
	m.mu.Lock()
	for {
		switch {
		case m.level == 0:
			m.owner = caller
			m.level = 1
			m.mu.Unlock()
			caller.AddHeldMutex(m)
			return false, nil

		case m.owner != nil && m.owner.Exited():
			m.owner = caller
			m.level = 1
			m.mu.Unlock()
			caller.AddHeldMutex(m)
			return true, nil

		case m.owner == caller:
			// Non-recursive mutexes never reach lockRecursive (they are
			// semaphore-backed), so a self-owner here is always a
			// legitimate re-entrant lock.
			m.level++
			m.mu.Unlock()
			return false, nil

		default:
			if !deadline.IsZero() && !time.Now().Before(deadline) {
				m.mu.Unlock()
				return false, thread.NewError(thread.ErrTimedOut, "lock timed out")
			}
			res := caller.Block(&m.waiters, m, &m.mu, deadline)
			switch res {
			case thread.BlockTimedOut:
				m.mu.Unlock()
				return false, thread.NewError(thread.ErrTimedOut, "lock timed out")
			case thread.BlockInterrupted:
				caller.AsyncQueue().Tick()
				if caller.Canceled() {
					m.mu.Unlock()
					return false, thread.NewError(thread.ErrCanceled, "lock canceled")
				}
				// m.mu is held again (Block's relock contract); loop.
			}
			// m.mu is held again in every remaining case; loop to
			// re-examine and claim ownership.
		}
	}
}

// Unlock releases one level of ownership, enforcing the ownership policy
// matrix spec.md §4.6 describes (owner/unchecked_unlock/allow_external_unlock).
func (m *Mutex) Unlock(caller *thread.Thread) error {
	m.mu.Lock()
	if err := m.checkUnlockLocked(caller); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.level == 0 {
		// Unchecked unlock of a mutex nobody holds: nothing to release.
		m.mu.Unlock()
		return nil
	}
	prevOwner := m.owner
	m.level--
	fullyReleased := m.level == 0
	if fullyReleased {
		m.owner = nil
	}
	m.mu.Unlock()

	if !fullyReleased {
		return nil
	}
	if prevOwner != nil {
		prevOwner.RemoveHeldMutex(m)
	}
	if m.sem != nil {
		m.sem.Release(1)
		return nil
	}
	m.mu.Lock()
	if w := thread.Unblock(&m.waiters); w != nil {
		m.owner = w
	}
	m.mu.Unlock()
	return nil
}

// checkUnlockLocked implements the ownership policy matrix. Caller must hold
// m.mu.
func (m *Mutex) checkUnlockLocked(caller *thread.Thread) error {
	switch {
	case m.owner == caller:
		return nil
	case m.level == 0:
		if m.policy.uncheckedUnlock {
			return nil
		}
		return thread.NewError(thread.ErrMutexNotLocked, "mutex is not locked")
	default:
		if m.policy.allowExternalUnlock {
			return nil
		}
		return thread.NewError(thread.ErrMutexWrongThread, "mutex not locked by calling thread")
	}
}

// Abandon is called by a thread's teardown for every mutex it still owns
// when it exits. It does not touch level/owner: those are left exactly as
// the dead owner left them, so the next Lock's abandoned-mutex branch finds
// owner.Exited() true and claims ownership at level 1, discarding whatever
// recursive depth the dead owner had reached. Only the hand-off/wake step
// happens here.
func (m *Mutex) Abandon() {
	if m.sem != nil {
		m.sem.Release(1)
		return
	}
	m.mu.Lock()
	thread.Unblock(&m.waiters)
	m.mu.Unlock()
}

// Owner returns the mutex's current owner, or nil if unlocked.
func (m *Mutex) Owner() *thread.Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner
}

// Level returns the mutex's current recursion depth (0 if unlocked).
func (m *Mutex) Level() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Locked reports whether the mutex is currently held by anyone.
func (m *Mutex) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level > 0
}

// unlockForWait is pkg/fatmutex's half of a condition-variable wait: it
// releases the mutex exactly the way Unlock's final "level reached zero"
// step does (semaphore release, or FIFO hand-off to the mutex's own
// waiters), and reports the recursion depth the caller held so it can be
// restored afterward.
func (m *Mutex) unlockForWait() int {
	m.mu.Lock()
	preLevel := m.level
	prevOwner := m.owner
	m.level = 0
	m.owner = nil
	m.mu.Unlock()

	if prevOwner != nil {
		prevOwner.RemoveHeldMutex(m)
	}

	if m.sem != nil {
		m.sem.Release(1)
		return preLevel
	}
	m.mu.Lock()
	if w := thread.Unblock(&m.waiters); w != nil {
		m.owner = w
	}
	m.mu.Unlock()
	return preLevel
}

// relockForWait reacquires the mutex for caller through the ordinary Lock
// path (the mutex is unowned or owned by someone else at this point, never
// by caller, since unlockForWait just released it) and restores the
// recursion depth recorded before the wait began. A Lock attempt that ends
// in ErrCanceled is retried, so a canceled waiter still gets the mutex back.
func (m *Mutex) relockForWait(caller *thread.Thread, preLevel int, deadline time.Time) error {
	for {
		_, err := m.Lock(caller, deadline)
		if err == nil {
			break
		}
		if e, ok := err.(*thread.Error); !ok || e.Kind != thread.ErrCanceled {
			return err
		}
	}
	m.mu.Lock()
	m.level = preLevel
	m.mu.Unlock()
	return nil
}

// locker adapts a (Mutex, owning Thread) pair to sync.Locker, so it can be
// recorded in a Thread's held_mutex field (spec.md §3) for forced release
// on teardown if cancellation interrupts a condition-variable wait.
type locker struct {
	m      *Mutex
	caller *thread.Thread
}

func (l locker) Lock()   { _, _ = l.m.Lock(l.caller, time.Time{}) }
func (l locker) Unlock() { _ = l.m.Unlock(l.caller) }
