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

// Package thread is the core of the managed threading runtime: the thread
// descriptor (spec.md §3's T), the global registry, the managed-mode gate
// (§4.3), and the block/unblock primitive (§4.5) all live here because they
// are, in the original design, different facets of the same per-thread
// record — the gate and the block primitive both read and write fields that
// only this package's Thread owns.
//
// A "thread" here is a goroutine that has been registered with Launch (or
// Adopt, for a goroutine the host already started). Unregistered goroutines
// are invisible to this package: there is no global interception of Go's
// scheduler, so, as in the original design, it is an API contract — not an
// enforced invariant — that code reachable from a Thread's thunk uses this
// package's primitives instead of raw goroutines when it needs GC
// coexistence or interruptibility.
package thread

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"mthread.dev/mthread/pkg/async"
	"mthread.dev/mthread/pkg/waitq"
)

var log = logrus.WithField("component", "thread")

// Abandonable is implemented by anything a Thread can hold onto in its
// mutexes_held list (spec.md §3). A fat mutex is the only implementation in
// this module; the interface exists so this package does not need to import
// pkg/fatmutex (which itself imports pkg/thread for ownership checks).
type Abandonable interface {
	// Abandon is called exactly once, for every mutex still held by a
	// thread at the moment it exits, before the thread is unlinked from
	// the registry. It must not block.
	Abandon()
}

// Ticket is returned by Leave and consumed by Enter; it exists so a caller
// cannot accidentally call Enter on the wrong thread's gate.
type Ticket struct {
	t *Thread
}

// sleepState describes what a thread is currently blocked on, mirroring
// sleep_mutex/sleep_object/sleep_fd/sleep_pipe in spec.md's data model.
type sleepState struct {
	queue  any // *waitq.Queue[*Thread], kept as any to avoid a generic field
	wake   chan struct{}
	fd     int // write end of the self-pipe, for interruptible select; -1 if unused
}

// Thread is the per-goroutine descriptor spec.md §3 calls T.
type Thread struct {
	id   uint64
	name string

	// heapMu is the thread's heap_mutex: held exactly while the thread is
	// in managed mode. The stop-the-world protocol (pkg/stw) acquires it
	// on every other thread to stop the world.
	heapMu sync.Mutex

	// adminMu protects exited, canceled, cleanupThunk, and the join
	// queue's membership changes initiated by other threads.
	adminMu sync.Mutex

	joinQueue waitq.Queue[*Thread]

	mutexesHeldMu sync.Mutex
	mutexesHeld   []Abandonable

	ctx    context.Context
	cancel context.CancelFunc

	asyncQ *async.Queue

	sleepMu    sync.Mutex
	sleep      *sleepState
	heldMutex  sync.Locker // held_mutex: released by teardown if set during a condvar wait

	pipe selfPipe // sleep_pipe[2], created lazily on first StdSelect call

	clearFreelists atomic.Bool
	onClearFreelists func()

	parked atomic.Bool // stack_top != nil: parked at a safe point

	exited   atomic.Bool
	canceled atomic.Bool

	result       atomic.Value // holds Result
	cleanupThunk atomic.Value // holds func(context.Context) (any, error), or untyped nil
}

// Result is what a thread's thunk (or its cleanup handler, on cancellation)
// produced.
type Result struct {
	Value any
	Err   error
}

// ID returns a process-unique, monotonically assigned thread identifier.
func (t *Thread) ID() uint64 { return t.id }

// String implements fmt.Stringer.
func (t *Thread) String() string {
	if t.name != "" {
		return fmt.Sprintf("thread[%d:%s]", t.id, t.name)
	}
	return fmt.Sprintf("thread[%d]", t.id)
}

// Context returns the thread's dynamic-state carrier (spec.md's
// dynamic_state/dynwinds, re-expressed as a context.Context — the Go-native
// per-call-chain scope the rest of this module threads through).
func (t *Thread) Context() context.Context { return t.ctx }

// Exited reports whether the thread has run to completion (or been
// cancelled and torn down). Once true it never reverts to false.
func (t *Thread) Exited() bool { return t.exited.Load() }

// Canceled reports whether Cancel has been called on this thread.
func (t *Thread) Canceled() bool { return t.canceled.Load() }

// AsyncQueue returns the thread's pending-async queue (spec.md's
// block_asyncs/pending_asyncs), for use by whatever delivers interrupts.
func (t *Thread) AsyncQueue() *async.Queue { return t.asyncQ }

// SetClearFreelistsHook registers the callback Enter invokes when the GC has
// asked this thread to invalidate its allocation caches (spec.md's
// clear_freelists_p). Go has no per-thread allocation cache to invalidate,
// so this is a hook for a host embedding this runtime with its own pooled
// allocators.
func (t *Thread) SetClearFreelistsHook(fn func()) {
	t.onClearFreelists = fn
}

// AddHeldMutex records m as owned by t, for abandonment detection on exit.
// Called by pkg/fatmutex whenever a lock attempt transitions a mutex from
// unowned to owned by t.
func (t *Thread) AddHeldMutex(m Abandonable) {
	t.mutexesHeldMu.Lock()
	t.mutexesHeld = append(t.mutexesHeld, m)
	t.mutexesHeldMu.Unlock()
}

// RemoveHeldMutex undoes AddHeldMutex. It is a no-op if m is not present
// (which can happen for an externally-unlocked mutex unlocked by a thread
// other than the one that locked it).
func (t *Thread) RemoveHeldMutex(m Abandonable) {
	t.mutexesHeldMu.Lock()
	defer t.mutexesHeldMu.Unlock()
	for i, h := range t.mutexesHeld {
		if h == m {
			t.mutexesHeld = append(t.mutexesHeld[:i], t.mutexesHeld[i+1:]...)
			return
		}
	}
}

// JoinQueue exposes the thread's join queue to pkg's lifecycle helpers.
func (t *Thread) JoinQueue() *waitq.Queue[*Thread] { return &t.joinQueue }

// AdminLock/AdminUnlock expose the thread's admin_mutex, which guards
// exited/canceled/cleanup_thunk and join-queue membership changes initiated
// by other threads (spec.md §3's admin_mutex).
func (t *Thread) AdminLock()   { t.adminMu.Lock() }
func (t *Thread) AdminUnlock() { t.adminMu.Unlock() }

// Leave releases the thread's heap_mutex and records that it has left
// managed mode, the way spec.md §4.3 describes: "Snapshot callee-saved
// registers ... record stack_top ... release heap_mutex." Go's GC does not
// need a register snapshot to scan this goroutine's stack, so the "register
// snapshot" step has no analogue here; what remains load-bearing is the
// heap_mutex release itself, which is what lets pkg/stw's stop-the-world
// pass proceed past this thread.
func (t *Thread) Leave() Ticket {
	t.parked.Store(true)
	t.heapMu.Unlock()
	return Ticket{t: t}
}

// Enter re-acquires the heap_mutex released by the Leave call that produced
// tk, clears the parked flag, and runs the clear-freelists hook if the GC
// requested it during the intervening stop-the-world cycle.
func (tk Ticket) Enter() {
	t := tk.t
	t.heapMu.Lock()
	t.parked.Store(false)
	if t.clearFreelists.CompareAndSwap(true, false) {
		if t.onClearFreelists != nil {
			t.onClearFreelists()
		}
	}
}

// RunForeign runs fn with the thread out of managed mode, the convenience
// wrapper spec.md §4.3 describes: "run foreign function with no managed
// access." Any of this package's managed-mode APIs called from inside fn is
// undefined behavior, per spec.md — the gate must be re-entered first.
func (t *Thread) RunForeign(fn func()) {
	tk := t.Leave()
	defer tk.Enter()
	fn()
}

// Parked reports whether the thread is currently parked at a safe point
// (stack_top != nil in spec.md's terms): blocked via Block, blocked in a GC
// stop, or out of managed mode via the gate.
func (t *Thread) Parked() bool { return t.parked.Load() }

var idSeq uint64

func nextID() uint64 { return atomic.AddUint64(&idSeq, 1) }

// Yield gives up the current goroutine's time slice after running one tick
// of pending async delivery, the Go expression of spec.md's (yield)
// surface binding: the original's thread_tick macro drains asyncs on every
// potential suspension point, including an explicit yield.
func Yield(t *Thread) {
	t.asyncQ.Tick()
	runtime.Gosched()
}
