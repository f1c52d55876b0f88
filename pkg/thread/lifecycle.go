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
	"context"
	"fmt"
	"time"

	"mthread.dev/mthread/pkg/async"
)

// Func is the body a Launch'd thread runs. It receives a context carrying
// itself (retrievable with FromContext) so it can pass "the current thread"
// down to anything in this module that needs it.
type Func func(ctx context.Context) (any, error)

// RecoverFunc is an optional handler for a panic escaping a thread's Func,
// spec.md's call-with-new-thread handler argument. If nil, a panic is
// converted into the thread's Result.Err instead of propagating further
// (which would crash the process, since a goroutine panic is unrecoverable
// by any other goroutine).
type RecoverFunc func(recovered any) (any, error)

// Kind identifies an Error's condition kind (spec.md §7's error taxonomy).
type Kind int

const (
	ErrJoinSelf Kind = iota
	ErrMutexNotLocked
	ErrMutexWrongThread
	ErrMutexAlreadyLocked
	ErrAbandonedMutex
	ErrSystem
	ErrTimedOut
	ErrCanceled
	ErrArgumentType
)

func (k Kind) String() string {
	switch k {
	case ErrJoinSelf:
		return "join-self"
	case ErrMutexNotLocked:
		return "mutex-not-locked"
	case ErrMutexWrongThread:
		return "mutex-wrong-thread"
	case ErrMutexAlreadyLocked:
		return "mutex-already-locked-by-thread"
	case ErrAbandonedMutex:
		return "abandoned-mutex"
	case ErrSystem:
		return "system-error"
	case ErrTimedOut:
		return "timed-out"
	case ErrCanceled:
		return "canceled"
	case ErrArgumentType:
		return "argument-type"
	default:
		return "unknown"
	}
}

// Error is the condition type every primitive in this module raises,
// spec.md §7's error taxonomy made concrete.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // wrapped OS-layer cause, for ErrSystem
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(k Kind, msg string) *Error { return &Error{Kind: k, Msg: msg} }

// NewError builds an Error of the given kind, for use by other packages in
// this module (fatmutex, ioready, critsec) that raise the same taxonomy.
func NewError(k Kind, msg string) *Error { return &Error{Kind: k, Msg: msg} }

// WrapError builds a system-error Error wrapping an OS-layer cause.
func WrapError(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Msg: msg, Err: cause}
}

// Launch starts thunk on a new goroutine registered as a thread (spec.md
// §4.8's call_with_new_thread). It does not return until the new thread has
// completed both bring-up phases (§4.2): linked into the registry and with
// block_asyncs cleared, matching "parent waits on start-cond for the
// handle."
func Launch(parent context.Context, thunk Func, handler RecoverFunc) *Thread {
	t := newDescriptor()
	ctx, cancel := context.WithCancel(parent)
	t.ctx = NewContext(ctx, t)
	t.cancel = cancel

	ready := make(chan struct{})
	go t.runLaunched(thunk, handler, ready)
	<-ready
	return t
}

// Adopt registers the calling goroutine itself as a thread, for host code
// (e.g. a program's main goroutine) that wants to use Join, Block, or a fat
// mutex/condvar without being Launch'd. The caller must eventually call
// Retire to mark it exited and unlink it from the registry; Adopt is the
// "guilify the foreign OS thread" operation the original threading model
// also supports for threads Guile itself did not create.
func Adopt(parent context.Context) *Thread {
	t := newDescriptor()
	ctx, cancel := context.WithCancel(parent)
	t.ctx = NewContext(ctx, t)
	t.cancel = cancel

	t.heapMu.Lock()
	t.asyncQ.BlockAsyncs()
	RegistryLock()
	link(t)
	RegistryUnlock()
	t.asyncQ.UnblockAsyncs()
	return t
}

// Retire marks an Adopted thread as exited and runs the same teardown a
// Launch'd thread runs on its way out.
func (t *Thread) Retire(res Result) {
	t.result.Store(res)
	t.teardown()
}

func newDescriptor() *Thread {
	return &Thread{id: nextID(), asyncQ: async.NewQueue()}
}

func (t *Thread) runLaunched(thunk Func, handler RecoverFunc, ready chan struct{}) {
	// Phase 1 (pre-managed): spec.md §4.2.
	t.heapMu.Lock()
	t.asyncQ.BlockAsyncs()
	RegistryLock()
	link(t)
	RegistryUnlock()

	// Phase 2 (managed).
	t.asyncQ.UnblockAsyncs()
	close(ready)

	res := t.runProtected(thunk, handler)
	t.result.Store(res)
	t.teardown()
}

// runProtected runs thunk under a catch-all (spec.md's "catch-all" around
// the thunk, standing in for the original's continuation-barrier wrapper:
// Go's recover is this module's non-local-exit boundary, since a goroutine
// panic cannot otherwise be observed by anything but that goroutine).
func (t *Thread) runProtected(thunk Func, handler RecoverFunc) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			if handler != nil {
				v, err := handler(r)
				res = Result{Value: v, Err: err}
				return
			}
			res = Result{Err: fmt.Errorf("thread: panic recovered: %v", r)}
		}
	}()
	v, err := thunk(t.ctx)
	return Result{Value: v, Err: err}
}

// teardown is the two-stage exit sequence spec.md §4.2 describes.
func (t *Thread) teardown() {
	// Stage (a): still in managed mode.
	cleanupRes, hasCleanup := t.runCleanup()

	if hasCleanup {
		t.result.Store(cleanupRes)
	}

	t.AdminLock()
	t.exited.Store(true)
	t.AdminUnlock()

	// Force-release a mutex still recorded as held across a condvar wait,
	// in case the thread's own code didn't unwind through the defer that
	// would normally unlock it (spec.md's held_mutex, released by
	// on_thread_exit on a cancellation that interrupts a condvar wait).
	t.sleepMu.Lock()
	held := t.heldMutex
	t.heldMutex = nil
	t.sleepMu.Unlock()
	if held != nil {
		held.Unlock()
	}

	// Drain the join queue: every thread blocked in Join(t) wakes and
	// observes t.Exited().
	t.AdminLock()
	for Unblock(&t.joinQueue) != nil {
	}
	t.AdminUnlock()

	// Release every mutex this thread still owns so other parked waiters
	// notice the abandonment instead of waiting forever for a locker that
	// will never come.
	t.mutexesHeldMu.Lock()
	owned := t.mutexesHeld
	t.mutexesHeld = nil
	t.mutexesHeldMu.Unlock()
	for _, m := range owned {
		m.Abandon()
	}

	// Stage (b): leave managed mode, then unlink.
	t.Leave()

	RegistryLock()
	unlink(t)
	RegistryUnlock()

	t.closeSelfPipe()
}

// runCleanup runs the cleanup thunk, if one was set, under a catch-all. ok
// is false if no cleanup thunk was registered.
func (t *Thread) runCleanup() (res Result, ok bool) {
	v := t.cleanupThunk.Load()
	if v == nil {
		return Result{}, false
	}
	fn, isFn := v.(func(context.Context) (any, error))
	if !isFn {
		return Result{}, false
	}
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("thread: cleanup panic: %v", r)}
		}
	}()
	val, err := fn(t.ctx)
	return Result{Value: val, Err: err}, true
}

// SetCleanup registers fn to run during teardown, spec.md's
// set-thread-cleanup!. It is only valid before the thread has exited or
// been canceled.
func (t *Thread) SetCleanup(fn func(context.Context) (any, error)) error {
	t.AdminLock()
	defer t.AdminUnlock()
	if t.exited.Load() || t.canceled.Load() {
		return newErr(ErrSystem, "cannot set cleanup handler on an exited or canceled thread")
	}
	t.cleanupThunk.Store(fn)
	return nil
}

// Cleanup returns the currently registered cleanup handler's presence,
// spec.md's thread-cleanup.
func (t *Thread) Cleanup() (func(context.Context) (any, error), bool) {
	v := t.cleanupThunk.Load()
	if v == nil {
		return nil, false
	}
	fn, ok := v.(func(context.Context) (any, error))
	return fn, ok
}

// Cancel requests that t terminate at its next suspension point, spec.md
// §4.8/§5's advisory cancellation. Go cannot forcibly preempt a running
// goroutine the way pthread_cancel can a blocked OS thread, so cancellation
// here is cooperative: it cancels t's context (t.Context().Done() fires)
// and wakes any current Block park so the thread's own retry loop observes
// Canceled() and unwinds. Code that wants to be cancellable checks
// t.Canceled() (or selects on ctx.Done()) the way any idiomatic Go
// long-running operation does; this module's own Lock/Wait/Join loops do
// exactly that. Cancel is idempotent and a no-op once the thread has
// exited.
func (t *Thread) Cancel() {
	t.AdminLock()
	if t.exited.Load() {
		t.AdminUnlock()
		return
	}
	first := !t.canceled.Swap(true)
	t.AdminUnlock()
	if !first {
		return
	}
	t.cancel()
	t.Interrupt(func() {})
}

// Join blocks the calling thread until target exits or deadline passes
// (spec.md §4.8's join-with-timeout). caller may be nil when called from a
// goroutine that has not Adopted itself, in which case Join polls instead
// of parking on target's join queue (it cannot enqueue "itself" without a
// descriptor).
func Join(caller *Thread, target *Thread, deadline time.Time) (Result, error) {
	if caller != nil && caller == target {
		return Result{}, newErr(ErrJoinSelf, "a thread cannot join itself")
	}

	if caller == nil {
		return pollJoin(target, deadline)
	}

	target.AdminLock()
	for {
		if target.exited.Load() {
			target.AdminUnlock()
			r, _ := target.result.Load().(Result)
			return r, nil
		}
		res := caller.Block(target.JoinQueue(), target, adminLocker{target}, deadline)
		switch res {
		case BlockTimedOut:
			target.AdminUnlock()
			return Result{}, newErr(ErrTimedOut, "join-thread timed out")
		case BlockInterrupted:
			caller.asyncQ.Tick()
			if caller.Canceled() {
				target.AdminUnlock()
				return Result{}, newErr(ErrCanceled, "join-thread canceled")
			}
			// admin_mutex is held again (Block's relock contract); loop.
		default: // BlockOK
			// admin_mutex is held again; loop to recheck exited.
		}
	}
}

// pollJoin is the degraded path for an un-Adopted caller.
func pollJoin(target *Thread, deadline time.Time) (Result, error) {
	const pollInterval = 2 * time.Millisecond
	for {
		if target.exited.Load() {
			r, _ := target.result.Load().(Result)
			return r, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return Result{}, newErr(ErrTimedOut, "join-thread timed out")
		}
		time.Sleep(pollInterval)
	}
}

// adminLocker adapts a Thread's admin_mutex to sync.Locker for Block.
type adminLocker struct{ t *Thread }

func (a adminLocker) Lock()   { a.t.AdminLock() }
func (a adminLocker) Unlock() { a.t.AdminUnlock() }
