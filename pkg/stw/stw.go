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

// Package stw drives spec.md §4.4's stop-the-world protocol: the choreography
// a garbage collector (or any subsystem shaped like one — a heap snapshotter,
// a consistency checker) uses to pause every managed thread at a safe point,
// inspect its stack, and resume it.
//
// Go's own garbage collector does not need cooperative register snapshots or
// stack scanning the way the system this protocol was designed for did: the
// runtime already knows how to find every goroutine's roots. What survives
// the re-expression is the acquire-every-heap-mutex / mark / release
// choreography itself, useful any time a host wants a consistent snapshot of
// every managed thread without races — the "mark stacks" step becomes a
// caller-supplied callback instead of a literal stack walk.
package stw

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/sirupsen/logrus"

	"mthread.dev/mthread/pkg/thread"
)

var log = logrus.WithField("component", "stw")

// Mark is called once per live thread other than the one driving the stop,
// while that thread is known to be parked at a safe point (its heap_mutex is
// held by the caller of StopWorld). It stands in for spec.md §4.4 step 6's
// stack-and-register scan.
type Mark func(t *thread.Thread)

// Options configures a StopWorld pass.
type Options struct {
	// ClearFreelists, if true, marks every other thread's clear_freelists_p
	// (spec.md §4.4 step 7) so each resets its allocation cache the next
	// time it re-enters managed mode through the gate.
	ClearFreelists bool
}

// StopWorld performs spec.md §4.4's eight-step protocol. gc is the thread
// driving the stop; it must be in managed mode on entry (heap_mutex held)
// and is returned to managed mode before StopWorld returns. mark runs once
// per other live thread while the world is stopped.
func StopWorld(ctx context.Context, gc *thread.Thread, mark Mark, opts Options) error {
	// Step 1: leave managed mode.
	tk := gc.Leave()
	defer tk.Enter()

	// Step 2: acquire registry_mutex (held for the whole pass, as spec.md
	// describes, so the registry cannot change shape mid-scan).
	thread.RegistryLock()
	defer thread.RegistryUnlock()

	// Step 3: announce the stop to anyone polling thread.StopRequested at
	// their own safe points.
	thread.StopRequested.Store(true)

	var others []*thread.Thread
	thread.ForEachLocked(func(t *thread.Thread) {
		if t != gc {
			others = append(others, t)
		}
	})

	log.Debugf("stopping the world: %d other thread(s)", len(others))

	// Step 4: acquire every other thread's heap_mutex, fanned out
	// concurrently — a thread still running managed code blocks this until
	// it reaches a safe point of its own accord (Leave, Block, or
	// SleepForGC).
	g, _ := errgroup.WithContext(ctx)
	for _, t := range others {
		t := t
		g.Go(func() error {
			t.HeapLock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		thread.StopRequested.Store(false)
		return err
	}

	// Step 5: the stop is now fully in effect.
	thread.StopRequested.Store(false)

	// Step 6: mark stacks.
	for _, t := range others {
		mark(t)
	}

	// Step 7: optionally invalidate allocation caches.
	if opts.ClearFreelists {
		for _, t := range others {
			t.MarkClearFreelists()
		}
	}

	// Step 8: wake anyone parked via SleepForGC, release every heap_mutex,
	// release registry_mutex (via the deferred RegistryUnlock), and
	// re-enter managed mode (via the deferred tk.Enter()).
	thread.BroadcastWake()
	for _, t := range others {
		t.HeapUnlock()
	}

	log.Debug("world resumed")
	return nil
}
