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
	"sync/atomic"
)

// HeapLock and HeapUnlock are used only by pkg/stw, which needs to acquire
// every other thread's heap_mutex without going through Leave/Enter (the GC
// caller is a distinct thread, not the owning one).
func (t *Thread) HeapLock()   { t.heapMu.Lock() }
func (t *Thread) HeapUnlock() { t.heapMu.Unlock() }

// MarkClearFreelists is called by pkg/stw after a stop-the-world cycle, for
// every thread other than the one driving it.
func (t *Thread) MarkClearFreelists() { t.clearFreelists.Store(true) }

// StopRequested is spec.md §4.4's global go_to_sleep flag: set for the
// duration of a stop-the-world pass's registry walk, so that managed code
// approaching a safe point of its own accord can check it and call
// SleepForGC proactively rather than racing the GC to heap_mutex.
var StopRequested atomic.Bool

var (
	wakeMu   sync.Mutex
	wakeCond = sync.NewCond(&wakeMu)
	wakeGen  uint64
)

// SleepForGC parks t at a safe point without leaving managed mode via the
// gate: it releases heap_mutex, waits for the next BroadcastWake, and
// reacquires heap_mutex before returning (spec.md §4.4's sleep_for_gc). Used
// by managed code that wants to pause for a stop-the-world cycle without
// paying for the full Leave/Enter register-snapshot dance.
func (t *Thread) SleepForGC() {
	t.parked.Store(true)

	wakeMu.Lock()
	gen := wakeGen
	t.heapMu.Unlock()
	for wakeGen == gen {
		wakeCond.Wait()
	}
	wakeMu.Unlock()

	t.heapMu.Lock()
	t.parked.Store(false)
}

// BroadcastWake wakes every thread currently parked in SleepForGC. Called by
// pkg/stw once a stop-the-world cycle's mark phase has finished.
func BroadcastWake() {
	wakeMu.Lock()
	wakeGen++
	wakeCond.Broadcast()
	wakeMu.Unlock()
}
