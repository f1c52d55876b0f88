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

import "sync"

// registry is the global list of live thread descriptors, guarded by
// registryMu (spec.md's registry_mutex). spec.md describes it as a
// singly-linked list; a map keyed by thread ID serves the same "walk every live
// thread" purpose with O(1) unlink instead of an O(n) list search, which
// this module prefers since Go's map deletion is native where the original
// C implementation's pointer-linked list wasn't.
var (
	registryMu sync.Mutex
	registry   = make(map[uint64]*Thread)
)

// RegistryLock and RegistryUnlock expose the registry's lock to pkg/stw,
// which must hold it for the duration of a stop-the-world pass (spec.md
// §4.4 step 2: "Acquire registry_mutex").
func RegistryLock()   { registryMu.Lock() }
func RegistryUnlock() { registryMu.Unlock() }

// link adds t to the registry. Must be called with registryMu held.
func link(t *Thread) {
	registry[t.id] = t
}

// unlink removes t from the registry. Must be called with registryMu held.
func unlink(t *Thread) {
	delete(registry, t.id)
}

// All returns a snapshot of every currently-live thread (spec.md's
// (all-threads)).
func All() []*Thread {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]*Thread, 0, len(registry))
	for _, t := range registry {
		out = append(out, t)
	}
	return out
}

// Count returns the number of live threads (spec.md's thread_count).
func Count() int {
	registryMu.Lock()
	defer registryMu.Unlock()
	return len(registry)
}

// ForEachLocked calls fn for every registered thread. The caller must hold
// RegistryLock for the duration (pkg/stw's use case: the registry must not
// change shape mid-scan).
func ForEachLocked(fn func(*Thread)) {
	for _, t := range registry {
		fn(t)
	}
}
