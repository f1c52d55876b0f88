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

// Package ioready implements spec.md §4.9's interruptible select: a
// std_select wrapper that participates in the async-interrupt protocol the
// same way pkg/thread's Block does, via each thread's self-pipe.
package ioready

import (
	"time"

	"golang.org/x/sys/unix"

	"mthread.dev/mthread/pkg/thread"
)

const fdBits = 64

// FDSet is a thin wrapper around unix.FdSet with the handful of bit
// operations std_select needs; unix.FdSet itself carries no methods.
type FDSet struct {
	raw unix.FdSet
}

// Set marks fd as a member of the set.
func (s *FDSet) Set(fd int) {
	s.raw.Bits[fd/fdBits] |= 1 << (uint(fd) % fdBits)
}

// IsSet reports whether fd is a member of the set.
func (s *FDSet) IsSet(fd int) bool {
	return s.raw.Bits[fd/fdBits]&(1<<(uint(fd)%fdBits)) != 0
}

// Clear removes fd from the set.
func (s *FDSet) Clear(fd int) {
	s.raw.Bits[fd/fdBits] &^= 1 << (uint(fd) % fdBits)
}

func (s *FDSet) ptr() *unix.FdSet {
	if s == nil {
		return nil
	}
	return &s.raw
}

// StdSelect wraps select(2) (via golang.org/x/sys/unix.Select) to be
// interruptible by the async subsystem through t's self-pipe (spec.md §4.9).
// r/w/x may be nil. timeout < 0 blocks indefinitely; timeout == 0 polls.
//
// It reports unix.EINTR (wrapped in a *thread.Error of kind ErrSystem) when
// the only fd that became ready was the wakeup pipe, the same contract
// real_select/select(2) give a signal-interrupted caller.
func StdSelect(t *thread.Thread, nfds int, r, w, x *FDSet, timeout time.Duration) (int, error) {
	// Step 1: ensure r exists, add the self-pipe's read end, adjust nfds.
	if r == nil {
		r = &FDSet{}
	}
	readFD, err := t.EnsureSelfPipe()
	if err != nil {
		return 0, thread.WrapError(thread.ErrSystem, "creating self-pipe", err)
	}
	r.Set(readFD)
	if readFD+1 > nfds {
		nfds = readFD + 1
	}

	// Step 2: setup_sleep, looping with a tick hook while an async is
	// already pending rather than entering select with stale interrupt
	// state.
	for t.AsyncQueue().Pending() {
		t.AsyncQueue().Tick()
	}
	t.SetSleepFD(t.SelfPipeWriteFD())
	defer t.ClearSleepFD()

	// Step 3: leave managed mode, call the real select, re-enter.
	tk := t.Leave()
	n, selErr := rawSelect(nfds, r, w, x, timeout)
	tk.Enter()

	if selErr != nil {
		return 0, thread.WrapError(thread.ErrSystem, "select", selErr)
	}

	// Step 4: if the wakeup fd fired, drain it; if it was the only ready
	// fd, report interruption.
	if r.IsSet(readFD) {
		drainSelfPipe(readFD)
		r.Clear(readFD)
		n--
		if n == 0 {
			return 0, thread.WrapError(thread.ErrSystem, "select", unix.EINTR)
		}
	}
	return n, nil
}

func rawSelect(nfds int, r, w, x *FDSet, timeout time.Duration) (int, error) {
	var tv *unix.Timeval
	if timeout >= 0 {
		t := unix.NsecToTimeval(timeout.Nanoseconds())
		tv = &t
	}
	return unix.Select(nfds, r.ptr(), w.ptr(), x.ptr(), tv)
}

func drainSelfPipe(fd int) {
	var b [64]byte
	for {
		n, err := unix.Read(fd, b[:])
		if n <= 0 || err != nil {
			return
		}
		if n < len(b) {
			return
		}
	}
}
