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

// Package critsec implements spec.md §4.10's critical-section lock: a
// process-wide recursive lock meant for brief atomic sections in code that
// may run outside managed mode, where a fat mutex (which assumes its owner
// is a registered thread) would not apply.
//
// "Process-wide" is taken literally: the lock is backed by an OS-level
// advisory file lock (github.com/gofrs/flock), so it serializes not just
// goroutines within one process but every process that opens the same lock
// file — the shape this runtime needs when multiple OS processes embed it
// against a shared arena.
package critsec

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"mthread.dev/mthread/pkg/thread"
)

var log = logrus.WithField("component", "critsec")

// CritSec is a process-wide recursive lock keyed by a shared file path.
type CritSec struct {
	fl *flock.Flock

	mu     sync.Mutex // guards depth/holder against concurrent goroutines in this process
	depth  int
	holder *thread.Thread

	// retryInterval paces the contended-acquire retry loop, which retries
	// until the deadline passes (or forever, if the deadline is zero).
	retryInterval time.Duration
}

// New returns a CritSec backed by an advisory lock file at path. CritSec
// values that name the same path serialize against each other, whether they
// live in this process or in another one.
func New(path string) *CritSec {
	return &CritSec{
		fl:            flock.New(path),
		retryInterval: 5 * time.Millisecond,
	}
}

// Lock acquires the critical section for caller, recursing if caller
// already holds it. deadline is a zero time.Time for "block indefinitely".
func (c *CritSec) Lock(caller *thread.Thread, deadline time.Time) error {
	c.mu.Lock()
	if c.holder == caller {
		c.depth++
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	b := backoff.NewConstantBackOff(c.retryInterval)
	op := func() error {
		locked, err := c.fl.TryLock()
		if err != nil {
			return backoff.Permanent(thread.WrapError(thread.ErrSystem, "acquiring process-wide lock", err))
		}
		if !locked {
			return thread.NewError(thread.ErrTimedOut, "process-wide lock contended")
		}
		return nil
	}

	var retryErr error
	if deadline.IsZero() {
		retryErr = backoff.Retry(op, b)
	} else {
		remaining := time.Until(deadline)
		if remaining > 0 {
			retries := uint64(remaining/c.retryInterval) + 1
			retryErr = backoff.Retry(op, backoff.WithMaxRetries(b, retries))
		} else {
			// Deadline already past: one attempt, no retries.
			retryErr = op()
			if perr, ok := retryErr.(*backoff.PermanentError); ok {
				retryErr = perr.Err
			}
		}
	}
	if retryErr != nil {
		return retryErr
	}

	c.mu.Lock()
	c.holder = caller
	c.depth = 1
	c.mu.Unlock()
	log.Debugf("%s entered critical section %s", caller, c.fl.Path())
	return nil
}

// Unlock releases one level of recursion, releasing the underlying file
// lock once depth reaches zero. It is an error to call Unlock from a thread
// other than the current holder.
func (c *CritSec) Unlock(caller *thread.Thread) error {
	c.mu.Lock()
	if c.holder != caller {
		c.mu.Unlock()
		return thread.NewError(thread.ErrMutexWrongThread, "critical section not held by calling thread")
	}
	c.depth--
	fullyReleased := c.depth == 0
	if fullyReleased {
		c.holder = nil
	}
	c.mu.Unlock()

	if !fullyReleased {
		return nil
	}
	if err := c.fl.Unlock(); err != nil {
		return thread.WrapError(thread.ErrSystem, "releasing process-wide lock", err)
	}
	log.Debugf("%s left critical section %s", caller, c.fl.Path())
	return nil
}

// Locked reports whether the critical section is currently held by anyone
// in this process.
func (c *CritSec) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holder != nil
}
