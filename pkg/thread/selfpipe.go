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
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// selfPipe is the sleep_pipe[2] pair spec.md's data model gives every
// thread: a dedicated pipe whose write end an interrupter pokes to break a
// blocking select(2) call (pkg/ioready's StdSelect), the way a signal
// handler traditionally self-pipes to wake a select loop.
type selfPipe struct {
	once       sync.Once
	r, w       int
	createErr  error
}

// EnsureSelfPipe lazily creates the thread's self-pipe and returns its read
// end, for pkg/ioready's StdSelect.
func (t *Thread) EnsureSelfPipe() (readFD int, err error) { return t.ensureSelfPipe() }

func (t *Thread) ensureSelfPipe() (readFD int, err error) {
	t.pipe.once.Do(func() {
		var fds [2]int
		if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
			t.pipe.createErr = fmt.Errorf("thread: creating self-pipe: %w", err)
			return
		}
		t.pipe.r, t.pipe.w = fds[0], fds[1]
	})
	if t.pipe.createErr != nil {
		return -1, t.pipe.createErr
	}
	return t.pipe.r, nil
}

func (t *Thread) selfPipeWriteFD() int {
	return t.pipe.w
}

// SelfPipeWriteFD returns the write end of the thread's self-pipe, for
// pkg/ioready to record with SetSleepFD as the fd Interrupt pokes to wake a
// StdSelect call.
func (t *Thread) SelfPipeWriteFD() int { return t.selfPipeWriteFD() }

func (t *Thread) closeSelfPipe() {
	if t.pipe.r != 0 || t.pipe.w != 0 {
		unix.Close(t.pipe.r)
		unix.Close(t.pipe.w)
	}
}

// pokeSelfPipe writes a single byte to fd, waking anything blocked in a
// select(2) call that is watching fd's read end. Errors are ignored: the
// pipe is non-blocking and sized so this cannot meaningfully fail short of
// the reader having already fallen behind by a full pipe buffer, in which
// case the wakeup is already pending anyway.
func pokeSelfPipe(fd int) {
	var b [1]byte
	_, _ = unix.Write(fd, b[:])
}
