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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/subcommands"

	"mthread.dev/mthread/pkg/fatmutex"
	"mthread.dev/mthread/pkg/thread"
)

// CondTimeout implements subcommands.Command for the "condtimeout" scenario:
// a condition wait with nothing to signal times out, and a wait signalled
// shortly after it begins succeeds, restoring the mutex to locked either way.
type CondTimeout struct{}

func (*CondTimeout) Name() string { return "condtimeout" }
func (*CondTimeout) Synopsis() string {
	return "time out a condition wait, then signal one shortly after it begins"
}
func (*CondTimeout) Usage() string { return "condtimeout\n" }
func (*CondTimeout) SetFlags(*flag.FlagSet) {}

func (*CondTimeout) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	m := fatmutex.New()
	c := fatmutex.NewCond()
	self := thread.Adopt(ctx)
	defer self.Retire(thread.Result{})

	if _, err := m.Lock(self, time.Time{}); err != nil {
		return report("condtimeout", false, fmt.Sprintf("lock failed: %v", err))
	}
	err := c.Wait(self, m, time.Now().Add(20*time.Millisecond))
	if !m.Locked() || m.Owner() != self {
		return report("condtimeout", false, "mutex not restored to locked-by-self after timed-out wait")
	}
	if e, ok := err.(*thread.Error); !ok || e.Kind != thread.ErrTimedOut {
		_ = m.Unlock(self)
		return report("condtimeout", false, fmt.Sprintf("expected a timed-out error, got %v", err))
	}

	signaled := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		signaler := thread.Adopt(ctx)
		defer signaler.Retire(thread.Result{})
		if _, err := m.Lock(signaler, time.Time{}); err != nil {
			close(signaled)
			return
		}
		c.Signal()
		_ = m.Unlock(signaler)
		close(signaled)
	}()

	err = c.Wait(self, m, time.Now().Add(2*time.Second))
	<-signaled
	if err := m.Unlock(self); err != nil {
		return report("condtimeout", false, fmt.Sprintf("final unlock failed: %v", err))
	}

	return report("condtimeout", err == nil, fmt.Sprintf("signalled wait returned err=%v", err))
}
