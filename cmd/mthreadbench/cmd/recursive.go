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

// Recursive implements subcommands.Command for the "recursive" scenario: a
// recursive fat mutex locked twice by the same thread unwinds its level
// 2 -> 1 -> 0, staying Locked() until the final Unlock.
type Recursive struct{}

func (*Recursive) Name() string     { return "recursive" }
func (*Recursive) Synopsis() string { return "lock a recursive fat mutex twice and check the level sequence" }
func (*Recursive) Usage() string    { return "recursive\n" }
func (*Recursive) SetFlags(*flag.FlagSet) {}

func (*Recursive) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	m := fatmutex.New(fatmutex.Recursive())
	self := thread.Adopt(ctx)
	defer self.Retire(thread.Result{})

	if _, err := m.Lock(self, time.Time{}); err != nil {
		return report("recursive", false, fmt.Sprintf("first lock failed: %v", err))
	}
	if _, err := m.Lock(self, time.Time{}); err != nil {
		return report("recursive", false, fmt.Sprintf("second lock failed: %v", err))
	}
	if m.Level() != 2 {
		return report("recursive", false, fmt.Sprintf("level after two locks = %d, want 2", m.Level()))
	}

	if err := m.Unlock(self); err != nil {
		return report("recursive", false, fmt.Sprintf("first unlock failed: %v", err))
	}
	if m.Level() != 1 || !m.Locked() {
		return report("recursive", false, fmt.Sprintf("level after one unlock = %d locked=%v, want 1/true", m.Level(), m.Locked()))
	}

	if err := m.Unlock(self); err != nil {
		return report("recursive", false, fmt.Sprintf("second unlock failed: %v", err))
	}
	if m.Level() != 0 || m.Locked() {
		return report("recursive", false, fmt.Sprintf("level after two unlocks = %d locked=%v, want 0/false", m.Level(), m.Locked()))
	}

	return report("recursive", true, "level sequence 2 -> 1 -> 0")
}
