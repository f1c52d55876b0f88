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

// Abandon implements subcommands.Command for the "abandon" scenario: a
// thread locks a mutex and exits without unlocking it; the next locker must
// see it reported as abandoned and become its new owner.
type Abandon struct{}

func (*Abandon) Name() string     { return "abandon" }
func (*Abandon) Synopsis() string { return "exit while holding a mutex and check the next locker sees it abandoned" }
func (*Abandon) Usage() string    { return "abandon\n" }
func (*Abandon) SetFlags(*flag.FlagSet) {}

func (*Abandon) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	m := fatmutex.New()

	a := thread.Launch(ctx, func(ctx context.Context) (any, error) {
		self := thread.FromContext(ctx)
		if _, err := m.Lock(self, time.Time{}); err != nil {
			return nil, err
		}
		// Exit while still holding m, simulating a crashed owner; teardown
		// is expected to call m.Abandon() on our way out.
		return nil, nil
	}, nil)

	caller := thread.Adopt(ctx)
	defer caller.Retire(thread.Result{})
	if _, err := thread.Join(caller, a, time.Time{}); err != nil {
		return report("abandon", false, fmt.Sprintf("join a failed: %v", err))
	}

	b := thread.Adopt(ctx)
	defer b.Retire(thread.Result{})

	abandoned, err := m.Lock(b, time.Now().Add(200*time.Millisecond))
	if err != nil {
		return report("abandon", false, fmt.Sprintf("b failed to lock: %v", err))
	}
	isOwner := m.Owner() == b
	return report("abandon", abandoned && isOwner, fmt.Sprintf("abandoned=%v owner-is-b=%v", abandoned, isOwner))
}
