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

const (
	mutexWorkers    = 8
	mutexIncrements = 10000
)

// Mutex implements subcommands.Command for the "mutex" scenario: a shared
// counter incremented by several threads through a single non-recursive fat
// mutex, checked against the only total that is possible if every increment
// was properly serialized.
type Mutex struct{}

func (*Mutex) Name() string     { return "mutex" }
func (*Mutex) Synopsis() string { return "contend a plain fat mutex from several threads" }
func (*Mutex) Usage() string    { return "mutex\n" }
func (*Mutex) SetFlags(*flag.FlagSet) {}

func (*Mutex) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	m := fatmutex.New()
	counter := 0

	threads := make([]*thread.Thread, mutexWorkers)
	for i := range threads {
		threads[i] = thread.Launch(ctx, func(ctx context.Context) (any, error) {
			self := thread.FromContext(ctx)
			for n := 0; n < mutexIncrements; n++ {
				if _, err := m.Lock(self, time.Time{}); err != nil {
					return nil, err
				}
				counter++
				if err := m.Unlock(self); err != nil {
					return nil, err
				}
			}
			return nil, nil
		}, nil)
	}

	caller := thread.Adopt(ctx)
	defer caller.Retire(thread.Result{})
	for _, t := range threads {
		if _, err := thread.Join(caller, t, time.Time{}); err != nil {
			return report("mutex", false, fmt.Sprintf("join failed: %v", err))
		}
	}

	want := mutexWorkers * mutexIncrements
	return report("mutex", counter == want, fmt.Sprintf("counter=%d want=%d", counter, want))
}
