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

	"mthread.dev/mthread/pkg/gcsim"
	"mthread.dev/mthread/pkg/thread"
)

const stopWorldWorkers = 3

// StopWorld implements subcommands.Command for the "stopworld" scenario: a
// handful of threads repeatedly leave and re-enter managed mode while a toy
// collector runs a stop-the-world pass, checked to have observed every
// worker and let them all resume cleanly afterward.
type StopWorld struct{}

func (*StopWorld) Name() string     { return "stopworld" }
func (*StopWorld) Synopsis() string { return "run a toy stop-the-world pass against several live threads" }
func (*StopWorld) Usage() string    { return "stopworld\n" }
func (*StopWorld) SetFlags(*flag.FlagSet) {}

func (*StopWorld) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	workers := make([]*thread.Thread, stopWorldWorkers)
	for i := range workers {
		workers[i] = thread.Launch(ctx, func(ctx context.Context) (any, error) {
			self := thread.FromContext(ctx)
			for n := 0; n < 20; n++ {
				self.RunForeign(func() { time.Sleep(2 * time.Millisecond) })
			}
			return nil, nil
		}, nil)
	}

	time.Sleep(4 * time.Millisecond)

	gc := thread.Adopt(ctx)
	defer gc.Retire(thread.Result{})

	collector := &gcsim.Collector{ClearFreelists: true}
	snap, err := collector.Run(ctx, gc)
	if err != nil {
		return report("stopworld", false, fmt.Sprintf("stop-the-world failed: %v", err))
	}

	caller := thread.Adopt(ctx)
	defer caller.Retire(thread.Result{})
	for _, w := range workers {
		if _, err := thread.Join(caller, w, time.Time{}); err != nil {
			return report("stopworld", false, fmt.Sprintf("join worker failed: %v", err))
		}
	}

	ok := len(snap.Stopped) == stopWorldWorkers
	return report("stopworld", ok, fmt.Sprintf("stopped %d/%d worker(s) in %s", len(snap.Stopped), stopWorldWorkers, snap.Duration))
}
