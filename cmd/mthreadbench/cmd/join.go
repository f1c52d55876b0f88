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

	"mthread.dev/mthread/pkg/thread"
)

// Join implements subcommands.Command for the "join" scenario: a timed join
// against a thread that never exits on its own times out, and a join issued
// after Cancel returns the result produced by the thread's cleanup handler.
type Join struct{}

func (*Join) Name() string     { return "join" }
func (*Join) Synopsis() string { return "time out joining a live thread, then join one after Cancel" }
func (*Join) Usage() string    { return "join\n" }
func (*Join) SetFlags(*flag.FlagSet) {}

func (*Join) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	t := thread.Launch(ctx, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return false, nil
	}, nil)

	if err := t.SetCleanup(func(context.Context) (any, error) {
		return true, nil
	}); err != nil {
		return report("join", false, fmt.Sprintf("set cleanup failed: %v", err))
	}

	caller := thread.Adopt(ctx)
	defer caller.Retire(thread.Result{})

	_, err := thread.Join(caller, t, time.Now().Add(20*time.Millisecond))
	if err == nil {
		return report("join", false, "timed join unexpectedly returned before the thread exited")
	}
	if e, ok := err.(*thread.Error); !ok || e.Kind != thread.ErrTimedOut {
		return report("join", false, fmt.Sprintf("expected a timed-out error, got %v", err))
	}

	t.Cancel()
	res, err := thread.Join(caller, t, time.Time{})
	if err != nil {
		return report("join", false, fmt.Sprintf("join after cancel failed: %v", err))
	}

	ok, isBool := res.Value.(bool)
	return report("join", isBool && ok, fmt.Sprintf("post-cancel result=%#v", res.Value))
}
