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

const condVarItems = 1000

// CondVar implements subcommands.Command for the "condvar" scenario: a
// single-item-buffer producer/consumer pair synchronized with a fat mutex
// and two condition variables, checked for in-order, lossless delivery.
type CondVar struct{}

func (*CondVar) Name() string     { return "condvar" }
func (*CondVar) Synopsis() string { return "drive a producer/consumer pair through a condition variable" }
func (*CondVar) Usage() string    { return "condvar\n" }
func (*CondVar) SetFlags(*flag.FlagSet) {}

func (*CondVar) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	m := fatmutex.New()
	notEmpty := fatmutex.NewCond()
	notFull := fatmutex.NewCond()

	var (
		slot int
		full bool
		done bool
	)

	producer := thread.Launch(ctx, func(ctx context.Context) (any, error) {
		self := thread.FromContext(ctx)
		for i := 0; i < condVarItems; i++ {
			if _, err := m.Lock(self, time.Time{}); err != nil {
				return nil, err
			}
			for full {
				if err := notFull.Wait(self, m, time.Time{}); err != nil {
					m.Unlock(self)
					return nil, err
				}
			}
			slot = i
			full = true
			notEmpty.Signal()
			if err := m.Unlock(self); err != nil {
				return nil, err
			}
		}
		if _, err := m.Lock(self, time.Time{}); err != nil {
			return nil, err
		}
		done = true
		notEmpty.Broadcast()
		m.Unlock(self)
		return nil, nil
	}, nil)

	received := make([]int, 0, condVarItems)
	consumer := thread.Launch(ctx, func(ctx context.Context) (any, error) {
		self := thread.FromContext(ctx)
		for {
			if _, err := m.Lock(self, time.Time{}); err != nil {
				return nil, err
			}
			for !full && !done {
				if err := notEmpty.Wait(self, m, time.Time{}); err != nil {
					m.Unlock(self)
					return nil, err
				}
			}
			if !full && done {
				m.Unlock(self)
				return nil, nil
			}
			received = append(received, slot)
			full = false
			notFull.Signal()
			if err := m.Unlock(self); err != nil {
				return nil, err
			}
			if len(received) == condVarItems {
				return nil, nil
			}
		}
	}, nil)

	caller := thread.Adopt(ctx)
	defer caller.Retire(thread.Result{})
	if _, err := thread.Join(caller, producer, time.Time{}); err != nil {
		return report("condvar", false, fmt.Sprintf("producer join failed: %v", err))
	}
	if _, err := thread.Join(caller, consumer, time.Time{}); err != nil {
		return report("condvar", false, fmt.Sprintf("consumer join failed: %v", err))
	}

	if len(received) != condVarItems {
		return report("condvar", false, fmt.Sprintf("received %d items, want %d", len(received), condVarItems))
	}
	for i, v := range received {
		if v != i {
			return report("condvar", false, fmt.Sprintf("out of order at index %d: got %d", i, v))
		}
	}
	return report("condvar", true, fmt.Sprintf("received 0..%d in order", condVarItems-1))
}
