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

package stw

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mthread.dev/mthread/pkg/thread"
)

func TestStopWorldMarksEveryOtherLiveThread(t *testing.T) {
	const workers = 4
	var wg sync.WaitGroup
	wg.Add(workers)

	var threads []*thread.Thread
	for i := 0; i < workers; i++ {
		th := thread.Launch(context.Background(), func(ctx context.Context) (any, error) {
			self := thread.FromContext(ctx)
			wg.Done()
			for n := 0; n < 10; n++ {
				self.RunForeign(func() { time.Sleep(2 * time.Millisecond) })
			}
			return nil, nil
		}, nil)
		threads = append(threads, th)
	}
	wg.Wait()
	time.Sleep(4 * time.Millisecond)

	gc := thread.Adopt(context.Background())
	defer gc.Retire(thread.Result{})

	var mu sync.Mutex
	marked := make(map[uint64]bool)
	err := StopWorld(context.Background(), gc, func(t *thread.Thread) {
		mu.Lock()
		marked[t.ID()] = true
		mu.Unlock()
	}, Options{})
	require.NoError(t, err)

	for _, th := range threads {
		assert.True(t, marked[th.ID()], "thread %s was not marked", th)
	}
	assert.False(t, marked[gc.ID()], "the driving thread must not mark itself")

	for _, th := range threads {
		_, err := thread.Join(nil, th, time.Now().Add(2*time.Second))
		require.NoError(t, err)
	}
}

func TestStopWorldClearFreelistsInvokesHook(t *testing.T) {
	hookRan := make(chan struct{}, 1)
	th := thread.Launch(context.Background(), func(ctx context.Context) (any, error) {
		self := thread.FromContext(ctx)
		self.SetClearFreelistsHook(func() { hookRan <- struct{}{} })
		self.RunForeign(func() { time.Sleep(10 * time.Millisecond) })
		return nil, nil
	}, nil)

	time.Sleep(2 * time.Millisecond)

	gc := thread.Adopt(context.Background())
	defer gc.Retire(thread.Result{})
	err := StopWorld(context.Background(), gc, func(*thread.Thread) {}, Options{ClearFreelists: true})
	require.NoError(t, err)

	select {
	case <-hookRan:
	case <-time.After(time.Second):
		t.Fatal("clear-freelists hook did not run after the thread re-entered managed mode")
	}

	_, err = thread.Join(nil, th, time.Now().Add(2*time.Second))
	require.NoError(t, err)
}
