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

package gcsim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mthread.dev/mthread/pkg/thread"
)

func TestCollectorRunRecordsStoppedThreads(t *testing.T) {
	const workers = 3
	var threads []*thread.Thread
	for i := 0; i < workers; i++ {
		th := thread.Launch(context.Background(), func(ctx context.Context) (any, error) {
			self := thread.FromContext(ctx)
			for n := 0; n < 10; n++ {
				self.RunForeign(func() { time.Sleep(2 * time.Millisecond) })
			}
			return nil, nil
		}, nil)
		threads = append(threads, th)
	}
	time.Sleep(4 * time.Millisecond)

	gc := thread.Adopt(context.Background())
	defer gc.Retire(thread.Result{})

	c := &Collector{ClearFreelists: true}
	snap, err := c.Run(context.Background(), gc)
	require.NoError(t, err)
	assert.Len(t, snap.Stopped, workers)
	assert.Len(t, snap.ClearedFL, workers)
	assert.GreaterOrEqual(t, snap.Duration, time.Duration(0))

	for _, th := range threads {
		_, err := thread.Join(nil, th, time.Now().Add(2*time.Second))
		require.NoError(t, err)
	}
}
