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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mthread.dev/mthread/pkg/waitq"
)

func TestLaunchJoinReturnsResult(t *testing.T) {
	th := Launch(context.Background(), func(ctx context.Context) (any, error) {
		return 7, nil
	}, nil)

	res, err := Join(nil, th, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 7, res.Value)
	assert.True(t, th.Exited())
}

func TestLaunchCurrentThreadMatchesContext(t *testing.T) {
	var seen *Thread
	th := Launch(context.Background(), func(ctx context.Context) (any, error) {
		seen = FromContext(ctx)
		return nil, nil
	}, nil)
	_, err := Join(nil, th, time.Time{})
	require.NoError(t, err)
	assert.Same(t, th, seen)
}

func TestLaunchRecoversPanic(t *testing.T) {
	th := Launch(context.Background(), func(ctx context.Context) (any, error) {
		panic("boom")
	}, nil)
	res, err := Join(nil, th, time.Time{})
	require.NoError(t, err)
	assert.Error(t, res.Err)
}

func TestLaunchRecoverFuncOverridesPanicResult(t *testing.T) {
	th := Launch(context.Background(), func(ctx context.Context) (any, error) {
		panic("boom")
	}, func(recovered any) (any, error) {
		return "handled", nil
	})
	res, err := Join(nil, th, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "handled", res.Value)
	assert.NoError(t, res.Err)
}

func TestJoinSelfErrors(t *testing.T) {
	caller := Adopt(context.Background())
	defer caller.Retire(Result{})
	_, err := Join(caller, caller, time.Time{})
	require.Error(t, err)
	assert.Equal(t, ErrJoinSelf, err.(*Error).Kind)
}

func TestJoinTimesOutOnLiveThread(t *testing.T) {
	th := Launch(context.Background(), func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, nil
	}, nil)
	defer th.Cancel()

	caller := Adopt(context.Background())
	defer caller.Retire(Result{})

	_, err := Join(caller, th, time.Now().Add(10*time.Millisecond))
	require.Error(t, err)
	assert.Equal(t, ErrTimedOut, err.(*Error).Kind)
}

func TestCancelWakesBlockedThreadAndUnwindsViaContext(t *testing.T) {
	started := make(chan struct{})
	th := Launch(context.Background(), func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return "canceled", nil
	}, nil)

	<-started
	th.Cancel()

	res, err := Join(nil, th, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "canceled", res.Value)
	assert.True(t, th.Canceled())
}

func TestCancelIsIdempotent(t *testing.T) {
	th := Launch(context.Background(), func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, nil
	}, nil)
	th.Cancel()
	th.Cancel() // must not panic or double-close anything
	_, err := Join(nil, th, time.Now().Add(time.Second))
	require.NoError(t, err)
}

func TestSetCleanupRunsDuringTeardown(t *testing.T) {
	th := Launch(context.Background(), func(ctx context.Context) (any, error) {
		self := FromContext(ctx)
		require.NoError(t, self.SetCleanup(func(context.Context) (any, error) {
			return "cleaned", nil
		}))
		return "thunk-result", nil
	}, nil)
	res, err := Join(nil, th, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "cleaned", res.Value)
}

func TestSetCleanupAfterExitErrors(t *testing.T) {
	th := Launch(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	}, nil)
	_, err := Join(nil, th, time.Time{})
	require.NoError(t, err)

	err = th.SetCleanup(func(context.Context) (any, error) { return nil, nil })
	require.Error(t, err)
}

func TestAdoptRetireParticipatesInRegistry(t *testing.T) {
	before := Count()
	self := Adopt(context.Background())
	assert.Equal(t, before+1, Count())
	self.Retire(Result{Value: "done"})
	assert.Equal(t, before, Count())
	assert.True(t, self.Exited())
}

func TestBlockUnblockRoundTrip(t *testing.T) {
	var q waitq.Queue[*Thread]
	self := Adopt(context.Background())
	defer self.Retire(Result{})

	var mu blockMu
	done := make(chan BlockResult, 1)
	go func() {
		mu.Lock()
		done <- self.Block(&q, nil, &mu, time.Time{})
	}()

	// Give the blocking goroutine time to enqueue itself before waking it.
	time.Sleep(10 * time.Millisecond)
	assert.NotNil(t, Unblock(&q))

	select {
	case res := <-done:
		assert.Equal(t, BlockOK, res)
	case <-time.After(time.Second):
		t.Fatal("Block did not return after Unblock")
	}
}

func TestBlockTimesOut(t *testing.T) {
	var q waitq.Queue[*Thread]
	self := Adopt(context.Background())
	defer self.Retire(Result{})

	var mu blockMu
	mu.Lock()
	res := self.Block(&q, nil, &mu, time.Now().Add(10*time.Millisecond))
	assert.Equal(t, BlockTimedOut, res)
}

// blockMu is a trivial sync.Locker double so these tests don't need to pull
// in a real mutex implementation from another package.
type blockMu struct{ ch chan struct{} }

func (m *blockMu) Lock() {
	if m.ch == nil {
		m.ch = make(chan struct{}, 1)
	}
	m.ch <- struct{}{}
}

func (m *blockMu) Unlock() { <-m.ch }
