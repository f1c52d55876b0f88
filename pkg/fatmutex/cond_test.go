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

package fatmutex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mthread.dev/mthread/pkg/thread"
)

func TestCondWaitRequiresHoldingMutex(t *testing.T) {
	m := New()
	c := NewCond()
	self := adopt(context.Background())
	defer self.Retire(thread.Result{})

	err := c.Wait(self, m, time.Time{})
	require.Error(t, err)
	assert.Equal(t, thread.ErrMutexWrongThread, err.(*thread.Error).Kind)
}

func TestCondWaitTimesOutAndRestoresLock(t *testing.T) {
	m := New()
	c := NewCond()
	self := adopt(context.Background())
	defer self.Retire(thread.Result{})

	_, err := m.Lock(self, time.Time{})
	require.NoError(t, err)

	err = c.Wait(self, m, time.Now().Add(20*time.Millisecond))
	require.Error(t, err)
	assert.Equal(t, thread.ErrTimedOut, err.(*thread.Error).Kind)
	assert.True(t, m.Locked())
	assert.Same(t, self, m.Owner())
}

func TestCondSignalWakesOneWaiter(t *testing.T) {
	m := New()
	c := NewCond()
	ready := false

	waiter := thread.Launch(context.Background(), func(ctx context.Context) (any, error) {
		self := thread.FromContext(ctx)
		_, err := m.Lock(self, time.Time{})
		if err != nil {
			return nil, err
		}
		for !ready {
			if err := c.Wait(self, m, time.Time{}); err != nil {
				m.Unlock(self)
				return nil, err
			}
		}
		err = m.Unlock(self)
		return nil, err
	}, nil)

	time.Sleep(20 * time.Millisecond)
	assert.False(t, waiter.Exited())

	signaler := adopt(context.Background())
	defer signaler.Retire(thread.Result{})
	_, err := m.Lock(signaler, time.Time{})
	require.NoError(t, err)
	ready = true
	c.Signal()
	require.NoError(t, m.Unlock(signaler))

	res, err := thread.Join(nil, waiter, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.NoError(t, res.Err)
}

func TestCondBroadcastWakesAllWaiters(t *testing.T) {
	const waiters = 5
	m := New()
	c := NewCond()
	ready := false
	woken := make(chan struct{}, waiters)

	for i := 0; i < waiters; i++ {
		thread.Launch(context.Background(), func(ctx context.Context) (any, error) {
			self := thread.FromContext(ctx)
			if _, err := m.Lock(self, time.Time{}); err != nil {
				return nil, err
			}
			for !ready {
				if err := c.Wait(self, m, time.Time{}); err != nil {
					m.Unlock(self)
					return nil, err
				}
			}
			m.Unlock(self)
			woken <- struct{}{}
			return nil, nil
		}, nil)
	}

	time.Sleep(20 * time.Millisecond)

	driver := adopt(context.Background())
	defer driver.Retire(thread.Result{})
	_, err := m.Lock(driver, time.Time{})
	require.NoError(t, err)
	ready = true
	c.Broadcast()
	require.NoError(t, m.Unlock(driver))

	for i := 0; i < waiters; i++ {
		select {
		case <-woken:
		case <-time.After(time.Second):
			t.Fatal("not all waiters woke after Broadcast")
		}
	}
}
