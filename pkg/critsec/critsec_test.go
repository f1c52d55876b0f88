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

package critsec

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mthread.dev/mthread/pkg/thread"
)

func TestLockUnlockRecursion(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "lock"))
	self := thread.Adopt(context.Background())
	defer self.Retire(thread.Result{})

	require.NoError(t, c.Lock(self, time.Time{}))
	require.NoError(t, c.Lock(self, time.Time{}))
	assert.True(t, c.Locked())

	require.NoError(t, c.Unlock(self))
	assert.True(t, c.Locked())
	require.NoError(t, c.Unlock(self))
	assert.False(t, c.Locked())
}

func TestUnlockByNonHolderErrors(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "lock"))
	a := thread.Adopt(context.Background())
	b := thread.Adopt(context.Background())
	defer a.Retire(thread.Result{})
	defer b.Retire(thread.Result{})

	require.NoError(t, c.Lock(a, time.Time{}))
	err := c.Unlock(b)
	require.Error(t, err)
	assert.Equal(t, thread.ErrMutexWrongThread, err.(*thread.Error).Kind)
}

func TestLockTimesOutWhenContended(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	c1 := New(path)
	c2 := New(path)

	a := thread.Adopt(context.Background())
	b := thread.Adopt(context.Background())
	defer a.Retire(thread.Result{})
	defer b.Retire(thread.Result{})

	require.NoError(t, c1.Lock(a, time.Time{}))
	defer c1.Unlock(a)

	err := c2.Lock(b, time.Now().Add(30*time.Millisecond))
	require.Error(t, err)
}
