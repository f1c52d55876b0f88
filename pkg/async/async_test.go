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

package async

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickRunsQueuedFuncsInOrder(t *testing.T) {
	q := NewQueue()
	var order []int
	q.Enqueue(func() { order = append(order, 1) })
	q.Enqueue(func() { order = append(order, 2) })

	require.True(t, q.Pending())
	ran := q.Tick()
	assert.Equal(t, 2, ran)
	assert.Equal(t, []int{1, 2}, order)
	assert.False(t, q.Pending())
}

func TestTickNoopWhenEmpty(t *testing.T) {
	q := NewQueue()
	assert.Equal(t, 0, q.Tick())
}

func TestBlockAsyncsSuppressesTick(t *testing.T) {
	q := NewQueue()
	ran := false
	q.Enqueue(func() { ran = true })

	q.BlockAsyncs()
	assert.True(t, q.Blocked())
	assert.False(t, q.Deliverable())
	assert.Equal(t, 0, q.Tick())
	assert.False(t, ran)

	q.UnblockAsyncs()
	assert.True(t, q.Deliverable())
	assert.Equal(t, 1, q.Tick())
	assert.True(t, ran)
}

func TestUnblockAsyncsWithoutMatchingBlockPanics(t *testing.T) {
	q := NewQueue()
	assert.Panics(t, func() { q.UnblockAsyncs() })
}

func TestPendingReflectsEnqueueRegardlessOfSuppression(t *testing.T) {
	q := NewQueue()
	q.BlockAsyncs()
	q.Enqueue(func() {})
	assert.True(t, q.Pending())
	assert.False(t, q.Deliverable())
}
