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

package waitq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	var q Queue[int]
	q.Enqueue(1)
	q.Enqueue(2)
	q.Enqueue(3)
	require.Equal(t, 3, q.Len())

	for _, want := range []int{1, 2, 3} {
		v, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, want, v)
	}

	_, ok := q.Dequeue()
	assert.False(t, ok)
}

func TestQueueRemoveMiddle(t *testing.T) {
	var q Queue[string]
	q.Enqueue("a")
	h := q.Enqueue("b")
	q.Enqueue("c")

	removed := q.Remove(h)
	assert.True(t, removed)
	assert.Equal(t, 2, q.Len())

	var out []string
	for {
		v, ok := q.Dequeue()
		if !ok {
			break
		}
		out = append(out, v)
	}
	assert.Equal(t, []string{"a", "c"}, out)
}

func TestQueueRemoveAlreadyDequeuedIsNoop(t *testing.T) {
	var q Queue[int]
	h := q.Enqueue(42)
	v, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, 42, v)

	assert.False(t, q.Remove(h))
}

func TestHandleZeroValueInvalid(t *testing.T) {
	var h Handle[int]
	assert.False(t, h.Valid())
}
