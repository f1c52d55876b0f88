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

// Package waitq implements the FIFO wait-queue used by every blocking
// primitive in this module: fat mutexes, condition variables, and
// thread-join queues are all, at bottom, a waitq.Queue of parked threads.
//
// A Queue is a pair of head/tail cursors over a linked list of single-element
// cells, matching the data structure spec.md §4.1 describes. It provides
// O(1) enqueue, O(1) head dequeue, and O(n) removal by Handle. None of the
// operations take an internal lock: every caller in this module already
// holds a lock of its own (a fat mutex's spinlock, or a thread's admin
// mutex) across the sequence of queue operations it performs, so Queue is
// not safe for concurrent use on its own — callers serialize access.
package waitq

// Handle identifies a single enqueued cell so a waiter can remove itself by
// identity instead of scanning, the way a thread that woke on interruption
// removes itself from the queue it was parked on.
type Handle[T any] struct {
	cell *cell[T]
}

// Valid reports whether h refers to a cell (as opposed to the zero Handle).
func (h Handle[T]) Valid() bool {
	return h.cell != nil
}

type cell[T any] struct {
	value      T
	next, prev *cell[T]
}

// Queue is a FIFO queue of values of type T. The zero Queue is empty and
// ready to use.
type Queue[T any] struct {
	head, tail *cell[T]
	len        int
}

// Len returns the number of elements currently queued.
func (q *Queue[T]) Len() int {
	return q.len
}

// Enqueue appends value to the tail of the queue and returns a handle that
// can later be passed to Remove.
func (q *Queue[T]) Enqueue(value T) Handle[T] {
	c := &cell[T]{value: value}
	if q.tail == nil {
		q.head = c
		q.tail = c
	} else {
		c.prev = q.tail
		q.tail.next = c
		q.tail = c
	}
	q.len++
	return Handle[T]{cell: c}
}

// Dequeue removes and returns the head of the queue. ok is false if the
// queue was empty, in which case the returned value is the zero value of T.
func (q *Queue[T]) Dequeue() (value T, ok bool) {
	if q.head == nil {
		return value, false
	}
	c := q.head
	q.detach(c)
	return c.value, true
}

// Remove detaches the cell referred to by h, if it is still present in the
// queue. It reports whether the cell was found (and therefore removed); a
// handle for a cell that has already been dequeued or removed returns
// false and is a no-op.
func (q *Queue[T]) Remove(h Handle[T]) bool {
	c := h.cell
	if c == nil {
		return false
	}
	// A cell that has been detached has both neighbors nil and is not the
	// sole element (len tracks membership, not liveness), so we scan to
	// confirm membership rather than trust a "detached" flag — the queue
	// has no such flag by design; the handle is the only witness.
	for n := q.head; n != nil; n = n.next {
		if n == c {
			q.detach(c)
			return true
		}
	}
	return false
}

func (q *Queue[T]) detach(c *cell[T]) {
	if c.prev != nil {
		c.prev.next = c.next
	} else {
		q.head = c.next
	}
	if c.next != nil {
		c.next.prev = c.prev
	} else {
		q.tail = c.prev
	}
	c.next = nil
	c.prev = nil
	q.len--
}
