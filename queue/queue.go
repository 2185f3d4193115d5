/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

// Package queue is a fixed-capacity FIFO shared by one producer and many
// consumers. Push blocks while the queue is full, it never overwrites an
// item that was not popped yet.
package queue

import (
	"fmt"
	"sync"

	equeue "github.com/eapache/queue"

	"go.osspkg.com/echod/errs"
)

type Queue[T any] struct {
	mux      sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    *equeue.Queue
	capacity int
	closed   bool
}

func New[T any](capacity int) (*Queue[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("queue capacity must be positive, got %d", capacity)
	}
	q := &Queue[T]{
		items:    equeue.New(),
		capacity: capacity,
	}
	q.notEmpty = sync.NewCond(&q.mux)
	q.notFull = sync.NewCond(&q.mux)
	return q, nil
}

// Push waits for a free slot and appends v. It fails only when the queue is closed.
func (q *Queue[T]) Push(v T) error {
	q.mux.Lock()
	defer q.mux.Unlock()

	for !q.closed && q.items.Length() >= q.capacity {
		q.notFull.Wait()
	}
	if q.closed {
		return errs.ErrQueueClosed
	}
	q.items.Add(v)
	q.notEmpty.Signal()
	return nil
}

// TryPush appends v if a slot is free and rejects it with errs.ErrQueueFull otherwise.
func (q *Queue[T]) TryPush(v T) error {
	q.mux.Lock()
	defer q.mux.Unlock()

	if q.closed {
		return errs.ErrQueueClosed
	}
	if q.items.Length() >= q.capacity {
		return errs.ErrQueueFull
	}
	q.items.Add(v)
	q.notEmpty.Signal()
	return nil
}

// Pop waits for an item and removes the oldest one. Once the queue is
// closed it fails immediately, items left behind are returned by Drain.
func (q *Queue[T]) Pop() (T, error) {
	q.mux.Lock()
	defer q.mux.Unlock()

	for !q.closed && q.items.Length() == 0 {
		q.notEmpty.Wait()
	}
	if q.closed {
		var zero T
		return zero, errs.ErrQueueClosed
	}
	v := q.items.Remove().(T)
	q.notFull.Signal()
	return v, nil
}

func (q *Queue[T]) Len() int {
	q.mux.Lock()
	defer q.mux.Unlock()
	return q.items.Length()
}

func (q *Queue[T]) Cap() int {
	return q.capacity
}

// Close wakes every blocked Push and Pop. It is safe to call more than once.
func (q *Queue[T]) Close() {
	q.mux.Lock()
	defer q.mux.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

func (q *Queue[T]) IsClosed() bool {
	q.mux.Lock()
	defer q.mux.Unlock()
	return q.closed
}

// Drain removes and returns everything still queued.
func (q *Queue[T]) Drain() []T {
	q.mux.Lock()
	defer q.mux.Unlock()

	list := make([]T, 0, q.items.Length())
	for q.items.Length() > 0 {
		list = append(list, q.items.Remove().(T))
	}
	q.notFull.Broadcast()
	return list
}
