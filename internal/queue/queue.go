// Package queue provides the bounded FIFO queue that connects session
// workers.
//
// The queue is safe for many producers and is drained by a single consumer.
// Backpressure is explicit: a full queue rejects a put unless the caller
// supplies an eviction predicate, in which case the oldest matching element
// is dropped to make room. Blocking reads take a context and wake on a
// closed-channel broadcast, so consumers can race a read against gate
// changes or shutdown without polling.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by blocking reads once the queue is closed and
// drained.
var ErrClosed = errors.New("queue: closed")

// Queue is a bounded FIFO with predicate-based eviction and preferred reads.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	max     int
	closed  bool
	changed chan struct{}
}

// New returns a queue holding at most max elements. max <= 0 means
// unbounded.
func New[T any](max int) *Queue[T] {
	return &Queue[T]{max: max, changed: make(chan struct{})}
}

// Put appends item to the tail. When the queue is full, the first queued
// element matching evict is removed to make room; a nil evict or no match
// rejects the put. Returns whether the item was accepted and whether an
// element was evicted for it.
func (q *Queue[T]) Put(item T, evict func(T) bool) (accepted, evicted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, false
	}
	if q.max > 0 && len(q.items) >= q.max {
		if evict == nil {
			return false, false
		}
		idx := -1
		for i, it := range q.items {
			if evict(it) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return false, false
		}
		q.items = append(q.items[:idx], q.items[idx+1:]...)
		evicted = true
	}
	q.items = append(q.items, item)
	q.pulseLocked()
	return true, evicted
}

// Get removes and returns the head, blocking until an element is available,
// ctx is done, or the queue is closed and empty.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	return q.GetPrefer(ctx, nil)
}

// GetPrefer is Get, except the first element matching prefer is taken when
// one exists; otherwise the head is taken.
func (q *Queue[T]) GetPrefer(ctx context.Context, prefer func(T) bool) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			idx := 0
			if prefer != nil {
				for i, it := range q.items {
					if prefer(it) {
						idx = i
						break
					}
				}
			}
			it := q.items[idx]
			q.items = append(q.items[:idx], q.items[idx+1:]...)
			q.pulseLocked()
			q.mu.Unlock()
			return it, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		ch := q.changed
		q.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// WaitForAny blocks until some queued element matches pred, without removing
// it. Returns ErrClosed once the queue is closed and no element matches.
func (q *Queue[T]) WaitForAny(ctx context.Context, pred func(T) bool) error {
	for {
		q.mu.Lock()
		for _, it := range q.items {
			if pred(it) {
				q.mu.Unlock()
				return nil
			}
		}
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		ch := q.changed
		q.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// DropWhere removes every queued element matching pred and returns them in
// queue order.
func (q *Queue[T]) DropWhere(pred func(T) bool) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	var dropped []T
	rest := q.items[:0]
	for _, it := range q.items {
		if pred(it) {
			dropped = append(dropped, it)
		} else {
			rest = append(rest, it)
		}
	}
	q.items = rest
	if len(dropped) > 0 {
		q.pulseLocked()
	}
	return dropped
}

// EvictOneWhere removes and returns the first queued element matching pred.
func (q *Queue[T]) EvictOneWhere(pred func(T) bool) (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	for i, it := range q.items {
		if pred(it) {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.pulseLocked()
			return it, true
		}
	}
	return zero, false
}

// Len reports the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queued elements in order.
func (q *Queue[T]) Snapshot() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}

// Close marks the queue closed and wakes every waiter. Queued elements
// remain readable; puts are rejected from now on.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.pulseLocked()
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// pulseLocked wakes every blocked reader. Callers hold q.mu.
func (q *Queue[T]) pulseLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
