package kern

import (
	"fmt"
	"log"
)

// A Queue is a fixed-capacity FIFO channel between tasks.
//
// Successful sends are received in send order. Blocked waiters are woken in
// priority order, not FIFO order. Items of type T move through the queue
// exactly once; there is no multicast.
type Queue[T any] struct {
	HookableBase

	s        *Scheduler
	name     string
	capacity int

	items []T

	sendWaiters waitList
	recvWaiters waitList
}

// NewQueue creates a Queue with the given fixed capacity.
func NewQueue[T any](s *Scheduler, name string, capacity int) *Queue[T] {
	if capacity <= 0 {
		log.Panic("queue capacity must be positive")
	}

	return &Queue[T]{
		s:        s,
		name:     name,
		capacity: capacity,
	}
}

// Name returns the name of the queue.
func (q *Queue[T]) Name() string {
	return q.name
}

// Capacity returns the fixed capacity of the queue.
func (q *Queue[T]) Capacity() int {
	return q.capacity
}

// Size returns the number of items currently in the queue.
func (q *Queue[T]) Size() int {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()

	return len(q.items)
}

// TrySend enqueues the item without blocking. It fails with ErrQueueFull
// when no slot is free. TrySend is wait-free and safe to call from an
// ISR-like context.
func (q *Queue[T]) TrySend(item T) error {
	q.s.mu.Lock()

	if len(q.items) >= q.capacity {
		q.s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrQueueFull, q.name)
	}

	q.pushLocked(item)
	q.s.mu.Unlock()

	return nil
}

// Send enqueues the item, blocking the calling task until a slot frees up or
// the timeout elapses. A zero timeout behaves like TrySend; an expired wait
// fails with ErrTimeout.
func (q *Queue[T]) Send(ctx *Context, item T, timeout DurationMs) error {
	if timeout == 0 {
		err := q.TrySend(item)
		q.preemptionPoint(ctx)
		return err
	}

	t := ctx.t
	q.s.mu.Lock()

	deadline, hasDeadline := q.s.absDeadline(timeout)

	for len(q.items) >= q.capacity {
		reason := q.s.blockOn(t, &q.sendWaiters, deadline, hasDeadline)
		if reason == wakeTimeout {
			q.s.mu.Unlock()
			return fmt.Errorf("%w: send on %s", ErrTimeout, q.name)
		}
	}

	q.pushLocked(item)
	q.s.maybePreempt(t)
	q.s.mu.Unlock()

	return nil
}

// TryReceive dequeues the oldest item without blocking. It fails with
// ErrQueueEmpty when the queue holds nothing.
func (q *Queue[T]) TryReceive() (T, error) {
	var zero T

	q.s.mu.Lock()

	if len(q.items) == 0 {
		q.s.mu.Unlock()
		return zero, fmt.Errorf("%w: %s", ErrQueueEmpty, q.name)
	}

	item := q.popLocked()
	q.s.mu.Unlock()

	return item, nil
}

// TryPeek returns the oldest item without removing it. It fails with
// ErrQueueEmpty when the queue holds nothing. Like TrySend, it is wait-free.
func (q *Queue[T]) TryPeek() (T, error) {
	var zero T

	q.s.mu.Lock()
	defer q.s.mu.Unlock()

	if len(q.items) == 0 {
		return zero, fmt.Errorf("%w: %s", ErrQueueEmpty, q.name)
	}

	return q.items[0], nil
}

// Receive dequeues the oldest item, blocking the calling task until an item
// arrives or the timeout elapses. A zero timeout behaves like TryReceive; an
// expired wait fails with ErrTimeout and never returns a stale value.
func (q *Queue[T]) Receive(ctx *Context, timeout DurationMs) (T, error) {
	var zero T

	if timeout == 0 {
		item, err := q.TryReceive()
		q.preemptionPoint(ctx)
		return item, err
	}

	t := ctx.t
	q.s.mu.Lock()

	deadline, hasDeadline := q.s.absDeadline(timeout)

	for len(q.items) == 0 {
		reason := q.s.blockOn(t, &q.recvWaiters, deadline, hasDeadline)
		if reason == wakeTimeout {
			q.s.mu.Unlock()
			return zero, fmt.Errorf("%w: receive on %s", ErrTimeout, q.name)
		}
	}

	item := q.popLocked()
	q.s.maybePreempt(t)
	q.s.mu.Unlock()

	return item, nil
}

// pushLocked appends the item and wakes the best receive waiter.
func (q *Queue[T]) pushLocked(item T) {
	q.items = append(q.items, item)

	if q.NumHooks() > 0 {
		q.InvokeHook(HookCtx{
			Domain: q,
			Pos:    HookPosQueuePush,
			Item:   item,
			Detail: len(q.items),
		})
	}

	if w := q.recvWaiters.popBest(); w != nil {
		q.s.wake(w, wakeSignal)
	}
}

// popLocked removes the oldest item and wakes the best send waiter.
func (q *Queue[T]) popLocked() T {
	item := q.items[0]
	q.items = q.items[1:]

	if q.NumHooks() > 0 {
		q.InvokeHook(HookCtx{
			Domain: q,
			Pos:    HookPosQueuePop,
			Item:   item,
			Detail: len(q.items),
		})
	}

	if w := q.sendWaiters.popBest(); w != nil {
		q.s.wake(w, wakeSignal)
	}

	return item
}

// preemptionPoint lets a non-blocking call made from task context still act
// as a safe preemption point.
func (q *Queue[T]) preemptionPoint(ctx *Context) {
	if ctx == nil {
		return
	}

	q.s.mu.Lock()
	q.s.maybePreempt(ctx.t)
	q.s.mu.Unlock()
}
