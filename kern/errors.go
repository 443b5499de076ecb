package kern

import "errors"

// Kernel failure conditions. Primitive-level failures are always returned to
// the immediate caller and never cross task boundaries.
var (
	// ErrCapacityExceeded is returned when the scheduler's task table is
	// full at registration time.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrQueueFull is returned by a send that finds no free slot within its
	// timeout.
	ErrQueueFull = errors.New("queue full")

	// ErrQueueEmpty is returned by a non-blocking receive on an empty queue.
	ErrQueueEmpty = errors.New("queue empty")

	// ErrTimeout is returned when a blocking operation's timeout elapses
	// before the operation can complete.
	ErrTimeout = errors.New("timeout")

	// ErrLockTimeout is returned when a mutex cannot be acquired within the
	// requested timeout.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrTaskTerminated is returned by blocking operations that are
	// interrupted because the calling task was deleted.
	ErrTaskTerminated = errors.New("task terminated")

	// ErrStackBudgetExceeded terminates a task whose tracked stack usage
	// passes its declared budget. The fault is fatal for the task only.
	ErrStackBudgetExceeded = errors.New("stack budget exceeded")
)
