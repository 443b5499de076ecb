package kern

import (
	"container/heap"
	"fmt"
	"log"
	"sync"

	"github.com/rtkern/rtkern/kern/id"
)

// DefaultMaxTasks is the task-table capacity used when the scheduler is
// built without an explicit limit.
const DefaultMaxTasks = 32

// A Scheduler owns the task set and decides, at each tick and at each return
// from a blocking primitive, which Ready task runs next.
//
// The model is single-core, priority-preemptive and run-to-block: the
// highest-priority Ready task runs until it yields, blocks, terminates, or a
// higher-priority task becomes Ready at a safe preemption point. There is no
// time-slicing. Priority starvation is the task author's responsibility.
type Scheduler struct {
	HookableBase

	mu    sync.Mutex
	clock *ManualClock

	maxTasks int
	nextSeq  int
	tasks    []*task
	byID     map[string]*task
	live     int

	ready  readyHeap
	timers timerHeap

	running *task

	// control returns control from a task goroutine to the scheduler. The
	// lock-step handoff guarantees that at any instant at most one of the
	// scheduler and one task goroutine is executing kernel code.
	control chan struct{}

	idGen id.IDGenerator
}

// NewScheduler creates a Scheduler with the default task-table capacity.
func NewScheduler() *Scheduler {
	return NewSchedulerWithCapacity(DefaultMaxTasks)
}

// NewSchedulerWithCapacity creates a Scheduler that can hold at most maxTasks
// live tasks.
func NewSchedulerWithCapacity(maxTasks int) *Scheduler {
	if maxTasks <= 0 {
		log.Panic("task capacity must be positive")
	}

	return &Scheduler{
		clock:    NewManualClock(),
		maxTasks: maxTasks,
		byID:     make(map[string]*task),
		control:  make(chan struct{}),
		idGen:    id.NewSequentialIDGenerator(),
	}
}

// CurrentTime returns the current kernel time.
func (s *Scheduler) CurrentTime() VTimeInMs {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.clock.Now()
}

// RegisterTask adds a task to the scheduler's task set.
//
// A periodic task enters Blocked until its first release time; an
// event-driven task enters Ready. RegisterTask fails with
// ErrCapacityExceeded when the task table is full.
func (s *Scheduler) RegisterTask(
	name string,
	priority int,
	policy WakePolicy,
	body TaskFunc,
) (*TaskHandle, error) {
	return s.RegisterTaskWithBudget(name, priority, policy, body, 0)
}

// RegisterTaskWithBudget is RegisterTask with an abstract stack budget. A
// budget of 0 disables the check. A task whose tracked usage exceeds its
// budget is terminated; the fault never propagates past the task.
func (s *Scheduler) RegisterTaskWithBudget(
	name string,
	priority int,
	policy WakePolicy,
	body TaskFunc,
	stackBudget int,
) (*TaskHandle, error) {
	if body == nil {
		log.Panic("task body must not be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live >= s.maxTasks {
		return nil, fmt.Errorf("%w: task table holds %d tasks",
			ErrCapacityExceeded, s.maxTasks)
	}

	t := &task{
		id:          s.idGen.Generate(),
		name:        name,
		priority:    priority,
		seq:         s.nextSeq,
		policy:      policy,
		body:        body,
		resume:      make(chan wakeReason),
		readyIndex:  notQueued,
		timerIndex:  notQueued,
		stackBudget: stackBudget,
	}
	s.nextSeq++
	s.live++
	s.tasks = append(s.tasks, t)
	s.byID[t.id] = t

	now := s.clock.Now()
	if policy.IsPeriodic() {
		t.nextRelease = now + VTimeInMs(policy.Interval())
		s.armTimer(t, t.nextRelease)
		s.transition(t, TaskBlocked)
		t.pendingReason = wakePeriod
	} else {
		t.pendingReason = wakeSignal
		s.makeReady(t, now)
	}

	go s.taskMain(t)

	return &TaskHandle{s: s, t: t}, nil
}

// Tick advances kernel time by elapsed and moves every task whose deadline
// has passed to Ready. Tick never blocks and performs no dispatch, so it is
// safe to call from an ISR-like context.
func (s *Scheduler) Tick(elapsed DurationMs) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clock.Advance(elapsed)
	now := s.clock.Now()

	for s.timers.Len() > 0 && s.timers[0].timerDeadline <= now {
		t := heap.Pop(&s.timers).(*task)

		reason := wakeTimeout
		if t.policy.IsPeriodic() && t.waitingOn == nil {
			reason = wakePeriod
		}

		if t.waitingOn != nil {
			t.waitingOn.remove(t)
		}

		t.pendingReason = reason
		s.makeReady(t, t.timerDeadline)
	}
}

// RunOnce performs exactly one scheduling decision. It dispatches the
// highest-priority Ready task and regains control when the task yields,
// blocks, suspends, terminates, or is preempted. It returns false when no
// Ready task remains.
func (s *Scheduler) RunOnce() bool {
	s.mu.Lock()

	s.reclaimKilledLocked()

	if s.ready.Len() == 0 {
		s.mu.Unlock()
		return false
	}

	t := heap.Pop(&s.ready).(*task)
	s.transition(t, TaskRunning)
	s.running = t
	reason := t.pendingReason
	s.mu.Unlock()

	t.resume <- reason
	<-s.control

	s.mu.Lock()
	s.running = nil
	s.mu.Unlock()

	return true
}

// RunUntil alternates ticks of the given granularity with full drains of the
// ready set, until kernel time reaches deadline.
func (s *Scheduler) RunUntil(deadline VTimeInMs, tick DurationMs) {
	if tick <= 0 {
		log.Panic("tick granularity must be positive")
	}

	for {
		for s.RunOnce() {
		}

		if s.CurrentTime() >= deadline {
			return
		}

		s.Tick(tick)
	}
}

// DeleteTask marks a task Terminated. Its resources are reclaimed at the
// next RunOnce boundary, never while the task's own body is on the call
// stack. Deleting a terminated task is a no-op.
func (s *Scheduler) DeleteTask(h *TaskHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := h.t
	if t.state == TaskTerminated || t.killed {
		return
	}

	t.killed = true
}

// Suspend removes a task from scheduling until Resume is called. A Running
// task cannot be suspended externally; it suspends itself through its
// Context.
func (s *Scheduler) Suspend(h *TaskHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := h.t
	switch t.state {
	case TaskReady:
		heap.Remove(&s.ready, t.readyIndex)
	case TaskBlocked:
		if t.timerIndex != notQueued {
			heap.Remove(&s.timers, t.timerIndex)
		}
		if t.waitingOn != nil {
			t.waitingOn.remove(t)
		}
		// A wait interrupted by suspension reports a timeout when the task
		// is resumed.
		t.pendingReason = wakeTimeout
	case TaskRunning, TaskSuspended, TaskTerminated:
		return
	}

	s.transition(t, TaskSuspended)
}

// Resume moves a Suspended task back to Ready.
func (s *Scheduler) Resume(h *TaskHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := h.t
	if t.state != TaskSuspended {
		return
	}

	s.makeReady(t, s.clock.Now())
}

// Tasks returns handles for every task ever registered, including terminated
// ones, in registration order.
func (s *Scheduler) Tasks() []*TaskHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	handles := make([]*TaskHandle, 0, len(s.tasks))
	for _, t := range s.tasks {
		handles = append(handles, &TaskHandle{s: s, t: t})
	}

	return handles
}

// taskMain is the top frame of every task goroutine. It waits for the first
// dispatch, runs the body, and hands control back when the body ends for any
// reason.
func (s *Scheduler) taskMain(t *task) {
	reason := <-t.resume

	var err error
	if reason == wakeKill {
		// Deleted before it ever ran; the body never starts.
		err = ErrTaskTerminated
	} else {
		err = s.runBody(t)
	}

	s.mu.Lock()
	t.faultErr = err
	s.releaseHeldGuardsLocked(t)
	s.transition(t, TaskTerminated)
	s.live--
	s.mu.Unlock()

	s.control <- struct{}{}
}

func (s *Scheduler) runBody(t *task) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		if _, killed := r.(killSentinel); killed {
			err = ErrTaskTerminated
			return
		}

		if perr, ok := r.(error); ok {
			err = fmt.Errorf("task %s panicked: %w", t.name, perr)
		} else {
			err = fmt.Errorf("task %s panicked: %v", t.name, r)
		}
		log.Printf("rtkern: %v", err)
	}()

	return t.body(&Context{s: s, t: t})
}

// park gives up control. The caller must hold s.mu and must already have
// recorded the task's new state. park returns with s.mu held again, unless
// the task was killed, in which case it unwinds.
func (s *Scheduler) park(t *task) wakeReason {
	s.mu.Unlock()
	s.control <- struct{}{}

	reason := <-t.resume
	if reason == wakeKill {
		panic(killSentinel{})
	}

	// RunOnce marked the task Running before dispatching it.
	s.mu.Lock()

	if t.killed {
		s.mu.Unlock()
		panic(killSentinel{})
	}

	return reason
}

// blockOn parks the running task on a wait list until it is signaled or the
// absolute deadline passes. A deadline of zero duration fails immediately;
// the caller handles the fast path before calling blockOn.
func (s *Scheduler) blockOn(
	t *task,
	wl *waitList,
	deadline VTimeInMs,
	hasDeadline bool,
) wakeReason {
	wl.add(t)
	if hasDeadline {
		s.armTimer(t, deadline)
	}

	s.transition(t, TaskBlocked)

	return s.park(t)
}

// sleepUntil parks the running task until the absolute deadline passes.
func (s *Scheduler) sleepUntil(t *task, deadline VTimeInMs) wakeReason {
	s.armTimer(t, deadline)
	s.transition(t, TaskBlocked)

	return s.park(t)
}

// absDeadline converts a relative timeout to an absolute deadline. The
// caller must hold s.mu.
func (s *Scheduler) absDeadline(timeout DurationMs) (VTimeInMs, bool) {
	if timeout.IsForever() {
		return 0, false
	}

	return s.clock.Now() + VTimeInMs(timeout), true
}

// wake moves a Blocked task to Ready because the condition it waits for is
// now satisfied. The caller must hold s.mu and must have popped the task
// from its wait list already.
func (s *Scheduler) wake(t *task, reason wakeReason) {
	if t.timerIndex != notQueued {
		heap.Remove(&s.timers, t.timerIndex)
	}

	t.pendingReason = reason
	s.makeReady(t, s.clock.Now())
}

// maybePreempt parks the running task as Ready if a strictly
// higher-priority task is Ready. Primitives call it on their way out, which
// makes every return from a kernel call a safe preemption point.
func (s *Scheduler) maybePreempt(t *task) {
	if t.killed {
		s.mu.Unlock()
		panic(killSentinel{})
	}

	if s.ready.Len() == 0 || s.ready[0].priority <= t.priority {
		return
	}

	t.pendingReason = wakeResume
	s.makeReady(t, s.clock.Now())
	s.park(t)
}

// yield parks the running task as Ready unconditionally.
func (s *Scheduler) yield(t *task) {
	t.pendingReason = wakeResume
	s.makeReady(t, s.clock.Now())
	s.park(t)
}

// suspendSelf parks the running task as Suspended.
func (s *Scheduler) suspendSelf(t *task) {
	s.transition(t, TaskSuspended)
	s.park(t)
}

func (s *Scheduler) makeReady(t *task, deadline VTimeInMs) {
	t.readyDeadline = deadline
	s.transition(t, TaskReady)
	heap.Push(&s.ready, t)
}

func (s *Scheduler) armTimer(t *task, deadline VTimeInMs) {
	t.timerDeadline = deadline
	heap.Push(&s.timers, t)
}

// reclaimKilledLocked unwinds every killed task that is parked somewhere.
// Each unwind is a full lock-step handoff: the task goroutine releases its
// guards and exits before the next one is processed.
func (s *Scheduler) reclaimKilledLocked() {
	for {
		var victim *task
		for _, t := range s.tasks {
			if t.killed && t.state != TaskTerminated && t.state != TaskRunning {
				victim = t
				break
			}
		}

		if victim == nil {
			return
		}

		s.detachLocked(victim)

		s.mu.Unlock()
		victim.resume <- wakeKill
		<-s.control
		s.mu.Lock()
	}
}

// detachLocked removes a task from the ready heap, timer heap, and any wait
// list it is on.
func (s *Scheduler) detachLocked(t *task) {
	if t.readyIndex != notQueued {
		heap.Remove(&s.ready, t.readyIndex)
	}
	if t.timerIndex != notQueued {
		heap.Remove(&s.timers, t.timerIndex)
	}
	if t.waitingOn != nil {
		t.waitingOn.remove(t)
	}
}

// releaseHeldGuardsLocked force-releases every mutex guard a terminating
// task still holds, so that a crashed critical section never leaves a lock
// stuck.
func (s *Scheduler) releaseHeldGuardsLocked(t *task) {
	for len(t.heldGuards) > 0 {
		g := t.heldGuards[len(t.heldGuards)-1]
		g.releaseLocked()
	}
}

// transition records a task state change and invokes the lifecycle hooks.
func (s *Scheduler) transition(t *task, to TaskState) {
	from := t.state
	t.state = to

	if s.NumHooks() == 0 {
		return
	}

	pos := hookPosForState(to)
	s.InvokeHook(HookCtx{
		Domain: s,
		Pos:    pos,
		Item: TaskTransition{
			Task: &TaskHandle{s: s, t: t},
			From: from,
			To:   to,
			Time: s.clock.Now(),
		},
	})
}

func hookPosForState(state TaskState) *HookPos {
	switch state {
	case TaskReady:
		return HookPosTaskReady
	case TaskRunning:
		return HookPosTaskRun
	case TaskBlocked:
		return HookPosTaskBlock
	case TaskSuspended:
		return HookPosTaskSuspend
	case TaskTerminated:
		return HookPosTaskTerminate
	}

	return nil
}
