package kern

// TaskState enumerates the lifecycle states of a task.
type TaskState int

// Task lifecycle states. Terminated is absorbing.
const (
	TaskReady TaskState = iota
	TaskRunning
	TaskBlocked
	TaskSuspended
	TaskTerminated
)

// String returns the name of the state.
func (s TaskState) String() string {
	switch s {
	case TaskReady:
		return "Ready"
	case TaskRunning:
		return "Running"
	case TaskBlocked:
		return "Blocked"
	case TaskSuspended:
		return "Suspended"
	case TaskTerminated:
		return "Terminated"
	}

	return "Unknown"
}

// A TaskFunc is the body of a task. The body runs until it returns or the
// task is deleted. A non-nil error terminates the task only, never the
// process.
type TaskFunc func(ctx *Context) error

// A WakePolicy decides when a registered task becomes Ready.
type WakePolicy struct {
	periodic bool
	interval DurationMs
}

// PeriodicWake wakes the task every interval, drift-free: each release time
// is the previous release time plus the interval, regardless of when the
// task actually ran.
func PeriodicWake(interval DurationMs) WakePolicy {
	return WakePolicy{periodic: true, interval: interval}
}

// EventDrivenWake makes the task Ready immediately. The body is expected to
// block on a queue or flag of its choosing.
func EventDrivenWake() WakePolicy {
	return WakePolicy{}
}

// IsPeriodic returns true for a periodic policy.
func (p WakePolicy) IsPeriodic() bool {
	return p.periodic
}

// Interval returns the period of a periodic policy.
func (p WakePolicy) Interval() DurationMs {
	return p.interval
}

// wakeReason tells a parked task goroutine why it was resumed.
type wakeReason int

const (
	wakeSignal wakeReason = iota
	wakeTimeout
	wakePeriod
	wakeResume
	wakeKill
)

// killSentinel unwinds a task goroutine when the task is deleted. The
// recover at the top of the task goroutine absorbs it.
type killSentinel struct{}

type task struct {
	id       string
	name     string
	priority int
	seq      int
	policy   WakePolicy
	body     TaskFunc

	state TaskState

	// resume carries control from the scheduler to the task goroutine.
	// Control returns through Scheduler.control.
	resume chan wakeReason

	// pendingReason is delivered on the next dispatch of a Ready task.
	pendingReason wakeReason

	// readyDeadline is the deadline that made the task Ready. Used only for
	// tie-breaking among equal priorities.
	readyDeadline VTimeInMs
	readyIndex    int

	// timerDeadline is the absolute wake time while the task is Blocked with
	// a finite timeout or sleeping until its next release.
	timerDeadline VTimeInMs
	timerIndex    int

	// nextRelease is the next drift-free release time of a periodic task.
	nextRelease VTimeInMs

	waitingOn *waitList

	killed   bool
	faultErr error

	stackBudget    int
	stackUsage     int
	stackHighWater int

	heldGuards []*Guard
}

const notQueued = -1

// A TaskHandle identifies a registered task and exposes its diagnostics.
type TaskHandle struct {
	s *Scheduler
	t *task
}

// ID returns the stable identity of the task.
func (h *TaskHandle) ID() string {
	return h.t.id
}

// Name returns the task name.
func (h *TaskHandle) Name() string {
	return h.t.name
}

// Priority returns the task priority. Higher is more urgent.
func (h *TaskHandle) Priority() int {
	return h.t.priority
}

// State returns the current lifecycle state of the task.
func (h *TaskHandle) State() TaskState {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	return h.t.state
}

// Err returns the error that terminated the task, if any.
func (h *TaskHandle) Err() error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	return h.t.faultErr
}

// StackHighWater returns the peak tracked stack usage of the task.
func (h *TaskHandle) StackHighWater() int {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	return h.t.stackHighWater
}

// A TaskTransition describes one task state change. It is the Item of every
// task-lifecycle hook invocation.
type TaskTransition struct {
	Task *TaskHandle
	From TaskState
	To   TaskState
	Time VTimeInMs
}

// readyHeap orders Ready tasks by priority (higher first), then by the
// deadline that readied them (earlier first), then by registration order.
type readyHeap []*task

func (h readyHeap) Len() int {
	return len(h)
}

func (h readyHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}

	if h[i].readyDeadline != h[j].readyDeadline {
		return h[i].readyDeadline < h[j].readyDeadline
	}

	return h[i].seq < h[j].seq
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].readyIndex = i
	h[j].readyIndex = j
}

func (h *readyHeap) Push(x interface{}) {
	t := x.(*task)
	t.readyIndex = len(*h)
	*h = append(*h, t)
}

func (h *readyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	t.readyIndex = notQueued
	*h = old[0 : n-1]
	return t
}

// timerHeap orders Blocked tasks by their absolute wake deadline.
type timerHeap []*task

func (h timerHeap) Len() int {
	return len(h)
}

func (h timerHeap) Less(i, j int) bool {
	if h[i].timerDeadline != h[j].timerDeadline {
		return h[i].timerDeadline < h[j].timerDeadline
	}

	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].timerIndex = i
	h[j].timerIndex = j
}

func (h *timerHeap) Push(x interface{}) {
	t := x.(*task)
	t.timerIndex = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	t.timerIndex = notQueued
	*h = old[0 : n-1]
	return t
}

// A waitList holds the tasks blocked on one queue direction or one mutex.
// Wake order is priority first, then registration order. FIFO wake order
// among waiters is deliberately not guaranteed.
type waitList struct {
	tasks []*task
}

func (l *waitList) add(t *task) {
	l.tasks = append(l.tasks, t)
	t.waitingOn = l
}

func (l *waitList) remove(t *task) {
	for i, w := range l.tasks {
		if w == t {
			l.tasks = append(l.tasks[:i], l.tasks[i+1:]...)
			break
		}
	}
	t.waitingOn = nil
}

func (l *waitList) popBest() *task {
	if len(l.tasks) == 0 {
		return nil
	}

	best := 0
	for i, w := range l.tasks[1:] {
		if w.priority > l.tasks[best].priority ||
			(w.priority == l.tasks[best].priority && w.seq < l.tasks[best].seq) {
			best = i + 1
		}
	}

	t := l.tasks[best]
	l.tasks = append(l.tasks[:best], l.tasks[best+1:]...)
	t.waitingOn = nil

	return t
}

func (l *waitList) len() int {
	return len(l.tasks)
}
