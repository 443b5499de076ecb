package datarecording

import (
	"github.com/rtkern/rtkern/fsm"
	"github.com/rtkern/rtkern/kern"
	"github.com/rtkern/rtkern/watchdog"
)

// Table names used by the kernel trace.
const (
	TaskTransitionTable = "task_transitions"
	FSMTransitionTable  = "fsm_transitions"
	WatchdogFaultTable  = "watchdog_faults"
	QueueSampleTable    = "queue_samples"
)

// A TaskTransitionEntry is one task state change.
type TaskTransitionEntry struct {
	Time      float64
	Task      string
	Priority  int
	FromState string
	ToState   string
}

// An FSMTransitionEntry is one applied machine transition.
type FSMTransitionEntry struct {
	Time      float64
	Machine   string
	FromState string
	ToState   string
	Kind      string
}

// A WatchdogFaultEntry is one declared liveness fault.
type WatchdogFaultEntry struct {
	Task          string
	MissedChecks  int
	LastHeartbeat float64
}

// A QueueSampleEntry is the occupancy of a queue right after a push or pop.
type QueueSampleEntry struct {
	Queue string
	Op    string
	Size  int
}

// A KernelTrace is a hook that records kernel activity into a DataRecorder.
// Attach it to a Scheduler, any number of Machines, and a Watchdog.
type KernelTrace struct {
	recorder DataRecorder
}

// NewKernelTrace creates a KernelTrace and its tables.
func NewKernelTrace(recorder DataRecorder) *KernelTrace {
	recorder.CreateTable(TaskTransitionTable, TaskTransitionEntry{})
	recorder.CreateTable(FSMTransitionTable, FSMTransitionEntry{})
	recorder.CreateTable(WatchdogFaultTable, WatchdogFaultEntry{})
	recorder.CreateTable(QueueSampleTable, QueueSampleEntry{})

	return &KernelTrace{recorder: recorder}
}

// Func records the hooked item. Unknown items are ignored so the trace can
// be attached at every hook position.
func (k *KernelTrace) Func(ctx kern.HookCtx) {
	if ctx.Pos == kern.HookPosQueuePush || ctx.Pos == kern.HookPosQueuePop {
		k.recordQueueSample(ctx)
		return
	}

	switch item := ctx.Item.(type) {
	case kern.TaskTransition:
		k.recorder.InsertData(TaskTransitionTable, TaskTransitionEntry{
			Time:      float64(item.Time),
			Task:      item.Task.Name(),
			Priority:  item.Task.Priority(),
			FromState: item.From.String(),
			ToState:   item.To.String(),
		})
	case fsm.TransitionRecord:
		k.recorder.InsertData(FSMTransitionTable, FSMTransitionEntry{
			Time:      float64(item.Time),
			Machine:   item.Machine,
			FromState: string(item.From),
			ToState:   string(item.To),
			Kind:      string(item.Kind),
		})
	case watchdog.FaultInfo:
		k.recorder.InsertData(WatchdogFaultTable, WatchdogFaultEntry{
			Task:          item.Task,
			MissedChecks:  item.MissedChecks,
			LastHeartbeat: float64(item.LastHeartbeat),
		})
	}
}

// recordQueueSample records a queue's occupancy after one push or pop. The
// item of a queue hook is the payload itself, so the queue identity comes
// from the hook domain and the size from the detail.
func (k *KernelTrace) recordQueueSample(ctx kern.HookCtx) {
	named, ok := ctx.Domain.(interface{ Name() string })
	if !ok {
		return
	}

	size, ok := ctx.Detail.(int)
	if !ok {
		return
	}

	op := "push"
	if ctx.Pos == kern.HookPosQueuePop {
		op = "pop"
	}

	k.recorder.InsertData(QueueSampleTable, QueueSampleEntry{
		Queue: named.Name(),
		Op:    op,
		Size:  size,
	})
}
