// Package watchdog monitors task liveness. It detects silence, never
// remediates it: a fault is reported as a SystemFault event on a well-known
// queue, and whichever task consumes that event decides what to do.
package watchdog

import (
	"log"
	"math"
	"sync/atomic"

	"github.com/rtkern/rtkern/kern"
)

// HookPosFault marks a monitored task crossing the fault threshold.
var HookPosFault = &kern.HookPos{Name: "WatchdogFault"}

// A FaultInfo is the payload of a SystemFault event.
type FaultInfo struct {
	Task          string
	MissedChecks  int
	LastHeartbeat kern.VTimeInMs
}

// A Heartbeat is a monitored task's handle for reporting liveness. Beat is
// wait-free, so ISR-like producers may call it too. Each handle has exactly
// one writer: the task it monitors.
type Heartbeat struct {
	name     string
	budget   kern.DurationMs
	lastSeen atomic.Uint64

	// misses and faulted are written only by the watchdog task.
	misses  int
	faulted bool
}

// Beat records "I am alive" at the given time. Wait-free, never blocks.
func (h *Heartbeat) Beat(now kern.VTimeInMs) {
	h.lastSeen.Store(math.Float64bits(float64(now)))
}

// LastSeen returns the time of the most recent heartbeat.
func (h *Heartbeat) LastSeen() kern.VTimeInMs {
	return kern.VTimeInMs(math.Float64frombits(h.lastSeen.Load()))
}

// Name returns the name of the monitored task.
func (h *Heartbeat) Name() string {
	return h.name
}

// A Watchdog aggregates liveness of registered tasks. Counters are mutated
// only by the watchdog's own task; monitored tasks write only their own
// heartbeat timestamps.
type Watchdog struct {
	kern.HookableBase

	s         *kern.Scheduler
	faults    *kern.Queue[kern.Event]
	threshold int

	monitored []*Heartbeat
	faultFlag kern.Flag
}

// New creates a Watchdog that declares a fault after threshold consecutive
// missed checks and emits SystemFault events into faults.
func New(s *kern.Scheduler, faults *kern.Queue[kern.Event], threshold int) *Watchdog {
	if threshold <= 0 {
		log.Panic("fault threshold must be positive")
	}

	return &Watchdog{
		s:         s,
		faults:    faults,
		threshold: threshold,
	}
}

// Watch registers a task for monitoring with the given liveness budget: the
// maximum silence the task is allowed between heartbeats. Registration
// happens at startup, before the scheduler runs.
func (w *Watchdog) Watch(name string, budget kern.DurationMs) *Heartbeat {
	if budget.IsForever() || budget <= 0 {
		log.Panic("liveness budget must be positive and finite")
	}

	h := &Heartbeat{name: name, budget: budget}
	h.Beat(w.s.CurrentTime())
	w.monitored = append(w.monitored, h)

	return h
}

// Check walks every monitored task once. A task silent longer than its
// budget gains a consecutive miss; a task heard from has its misses reset.
// Crossing the threshold sets the global fault flag and emits one
// SystemFault event for that episode.
func (w *Watchdog) Check(now kern.VTimeInMs) {
	for _, h := range w.monitored {
		if kern.DurationMs(now-h.LastSeen()) <= h.budget {
			h.misses = 0
			h.faulted = false
			continue
		}

		h.misses++
		if h.misses < w.threshold || h.faulted {
			continue
		}

		h.faulted = true
		w.raise(h, now)
	}
}

// Faulted reports whether any monitored task has ever crossed the threshold.
// The flag latches; a recovered heartbeat starts a fresh episode but does not
// lower it.
func (w *Watchdog) Faulted() bool {
	return w.faultFlag.IsSet()
}

// Monitored returns the heartbeat handles in registration order.
func (w *Watchdog) Monitored() []*Heartbeat {
	return w.monitored
}

// Body returns the body of the watchdog's own periodic task: one Check per
// period. Register it with a PeriodicWake policy at the checking interval.
func (w *Watchdog) Body() kern.TaskFunc {
	return func(ctx *kern.Context) error {
		for {
			w.Check(ctx.Now())
			ctx.WaitNextPeriod()
		}
	}
}

// raise sets the fault flag and emits the SystemFault event. The watchdog
// never terminates anything; remediation belongs to the consumer.
func (w *Watchdog) raise(h *Heartbeat, now kern.VTimeInMs) {
	w.faultFlag.Set()

	info := FaultInfo{
		Task:          h.name,
		MissedChecks:  h.misses,
		LastHeartbeat: h.LastSeen(),
	}

	if err := w.faults.TrySend(
		kern.MakeEvent(kern.EventKindSystemFault, info, now)); err != nil {
		log.Printf("watchdog: fault queue full, %s fault not delivered",
			h.name)
	}

	w.InvokeHook(kern.HookCtx{
		Domain: w,
		Pos:    HookPosFault,
		Item:   info,
	})
}
