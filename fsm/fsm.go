// Package fsm provides a table-driven finite state machine engine that runs
// on top of the kern scheduler. The machine owns a current state, applies a
// transition table to incoming events, arms state-duration timeouts, and
// hands side effects to an external sink.
package fsm

import (
	"log"
	"sync"

	"github.com/rtkern/rtkern/kern"
)

// A State names one state of a machine.
type State string

// An Emitter is the abstract I/O sink that applies the machine's side
// effects. The real implementation (an LED, a buzzer, a log line) is outside
// the engine.
type Emitter interface {
	Emit(effect string)
}

// An ActionFunc computes the effect descriptions of a transition from the
// old state and the triggering event. It must be pure; the Emitter applies
// the effects.
type ActionFunc func(from State, ev kern.Event) []string

// FallbackPolicy decides what a state does with an event kind that has no
// table entry.
type FallbackPolicy int

const (
	// FallbackIgnore keeps the current state and reports the event as an
	// unhandled-event diagnostic. This is the default.
	FallbackIgnore FallbackPolicy = iota

	// FallbackToInitial returns the machine to its safe initial state.
	FallbackToInitial
)

// HookPosTransition marks a completed state transition.
var HookPosTransition = &kern.HookPos{Name: "FSMTransition"}

// HookPosUnhandled marks an event that no table entry matched.
var HookPosUnhandled = &kern.HookPos{Name: "FSMUnhandled"}

// HookPosExtend marks an in-state duration extension.
var HookPosExtend = &kern.HookPos{Name: "FSMExtend"}

// A TransitionRecord describes one applied transition. It is the Item of
// HookPosTransition invocations.
type TransitionRecord struct {
	Machine string
	From    State
	To      State
	Kind    kern.EventKind
	Time    kern.VTimeInMs
}

type outcomeKind int

const (
	outcomeGoto outcomeKind = iota
	outcomeGotoKeep
	outcomeStay
	outcomeExtend
)

// An Outcome is what a table entry does to the machine's state.
type Outcome struct {
	kind  outcomeKind
	next  State
	delta kern.DurationMs
}

// Goto transitions to the next state and arms its duration.
func Goto(next State) Outcome {
	return Outcome{kind: outcomeGoto, next: next}
}

// GotoNoRearm transitions to the next state while keeping the running
// deadline and elapsed-time baseline. It relabels the state without touching
// its timing, which lets a table latch a condition (a pedestrian request,
// say) in the state itself.
func GotoNoRearm(next State) Outcome {
	return Outcome{kind: outcomeGotoKeep, next: next}
}

// GotoExtend is GotoNoRearm with the kept deadline shifted by delta. A
// negative delta cuts the state short, clamped at the current time.
func GotoExtend(next State, delta kern.DurationMs) Outcome {
	return Outcome{kind: outcomeGotoKeep, next: next, delta: delta}
}

// Stay keeps the current state and its running duration.
func Stay() Outcome {
	return Outcome{kind: outcomeStay}
}

// Extend keeps the current state and moves its deadline by delta. The
// elapsed-time baseline is not reset: the deadline moves from
// entered+duration to entered+duration+delta.
func Extend(delta kern.DurationMs) Outcome {
	return Outcome{kind: outcomeExtend, delta: delta}
}

type transitionKey struct {
	from State
	kind kern.EventKind
}

type rule struct {
	outcome Outcome
	action  ActionFunc
}

// A Machine is one finite state machine instance. It is created once in its
// safe initial state and never destroyed during normal operation. All
// methods must be called from the single task that drives the machine,
// except PostEvent, which any producer may call, and Current, which any
// goroutine may call.
type Machine struct {
	kern.HookableBase

	s       *kern.Scheduler
	name    string
	emitter Emitter

	initial   State
	durations map[State]kern.DurationMs
	fallbacks map[State]FallbackPolicy
	table     map[transitionKey]rule

	inbox *kern.Queue[kern.Event]

	// mu guards the state fields against readers outside the driving task,
	// such as the web monitor.
	mu        sync.Mutex
	current   State
	enteredAt kern.VTimeInMs
	deadline  kern.VTimeInMs
	hasDL     bool
}

// Name returns the name of the machine.
func (m *Machine) Name() string {
	return m.name
}

// Current returns the current state. It may be called from any goroutine.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.current
}

// Inbox returns the machine's inbound event queue.
func (m *Machine) Inbox() *kern.Queue[kern.Event] {
	return m.inbox
}

// PostEvent enqueues an event for the machine without blocking. A full inbox
// surfaces ErrQueueFull to the producer so it can decide to retry or drop;
// nothing is dropped silently.
func (m *Machine) PostEvent(ev kern.Event) error {
	return m.inbox.TrySend(ev)
}

// Step runs at most one engine step without blocking. It dequeues one
// pending event, or synthesizes a Timeout event if the state's duration has
// elapsed. When both are due, the earlier instant wins: an event stamped
// after an expired deadline stays queued until the timeout has been applied.
// With no pending event and a not-yet-elapsed duration, the state is left
// unchanged and Step returns false.
func (m *Machine) Step(now kern.VTimeInMs) bool {
	ev, peekErr := m.inbox.TryPeek()
	pending := peekErr == nil

	if m.hasDL && now >= m.deadline && (!pending || ev.Time > m.deadline) {
		// A synthesized timeout is applied at the deadline instant, not at
		// the polling instant, so a late poll replays the timeout chain
		// without skewing later deadlines.
		at := m.deadline
		m.apply(kern.MakeEvent(kern.EventKindTimeout, nil, at), at)
		return true
	}

	if pending {
		ev, _ = m.inbox.TryReceive()
		m.apply(ev, now)
		return true
	}

	return false
}

// Pump blocks the calling task until the next event arrives or the state's
// duration elapses, then applies exactly one event. A state that only exits
// on an event blocks indefinitely.
func (m *Machine) Pump(ctx *kern.Context) {
	now := ctx.Now()

	if m.hasDL && now >= m.deadline {
		// A wake past the deadline orders the step by timestamp, like Step:
		// an event stamped after the deadline waits for the timeout.
		ev, err := m.inbox.TryPeek()
		if err != nil || ev.Time > m.deadline {
			at := m.deadline
			m.apply(kern.MakeEvent(kern.EventKindTimeout, nil, at), at)
			return
		}
	}

	ev, err := m.inbox.Receive(ctx, m.remaining(now))
	if err != nil {
		// The state's duration elapsed with no event. A coarse tick may
		// wake the task past the deadline; the timeout still applies at
		// the deadline instant.
		at := ctx.Now()
		if m.hasDL && m.deadline < at {
			at = m.deadline
		}

		m.apply(kern.MakeEvent(kern.EventKindTimeout, nil, at), at)
		return
	}

	m.apply(ev, ctx.Now())
}

// Body returns a task body that drives the machine with Pump, one event per
// wake. Register it as an event-driven task.
func (m *Machine) Body() kern.TaskFunc {
	return func(ctx *kern.Context) error {
		for {
			m.Pump(ctx)
		}
	}
}

// remaining returns the receive timeout for the current state: the time left
// until its deadline, or forever for a state that only exits on an event.
func (m *Machine) remaining(now kern.VTimeInMs) kern.DurationMs {
	if !m.hasDL {
		return kern.DurationForever
	}

	left := kern.DurationMs(m.deadline - now)
	if left < 0 {
		left = 0
	}

	return left
}

// apply runs one event through the machine.
func (m *Machine) apply(ev kern.Event, now kern.VTimeInMs) {
	// The reset override is checked before any table lookup, every time.
	if ev.Kind == kern.EventKindReset {
		m.enter(m.initial, ev, now, nil)
		return
	}

	r, found := m.table[transitionKey{from: m.current, kind: ev.Kind}]
	if !found {
		m.unhandled(ev, now)
		return
	}

	switch r.outcome.kind {
	case outcomeGoto:
		m.enter(r.outcome.next, ev, now, r.action)
	case outcomeGotoKeep:
		m.relabel(r.outcome.next, r.outcome.delta, ev, now, r.action)
	case outcomeStay:
		m.runAction(r.action, ev)
	case outcomeExtend:
		m.runAction(r.action, ev)
		m.extend(r.outcome.delta, ev, now)
	}
}

// relabel changes the current state without rearming its duration. The
// elapsed-time baseline and deadline carry over, shifted by delta.
func (m *Machine) relabel(
	next State,
	delta kern.DurationMs,
	ev kern.Event,
	now kern.VTimeInMs,
	action ActionFunc,
) {
	from := m.current

	m.runAction(action, ev)

	m.mu.Lock()
	m.current = next
	m.mu.Unlock()

	if delta != 0 {
		m.extend(delta, ev, now)
	}

	if m.NumHooks() > 0 {
		m.InvokeHook(kern.HookCtx{
			Domain: m,
			Pos:    HookPosTransition,
			Item: TransitionRecord{
				Machine: m.name,
				From:    from,
				To:      next,
				Kind:    ev.Kind,
				Time:    now,
			},
		})
	}
}

// enter moves the machine to the given state, applies the action's effects,
// and arms the new state's duration from the instant of entry.
func (m *Machine) enter(next State, ev kern.Event, now kern.VTimeInMs, action ActionFunc) {
	from := m.current

	m.runAction(action, ev)

	m.mu.Lock()
	m.current = next
	m.enteredAt = now

	d, declared := m.durations[next]
	if !declared || d.IsForever() {
		m.hasDL = false
	} else {
		m.hasDL = true
		m.deadline = now + kern.VTimeInMs(d)
	}
	m.mu.Unlock()

	if m.NumHooks() > 0 {
		m.InvokeHook(kern.HookCtx{
			Domain: m,
			Pos:    HookPosTransition,
			Item: TransitionRecord{
				Machine: m.name,
				From:    from,
				To:      next,
				Kind:    ev.Kind,
				Time:    now,
			},
		})
	}
}

// extend moves the current state's deadline without resetting the
// elapsed-time baseline. Extending a state with no deadline is a no-op.
func (m *Machine) extend(delta kern.DurationMs, ev kern.Event, now kern.VTimeInMs) {
	if !m.hasDL {
		return
	}

	m.mu.Lock()
	m.deadline += kern.VTimeInMs(delta)
	if m.deadline < now {
		m.deadline = now
	}
	m.mu.Unlock()

	if m.NumHooks() > 0 {
		m.InvokeHook(kern.HookCtx{
			Domain: m,
			Pos:    HookPosExtend,
			Item: TransitionRecord{
				Machine: m.name,
				From:    m.current,
				To:      m.current,
				Kind:    ev.Kind,
				Time:    now,
			},
			Detail: delta,
		})
	}
}

func (m *Machine) runAction(action ActionFunc, ev kern.Event) {
	if action == nil {
		return
	}

	for _, effect := range action(m.current, ev) {
		m.emitter.Emit(effect)
	}
}

func (m *Machine) unhandled(ev kern.Event, now kern.VTimeInMs) {
	policy := m.fallbacks[m.current]

	if policy == FallbackToInitial {
		m.enter(m.initial, ev, now, nil)
		return
	}

	log.Printf("fsm %s: unhandled event %s in state %s",
		m.name, ev.Kind, m.current)

	if m.NumHooks() > 0 {
		m.InvokeHook(kern.HookCtx{
			Domain: m,
			Pos:    HookPosUnhandled,
			Item: TransitionRecord{
				Machine: m.name,
				From:    m.current,
				To:      m.current,
				Kind:    ev.Kind,
				Time:    now,
			},
		})
	}
}

// nopEmitter drops effects. Used when a machine is built without a sink.
type nopEmitter struct{}

func (nopEmitter) Emit(string) {}
