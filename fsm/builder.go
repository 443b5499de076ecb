package fsm

import (
	"log"

	"github.com/rtkern/rtkern/kern"
)

// DefaultInboxCapacity is the inbox size used when the builder is not given
// one.
const DefaultInboxCapacity = 16

// Builder can be used to build a Machine.
type Builder struct {
	s             *kern.Scheduler
	name          string
	emitter       Emitter
	initial       State
	initialSet    bool
	inboxCapacity int

	durations map[State]kern.DurationMs
	fallbacks map[State]FallbackPolicy
	table     map[transitionKey]rule
}

// MakeBuilder creates a new builder.
func MakeBuilder(s *kern.Scheduler) Builder {
	return Builder{
		s:             s,
		inboxCapacity: DefaultInboxCapacity,
		durations:     make(map[State]kern.DurationMs),
		fallbacks:     make(map[State]FallbackPolicy),
		table:         make(map[transitionKey]rule),
	}
}

// WithName sets the name of the machine.
func (b Builder) WithName(name string) Builder {
	b.name = name
	return b
}

// WithEmitter sets the sink that applies side effects.
func (b Builder) WithEmitter(e Emitter) Builder {
	b.emitter = e
	return b
}

// WithInitialState sets the safe initial state. A Reset event returns the
// machine here from any state.
func (b Builder) WithInitialState(s State) Builder {
	b.initial = s
	b.initialSet = true
	return b
}

// WithState declares a state and its duration. A duration of
// kern.DurationForever means the state only exits on a matching event; a
// duration of 0 times out immediately.
func (b Builder) WithState(s State, duration kern.DurationMs) Builder {
	b.durations[s] = duration
	return b
}

// WithFallback overrides the unrecognized-event policy for one state.
func (b Builder) WithFallback(s State, policy FallbackPolicy) Builder {
	b.fallbacks[s] = policy
	return b
}

// WithTransition adds a table entry for (from, kind). The action may be nil.
func (b Builder) WithTransition(
	from State,
	kind kern.EventKind,
	outcome Outcome,
	action ActionFunc,
) Builder {
	key := transitionKey{from: from, kind: kind}
	if _, dup := b.table[key]; dup {
		log.Panicf("duplicate transition (%s, %s)", from, kind)
	}

	b.table[key] = rule{outcome: outcome, action: action}
	return b
}

// WithInboxCapacity sets the capacity of the machine's inbound event queue.
func (b Builder) WithInboxCapacity(capacity int) Builder {
	b.inboxCapacity = capacity
	return b
}

func (b Builder) parametersMustBeValid() {
	if !b.initialSet {
		log.Panic("initial state must be set")
	}

	if _, declared := b.durations[b.initial]; !declared {
		log.Panic("initial state must be declared with WithState")
	}

	for key, r := range b.table {
		if _, declared := b.durations[key.from]; !declared {
			log.Panicf("transition from undeclared state %s", key.from)
		}
		if r.outcome.kind == outcomeGoto || r.outcome.kind == outcomeGotoKeep {
			if _, declared := b.durations[r.outcome.next]; !declared {
				log.Panicf("transition to undeclared state %s",
					r.outcome.next)
			}
		}
	}
}

// Build builds the machine in its safe initial state with its duration
// armed from the current time.
func (b Builder) Build() *Machine {
	b.parametersMustBeValid()

	emitter := b.emitter
	if emitter == nil {
		emitter = nopEmitter{}
	}

	m := &Machine{
		s:         b.s,
		name:      b.name,
		emitter:   emitter,
		initial:   b.initial,
		durations: b.durations,
		fallbacks: b.fallbacks,
		table:     b.table,
		inbox: kern.NewQueue[kern.Event](
			b.s, b.name+".inbox", b.inboxCapacity),
	}

	now := b.s.CurrentTime()
	m.current = b.initial
	m.enteredAt = now

	d := b.durations[b.initial]
	if !d.IsForever() {
		m.hasDL = true
		m.deadline = now + kern.VTimeInMs(d)
	}

	return m
}
