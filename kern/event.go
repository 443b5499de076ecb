package kern

import "github.com/rtkern/rtkern/kern/id"

// EventKind enumerates the type of an Event.
type EventKind string

// Kinds understood by every consumer. Domain packages define their own kinds
// on top of these.
const (
	// EventKindTimeout is the synthetic event delivered when a state or wait
	// duration elapses.
	EventKindTimeout EventKind = "Timeout"

	// EventKindReset forces a consumer back to its safe initial state.
	EventKindReset EventKind = "Reset"

	// EventKindSystemFault is raised by the watchdog when a monitored task
	// misses its liveness budget too many times.
	EventKindSystemFault EventKind = "SystemFault"
)

// An Event is a small, fixed-shape notification passed between tasks.
//
// Events are consumed at most once per queue slot. The kernel provides no
// multicast; a producer that needs fan-out enqueues a copy to each interested
// queue.
type Event struct {
	ID      string
	Kind    EventKind
	Payload any
	Time    VTimeInMs
}

var eventIDGenerator = id.NewSequentialIDGenerator()

// MakeEvent creates an Event stamped with the given time.
func MakeEvent(kind EventKind, payload any, now VTimeInMs) Event {
	return Event{
		ID:      eventIDGenerator.Generate(),
		Kind:    kind,
		Payload: payload,
		Time:    now,
	}
}
