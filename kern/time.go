package kern

import "log"

// VTimeInMs defines the time in the simulated space in the unit of
// millisecond.
type VTimeInMs float64

// DurationMs is a span of simulated time in milliseconds.
//
// The zero duration is a valid, immediate deadline. DurationForever marks a
// wait that only ends on an external signal.
type DurationMs float64

// DurationForever represents an infinite duration. A timeout of
// DurationForever never fires; a state with this duration only exits on a
// matching event.
const DurationForever DurationMs = -1

// IsForever returns true if the duration represents an infinite wait.
func (d DurationMs) IsForever() bool {
	return d < 0
}

// A Clock tells the current kernel time. Time never decreases.
type Clock interface {
	Now() VTimeInMs
}

// A ManualClock is a Clock that only moves when Advance is called. The
// Scheduler owns one and moves it on each Tick.
type ManualClock struct {
	now VTimeInMs
}

// NewManualClock creates a ManualClock at time 0.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// Now returns the current time of the clock.
func (c *ManualClock) Now() VTimeInMs {
	return c.now
}

// Advance moves the clock forward by elapsed.
func (c *ManualClock) Advance(elapsed DurationMs) {
	if elapsed < 0 {
		log.Panic("clock cannot move backward")
	}

	c.now += VTimeInMs(elapsed)
}
