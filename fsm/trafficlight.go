package fsm

import (
	"fmt"

	"github.com/rtkern/rtkern/kern"
)

// Traffic light states. The *Requested states carry a latched pedestrian
// request; their lights are identical to their base states.
const (
	StateRed            State = "Red"
	StateRedRequested   State = "RedRequested"
	StateRedYellow      State = "RedYellow"
	StateGreen          State = "Green"
	StateGreenRequested State = "GreenRequested"
	StateYellow         State = "Yellow"
	StateYellowReq      State = "YellowRequested"
	StatePedestrian     State = "Pedestrian"
	StateFaultFlash     State = "FaultFlash"
)

// Traffic light event kinds, on top of the kernel's Timeout/Reset/
// SystemFault kinds.
const (
	EventKindButtonPressed   kern.EventKind = "ButtonPressed"
	EventKindSensorTriggered kern.EventKind = "SensorTriggered"
	EventKindEmergency       kern.EventKind = "Emergency"
)

// Traffic light state durations in milliseconds.
const (
	RedDuration        kern.DurationMs = 10000
	RedYellowDuration  kern.DurationMs = 2000
	GreenDuration      kern.DurationMs = 15000
	YellowDuration     kern.DurationMs = 3000
	PedestrianDuration kern.DurationMs = 20000
	FaultFlashDuration kern.DurationMs = 1000

	// GreenMinimum is the shortest green phase: a pedestrian request cuts
	// green short, but never below this floor from state entry.
	GreenMinimum kern.DurationMs = 5000

	// SensorGreenExtension is the extra green time granted per car-sensor
	// trigger. The deadline moves; the elapsed-time baseline does not.
	SensorGreenExtension kern.DurationMs = 5000
)

// NewTrafficLight builds the traffic light controller machine. Red is the
// safe initial state: a Reset event returns here from anywhere.
func NewTrafficLight(s *kern.Scheduler, emitter Emitter) *Machine {
	cut := GreenMinimum - GreenDuration

	return MakeBuilder(s).
		WithName("trafficlight").
		WithEmitter(emitter).
		WithInitialState(StateRed).
		WithState(StateRed, RedDuration).
		WithState(StateRedRequested, RedDuration).
		WithState(StateRedYellow, RedYellowDuration).
		WithState(StateGreen, GreenDuration).
		WithState(StateGreenRequested, GreenDuration).
		WithState(StateYellow, YellowDuration).
		WithState(StateYellowReq, YellowDuration).
		WithState(StatePedestrian, PedestrianDuration).
		WithState(StateFaultFlash, FaultFlashDuration).
		WithTransition(StateRed, kern.EventKindTimeout,
			Goto(StateRedYellow), lightAction("red+yellow", "walk=off")).
		WithTransition(StateRed, EventKindButtonPressed,
			GotoNoRearm(StateRedRequested), announce("walk request latched")).
		WithTransition(StateRedRequested, kern.EventKindTimeout,
			Goto(StatePedestrian), lightAction("red", "walk=on")).
		WithTransition(StateRedRequested, EventKindButtonPressed,
			Stay(), nil).
		WithTransition(StateRedYellow, kern.EventKindTimeout,
			Goto(StateGreen), lightAction("green", "walk=off")).
		WithTransition(StateGreen, kern.EventKindTimeout,
			Goto(StateYellow), lightAction("yellow", "walk=off")).
		WithTransition(StateGreen, EventKindButtonPressed,
			GotoExtend(StateGreenRequested, cut),
			announce("walk request latched, green cut short")).
		WithTransition(StateGreen, EventKindSensorTriggered,
			Extend(SensorGreenExtension), announce("green extended")).
		WithTransition(StateGreenRequested, kern.EventKindTimeout,
			Goto(StateYellowReq), lightAction("yellow", "walk=off")).
		WithTransition(StateGreenRequested, EventKindButtonPressed,
			Stay(), nil).
		WithTransition(StateGreenRequested, EventKindSensorTriggered,
			Extend(SensorGreenExtension), announce("green extended")).
		WithTransition(StateYellow, kern.EventKindTimeout,
			Goto(StateRed), cycleComplete()).
		WithTransition(StateYellowReq, kern.EventKindTimeout,
			Goto(StateRedRequested), cycleComplete()).
		WithTransition(StatePedestrian, kern.EventKindTimeout,
			Goto(StateRedYellow), lightAction("red+yellow", "walk=off")).
		WithTransition(StatePedestrian, EventKindButtonPressed,
			Stay(), nil).
		WithTransition(StateFaultFlash, kern.EventKindTimeout,
			Goto(StateFaultFlash), announce("red lamp toggled")).
		withEmergency(StateRed, StateRedRequested, StateRedYellow,
			StateGreen, StateGreenRequested, StateYellow, StateYellowReq,
			StatePedestrian).
		Build()
}

// withEmergency routes an Emergency event from every normal state to a fresh
// Green phase, clearing the way for the emergency vehicle, and a SystemFault
// to FaultFlash. A latched walk request does not survive the emergency.
func (b Builder) withEmergency(states ...State) Builder {
	for _, s := range states {
		b = b.WithTransition(s, EventKindEmergency,
			Goto(StateGreen), emergencyAction())
		b = b.WithTransition(s, kern.EventKindSystemFault,
			Goto(StateFaultFlash), lightAction("all=off", "alarm=on"))
	}

	return b
}

// emergencyAction emits the green corridor for an emergency vehicle.
func emergencyAction() ActionFunc {
	return func(from State, ev kern.Event) []string {
		return []string{"lights=green walk=off", "emergency vehicle priority"}
	}
}

// lightAction emits the lamp configuration of the state being entered.
func lightAction(lamps string, walk string) ActionFunc {
	return func(from State, ev kern.Event) []string {
		return []string{fmt.Sprintf("lights=%s %s", lamps, walk)}
	}
}

// announce emits a single fixed effect.
func announce(effect string) ActionFunc {
	return func(from State, ev kern.Event) []string {
		return []string{effect}
	}
}

// cycleComplete marks the end of one full light cycle and re-enters Red.
func cycleComplete() ActionFunc {
	return func(from State, ev kern.Event) []string {
		return []string{"lights=red walk=off", "cycle complete"}
	}
}
