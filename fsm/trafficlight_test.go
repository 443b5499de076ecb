package fsm_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rtkern/rtkern/fsm"
	"github.com/rtkern/rtkern/kern"
)

var _ = Describe("TrafficLight", func() {
	var (
		s       *kern.Scheduler
		emitter *recordingEmitter
		m       *fsm.Machine
	)

	BeforeEach(func() {
		s = kern.NewScheduler()
		emitter = &recordingEmitter{}
		m = fsm.NewTrafficLight(s, emitter)
	})

	// stepTo replays timeouts up to the given instant, one at a time.
	stepTo := func(now kern.VTimeInMs) {
		for m.Step(now) {
		}
	}

	It("should start in Red", func() {
		Expect(m.Current()).To(Equal(fsm.StateRed))
	})

	It("should hold Red until its full duration elapses", func() {
		Expect(m.Step(9999)).To(BeFalse())
		Expect(m.Current()).To(Equal(fsm.StateRed))

		Expect(m.Step(10000)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateRedYellow))
	})

	It("should run the nominal cycle Red, RedYellow, Green, Yellow, Red", func() {
		Expect(m.Step(10000)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateRedYellow))

		Expect(m.Step(12000)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateGreen))

		Expect(m.Step(27000)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateYellow))

		Expect(m.Step(30000)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateRed))

		Expect(emitter.effects).To(ContainElement("cycle complete"))
	})

	It("should latch a walk request during Red without touching its timer", func() {
		post(m, fsm.EventKindButtonPressed, 3000)
		Expect(m.Step(3000)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateRedRequested))

		// The request relabels the state; the Red phase still ends on time.
		Expect(m.Step(9999)).To(BeFalse())
		Expect(m.Step(10000)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StatePedestrian))

		Expect(m.Step(30000)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateRedYellow))
	})

	It("should absorb repeated button presses while a request is latched", func() {
		post(m, fsm.EventKindButtonPressed, 1000)
		stepTo(1000)
		Expect(m.Current()).To(Equal(fsm.StateRedRequested))

		post(m, fsm.EventKindButtonPressed, 2000)
		stepTo(2000)
		Expect(m.Current()).To(Equal(fsm.StateRedRequested))

		stepTo(10000)
		Expect(m.Current()).To(Equal(fsm.StatePedestrian))
	})

	It("should cut Green short to its minimum on an early walk request", func() {
		stepTo(12000)
		Expect(m.Current()).To(Equal(fsm.StateGreen))

		post(m, fsm.EventKindButtonPressed, 13000)
		Expect(m.Step(13000)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateGreenRequested))

		// Green entered at 12000; the request pulls its end in to the
		// 5-second minimum.
		Expect(m.Step(16999)).To(BeFalse())
		Expect(m.Step(17000)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateYellowReq))

		Expect(m.Step(20000)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateRedRequested))

		Expect(m.Step(30000)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StatePedestrian))
	})

	It("should end Green at once on a walk request past the minimum", func() {
		stepTo(12000)
		Expect(m.Current()).To(Equal(fsm.StateGreen))

		post(m, fsm.EventKindButtonPressed, 19000)
		Expect(m.Step(19000)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateGreenRequested))

		Expect(m.Step(19000)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateYellowReq))
	})

	It("should apply the Red timeout before a button pressed after it", func() {
		post(m, fsm.EventKindButtonPressed, 11000)
		stepTo(11000)

		// The Red phase ended at 10000; the later press lands in
		// RedYellow, which ignores it, instead of latching a request.
		Expect(m.Current()).To(Equal(fsm.StateRedYellow))
	})

	It("should extend a cut-short Green on a car-sensor trigger", func() {
		stepTo(12000)
		post(m, fsm.EventKindButtonPressed, 13000)
		stepTo(13000)
		Expect(m.Current()).To(Equal(fsm.StateGreenRequested))

		post(m, fsm.EventKindSensorTriggered, 14000)
		Expect(m.Step(14000)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateGreenRequested))

		// Cut short to 17000 by the request, pushed back to 22000 by the
		// car.
		Expect(m.Step(21999)).To(BeFalse())
		Expect(m.Step(22000)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateYellowReq))
		Expect(emitter.effects).To(ContainElement("green extended"))
	})

	It("should extend Green per car-sensor trigger without moving its baseline", func() {
		stepTo(12000)
		Expect(m.Current()).To(Equal(fsm.StateGreen))

		post(m, fsm.EventKindSensorTriggered, 14000)
		Expect(m.Step(14000)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateGreen))

		Expect(m.Step(27000)).To(BeFalse())
		Expect(m.Step(32000)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateYellow))
		Expect(emitter.effects).To(ContainElement("green extended"))
	})

	It("should give an emergency vehicle a fresh Green from any normal state", func() {
		post(m, fsm.EventKindEmergency, 500)
		Expect(m.Step(500)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateGreen))
		Expect(emitter.effects).To(ContainElement("lights=green walk=off"))
		Expect(emitter.effects).To(ContainElement("emergency vehicle priority"))

		// The emergency Green runs a full phase from its entry at 500.
		Expect(m.Step(15499)).To(BeFalse())
		Expect(m.Step(15500)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateYellow))
	})

	It("should restart the Green phase on an emergency during Green", func() {
		stepTo(12000)
		Expect(m.Current()).To(Equal(fsm.StateGreen))

		post(m, fsm.EventKindEmergency, 13000)
		Expect(m.Step(13000)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateGreen))

		Expect(m.Step(27000)).To(BeFalse())
		Expect(m.Step(28000)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateYellow))
	})

	It("should drop a latched walk request on an emergency", func() {
		post(m, fsm.EventKindButtonPressed, 1000)
		stepTo(1000)
		Expect(m.Current()).To(Equal(fsm.StateRedRequested))

		post(m, fsm.EventKindEmergency, 2000)
		Expect(m.Step(2000)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateGreen))

		// No Pedestrian phase follows; the cycle returns to plain Red.
		stepTo(20001)
		Expect(m.Current()).To(Equal(fsm.StateRed))
	})

	It("should enter FaultFlash on a watchdog fault", func() {
		post(m, kern.EventKindSystemFault, 500)
		Expect(m.Step(500)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateFaultFlash))
		Expect(emitter.effects).To(ContainElement("lights=all=off alarm=on"))
	})

	It("should keep flashing until an explicit Reset", func() {
		post(m, kern.EventKindSystemFault, 500)
		stepTo(500)
		Expect(m.Current()).To(Equal(fsm.StateFaultFlash))

		Expect(m.Step(1500)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateFaultFlash))
		Expect(m.Step(2500)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateFaultFlash))

		// A latched walk request means nothing to the flashing state.
		post(m, fsm.EventKindButtonPressed, 2600)
		Expect(m.Step(2600)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateFaultFlash))

		post(m, kern.EventKindReset, 3000)
		Expect(m.Step(3000)).To(BeTrue())
		Expect(m.Current()).To(Equal(fsm.StateRed))
	})

	It("should drive the full cycle from the scheduler", func() {
		_, err := s.RegisterTask(
			"controller", 3, kern.EventDrivenWake(), m.Body())
		Expect(err).ToNot(HaveOccurred())

		s.RunUntil(12500, 1)
		Expect(m.Current()).To(Equal(fsm.StateGreen))

		Expect(m.PostEvent(
			kern.MakeEvent(fsm.EventKindButtonPressed, nil, 13000),
		)).To(Succeed())
		s.RunUntil(17500, 1)
		Expect(m.Current()).To(Equal(fsm.StateYellowReq))

		s.RunUntil(50001, 1)
		Expect(m.Current()).To(Equal(fsm.StateRedYellow))
	})
})
