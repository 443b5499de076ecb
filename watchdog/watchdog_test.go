package watchdog_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rtkern/rtkern/kern"
	"github.com/rtkern/rtkern/watchdog"
)

type hookFunc func(ctx kern.HookCtx)

func (f hookFunc) Func(ctx kern.HookCtx) {
	f(ctx)
}

var _ = Describe("Watchdog", func() {
	var (
		s      *kern.Scheduler
		faults *kern.Queue[kern.Event]
		dog    *watchdog.Watchdog
	)

	BeforeEach(func() {
		s = kern.NewScheduler()
		faults = kern.NewQueue[kern.Event](s, "faults", 8)
		dog = watchdog.New(s, faults, 2)
	})

	It("should refuse a non-positive threshold", func() {
		Expect(func() {
			watchdog.New(s, faults, 0)
		}).To(Panic())
	})

	It("should refuse a liveness budget that never expires", func() {
		Expect(func() {
			dog.Watch("x", kern.DurationForever)
		}).To(Panic())
	})

	It("should never fault a task that beats within its budget", func() {
		h := dog.Watch("steady", 5000)

		for now := kern.VTimeInMs(1000); now <= 20000; now += 1000 {
			h.Beat(now)
			dog.Check(now)
		}

		Expect(dog.Faulted()).To(BeFalse())
		Expect(faults.Size()).To(Equal(0))
	})

	It("should raise a fault after the threshold of consecutive misses", func() {
		h := dog.Watch("slow", 5000)

		// The task beats every 6 seconds against a 5-second budget.
		dog.Check(5500)
		Expect(dog.Faulted()).To(BeFalse())

		h.Beat(6000)
		dog.Check(11800)
		Expect(dog.Faulted()).To(BeTrue())

		ev, err := faults.TryReceive()
		Expect(err).ToNot(HaveOccurred())
		Expect(ev.Kind).To(Equal(kern.EventKindSystemFault))

		info := ev.Payload.(watchdog.FaultInfo)
		Expect(info.Task).To(Equal("slow"))
		Expect(info.MissedChecks).To(Equal(2))
		Expect(info.LastHeartbeat).To(Equal(kern.VTimeInMs(6000)))
	})

	It("should not fault on misses that are not consecutive", func() {
		h := dog.Watch("bursty", 5000)

		dog.Check(5500)
		h.Beat(6000)
		dog.Check(10000)
		dog.Check(11500)

		Expect(dog.Faulted()).To(BeFalse())
	})

	It("should emit one event per fault episode", func() {
		dog.Watch("hung", 5000)

		dog.Check(6000)
		dog.Check(12000)
		dog.Check(18000)
		dog.Check(24000)

		Expect(faults.Size()).To(Equal(1))
	})

	It("should start a fresh episode after a recovery", func() {
		h := dog.Watch("flaky", 5000)

		dog.Check(6000)
		dog.Check(12000)
		Expect(faults.Size()).To(Equal(1))

		h.Beat(13000)
		dog.Check(14000)

		dog.Check(20000)
		dog.Check(26000)
		Expect(faults.Size()).To(Equal(2))
	})

	It("should report the fault through hooks", func() {
		var infos []watchdog.FaultInfo
		dog.AcceptHook(hookFunc(func(ctx kern.HookCtx) {
			if ctx.Pos == watchdog.HookPosFault {
				infos = append(infos, ctx.Item.(watchdog.FaultInfo))
			}
		}))

		dog.Watch("hung", 5000)
		dog.Check(6000)
		dog.Check(12000)

		Expect(infos).To(HaveLen(1))
		Expect(infos[0].Task).To(Equal("hung"))
	})

	It("should keep running when the fault queue is full", func() {
		for faults.Size() < faults.Capacity() {
			Expect(faults.TrySend(
				kern.MakeEvent(kern.EventKindSystemFault, nil, 0),
			)).To(Succeed())
		}

		dog.Watch("hung", 5000)
		dog.Check(6000)
		dog.Check(12000)

		Expect(dog.Faulted()).To(BeTrue())
		Expect(faults.Size()).To(Equal(faults.Capacity()))
	})

	It("should list the monitored tasks in registration order", func() {
		dog.Watch("a", 1000)
		dog.Watch("b", 2000)

		monitored := dog.Monitored()
		Expect(monitored).To(HaveLen(2))
		Expect(monitored[0].Name()).To(Equal("a"))
		Expect(monitored[1].Name()).To(Equal("b"))
	})

	It("should catch a hung task from its own scheduled body", func() {
		h := dog.Watch("worker", 5000)

		// The worker beats once and then hangs.
		_, _ = s.RegisterTask("worker", 1, kern.EventDrivenWake(),
			func(ctx *kern.Context) error {
				h.Beat(ctx.Now())
				ctx.Sleep(1e9)
				return nil
			})
		_, _ = s.RegisterTask("watchdog", 5, kern.PeriodicWake(4000),
			dog.Body())

		var caught *watchdog.FaultInfo
		_, _ = s.RegisterTask("faulthandler", 4, kern.EventDrivenWake(),
			func(ctx *kern.Context) error {
				ev, err := faults.Receive(ctx, kern.DurationForever)
				if err != nil {
					return err
				}
				info := ev.Payload.(watchdog.FaultInfo)
				caught = &info
				return nil
			})

		s.RunUntil(12001, 1)

		Expect(dog.Faulted()).To(BeTrue())
		Expect(caught).ToNot(BeNil())
		Expect(caught.Task).To(Equal("worker"))
	})
})
