package kern

import (
	"errors"

	"github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = ginkgo.Describe("Mutex", func() {
	var (
		s *Scheduler
		m *Mutex
	)

	ginkgo.BeforeEach(func() {
		s = NewScheduler()
		m = NewMutex(s, "m")
	})

	ginkgo.It("should admit exactly one task to the critical section", func() {
		var trace []string

		worker := func(name string) TaskFunc {
			return func(ctx *Context) error {
				g, err := m.Acquire(ctx, DurationForever)
				if err != nil {
					return err
				}
				trace = append(trace, name+":in")
				ctx.Sleep(10)
				trace = append(trace, name+":out")
				g.Release()
				return nil
			}
		}

		_, _ = s.RegisterTask("first", 2, EventDrivenWake(), worker("first"))
		_, _ = s.RegisterTask("second", 1, EventDrivenWake(), worker("second"))

		s.RunUntil(30, 1)

		Expect(trace).To(Equal([]string{
			"first:in", "first:out", "second:in", "second:out",
		}))
	})

	ginkgo.It("should fail a zero-timeout acquire on a held mutex", func() {
		var acquireErr error

		_, _ = s.RegisterTask("holder", 2, EventDrivenWake(),
			func(ctx *Context) error {
				g, err := m.Acquire(ctx, DurationForever)
				if err != nil {
					return err
				}
				defer g.Release()
				ctx.Sleep(100)
				return nil
			})
		_, _ = s.RegisterTask("impatient", 1, EventDrivenWake(),
			func(ctx *Context) error {
				_, acquireErr = m.Acquire(ctx, 0)
				return nil
			})

		drain(s)

		Expect(errors.Is(acquireErr, ErrLockTimeout)).To(BeTrue())
	})

	ginkgo.It("should time out a waiter before the holder releases", func() {
		var acquireErr error

		_, _ = s.RegisterTask("holder", 2, EventDrivenWake(),
			func(ctx *Context) error {
				g, err := m.Acquire(ctx, DurationForever)
				if err != nil {
					return err
				}
				defer g.Release()
				ctx.Sleep(100)
				return nil
			})
		h, _ := s.RegisterTask("waiter", 1, EventDrivenWake(),
			func(ctx *Context) error {
				_, acquireErr = m.Acquire(ctx, 50)
				return nil
			})

		s.RunUntil(50, 1)
		drain(s)

		Expect(h.State()).To(Equal(TaskTerminated))
		Expect(errors.Is(acquireErr, ErrLockTimeout)).To(BeTrue())
	})

	ginkgo.It("should hand the mutex to the highest-priority waiter", func() {
		var trace []string

		waiter := func(name string) TaskFunc {
			return func(ctx *Context) error {
				g, err := m.Acquire(ctx, DurationForever)
				if err != nil {
					return err
				}
				trace = append(trace, name)
				g.Release()
				return nil
			}
		}

		_, _ = s.RegisterTask("holder", 3, EventDrivenWake(),
			func(ctx *Context) error {
				g, err := m.Acquire(ctx, DurationForever)
				if err != nil {
					return err
				}
				ctx.Sleep(10)
				g.Release()
				return nil
			})
		_, _ = s.RegisterTask("lowWaiter", 1, EventDrivenWake(), waiter("low"))
		_, _ = s.RegisterTask("highWaiter", 2, EventDrivenWake(), waiter("high"))

		s.RunUntil(20, 1)

		Expect(trace).To(Equal([]string{"high", "low"}))
	})

	ginkgo.It("should tolerate releasing a guard twice", func() {
		h, _ := s.RegisterTask("worker", 1, EventDrivenWake(),
			func(ctx *Context) error {
				g, err := m.Acquire(ctx, DurationForever)
				if err != nil {
					return err
				}
				defer g.Release()
				g.Release()
				return nil
			})

		drain(s)

		Expect(h.Err()).To(BeNil())
	})

	ginkgo.It("should release a guard the owner still holds at termination", func() {
		var trace []string

		_, _ = s.RegisterTask("leaky", 2, EventDrivenWake(),
			func(ctx *Context) error {
				_, err := m.Acquire(ctx, DurationForever)
				if err != nil {
					return err
				}
				trace = append(trace, "leaky:held")
				return errors.New("crashed in the critical section")
			})
		h, _ := s.RegisterTask("next", 1, EventDrivenWake(),
			func(ctx *Context) error {
				g, err := m.Acquire(ctx, DurationForever)
				if err != nil {
					return err
				}
				trace = append(trace, "next:held")
				g.Release()
				return nil
			})

		drain(s)

		Expect(h.Err()).To(BeNil())
		Expect(trace).To(Equal([]string{"leaky:held", "next:held"}))
	})

	ginkgo.It("should free the mutex when a woken waiter is deleted before it runs", func() {
		var holderDone bool

		_, _ = s.RegisterTask("holder", 2, EventDrivenWake(),
			func(ctx *Context) error {
				g, err := m.Acquire(ctx, DurationForever)
				if err != nil {
					return err
				}
				ctx.Sleep(10)
				g.Release()
				holderDone = true
				return nil
			})
		hWaiter, _ := s.RegisterTask("doomed", 1, EventDrivenWake(),
			func(ctx *Context) error {
				g, err := m.Acquire(ctx, DurationForever)
				if err != nil {
					return err
				}
				g.Release()
				return nil
			})

		drain(s)
		s.Tick(10)

		// The holder releases and ownership passes to the waiter while it is
		// still Ready. Deleting it now must not strand the mutex.
		Expect(s.RunOnce()).To(BeTrue())
		Expect(holderDone).To(BeTrue())
		s.DeleteTask(hWaiter)
		drain(s)

		Expect(hWaiter.State()).To(Equal(TaskTerminated))

		var retryErr error
		_, _ = s.RegisterTask("retry", 1, EventDrivenWake(),
			func(ctx *Context) error {
				g, err := m.Acquire(ctx, 0)
				if err != nil {
					retryErr = err
					return err
				}
				g.Release()
				return nil
			})
		drain(s)

		Expect(retryErr).To(BeNil())
	})

	ginkgo.It("should treat a recursive acquire as a programmer error", func() {
		h, _ := s.RegisterTask("reentrant", 1, EventDrivenWake(),
			func(ctx *Context) error {
				g, err := m.Acquire(ctx, DurationForever)
				if err != nil {
					return err
				}
				defer g.Release()

				_, err = m.Acquire(ctx, 0)
				return err
			})

		drain(s)

		Expect(h.Err()).ToNot(BeNil())
		Expect(h.Err().Error()).To(ContainSubstring("already holds"))
	})
})
