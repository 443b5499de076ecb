package kern

import "log"

// A Context is the running task's view of the kernel. It is passed to the
// task body and must never escape to another task or goroutine.
type Context struct {
	s *Scheduler
	t *task
}

// Now returns the current kernel time.
func (c *Context) Now() VTimeInMs {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	return c.s.clock.Now()
}

// Name returns the name of the running task.
func (c *Context) Name() string {
	return c.t.name
}

// ID returns the identity of the running task.
func (c *Context) ID() string {
	return c.t.id
}

// Yield hands control back to the scheduler and re-enters the Ready set.
// The task resumes once it is the highest-priority Ready task again.
func (c *Context) Yield() {
	c.s.mu.Lock()
	c.s.yield(c.t)
	c.s.mu.Unlock()
}

// Sleep blocks the task for the given duration. Sleeping forever is a
// programmer error.
func (c *Context) Sleep(d DurationMs) {
	if d.IsForever() {
		log.Panic("cannot sleep forever")
	}

	c.s.mu.Lock()
	if d == 0 {
		c.s.maybePreempt(c.t)
		c.s.mu.Unlock()
		return
	}

	deadline := c.s.clock.Now() + VTimeInMs(d)
	c.s.sleepUntil(c.t, deadline)
	c.s.mu.Unlock()
}

// WaitNextPeriod blocks a periodic task until its next drift-free release
// time. Release times advance by exactly one interval per call, regardless
// of how late the task ran. If the release time has already passed, the task
// continues immediately.
func (c *Context) WaitNextPeriod() {
	if !c.t.policy.IsPeriodic() {
		log.Panic("WaitNextPeriod called on a non-periodic task")
	}

	c.s.mu.Lock()
	c.t.nextRelease += VTimeInMs(c.t.policy.Interval())

	if c.t.nextRelease <= c.s.clock.Now() {
		c.s.maybePreempt(c.t)
		c.s.mu.Unlock()
		return
	}

	c.s.sleepUntil(c.t, c.t.nextRelease)
	c.s.mu.Unlock()
}

// Suspend parks the task until Scheduler.Resume is called on its handle.
func (c *Context) Suspend() {
	c.s.mu.Lock()
	c.s.suspendSelf(c.t)
	c.s.mu.Unlock()
}

// ChargeStack records the use of n units of the task's abstract stack
// budget and updates the high-water mark. Exceeding a non-zero budget is a
// fatal condition for this task only.
func (c *Context) ChargeStack(n int) {
	c.s.mu.Lock()

	c.t.stackUsage += n
	if c.t.stackUsage > c.t.stackHighWater {
		c.t.stackHighWater = c.t.stackUsage
	}

	if c.t.stackBudget > 0 && c.t.stackUsage > c.t.stackBudget {
		c.s.mu.Unlock()
		panic(ErrStackBudgetExceeded)
	}

	c.s.mu.Unlock()
}

// ReleaseStack returns n units of the task's abstract stack budget.
func (c *Context) ReleaseStack(n int) {
	c.s.mu.Lock()
	c.t.stackUsage -= n
	if c.t.stackUsage < 0 {
		c.t.stackUsage = 0
	}
	c.s.mu.Unlock()
}

// StackHighWater returns the task's peak tracked stack usage.
func (c *Context) StackHighWater() int {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	return c.t.stackHighWater
}
