// Package system wires a kernel together: scheduler, fault queue, watchdog,
// data recorder, and monitor, behind one builder.
package system

import (
	"github.com/rtkern/rtkern/datarecording"
	"github.com/rtkern/rtkern/fsm"
	"github.com/rtkern/rtkern/kern"
	"github.com/rtkern/rtkern/kern/id"
	"github.com/rtkern/rtkern/monitoring"
	"github.com/rtkern/rtkern/watchdog"
)

// FaultQueueCapacity is the capacity of the well-known SystemFault queue.
const FaultQueueCapacity = 8

// A System holds the services a kernel run needs.
type System struct {
	id string

	scheduler *kern.Scheduler
	faults    *kern.Queue[kern.Event]
	dog       *watchdog.Watchdog

	dataRecorder datarecording.DataRecorder
	trace        *datarecording.KernelTrace
	monitor      *monitoring.Monitor
}

// ID returns the unique identity of this run.
func (s *System) ID() string {
	return s.id
}

// Scheduler returns the kernel scheduler.
func (s *System) Scheduler() *kern.Scheduler {
	return s.scheduler
}

// FaultQueue returns the well-known queue that carries SystemFault events.
func (s *System) FaultQueue() *kern.Queue[kern.Event] {
	return s.faults
}

// Watchdog returns the liveness monitor.
func (s *System) Watchdog() *watchdog.Watchdog {
	return s.dog
}

// DataRecorder returns the recorder used in this run.
func (s *System) DataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// Monitor returns the web monitor, or nil when monitoring is off.
func (s *System) Monitor() *monitoring.Monitor {
	return s.monitor
}

// RegisterMachine attaches a state machine to the run's recorder and
// monitor.
func (s *System) RegisterMachine(m *fsm.Machine) {
	if s.trace != nil {
		m.AcceptHook(s.trace)
		m.Inbox().AcceptHook(s.trace)
	}

	if s.monitor != nil {
		s.monitor.RegisterMachine(m)
	}
}

// Terminate flushes and releases the run's services.
func (s *System) Terminate() {
	if s.dataRecorder != nil {
		s.dataRecorder.Close()
	}
}

// Builder can be used to build a System.
type Builder struct {
	maxTasks       int
	faultThreshold int
	monitorOn      bool
	monitorPort    int
	recordingOn    bool
	outputFileName string
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		maxTasks:       kern.DefaultMaxTasks,
		faultThreshold: 2,
		monitorOn:      true,
		recordingOn:    true,
	}
}

// WithMaxTasks sets the task-table capacity.
func (b Builder) WithMaxTasks(n int) Builder {
	b.maxTasks = n
	return b
}

// WithFaultThreshold sets the consecutive missed checks at which the
// watchdog declares a fault.
func (b Builder) WithFaultThreshold(n int) Builder {
	b.faultThreshold = n
	return b
}

// WithoutMonitoring sets the system to not serve the web monitor.
func (b Builder) WithoutMonitoring() Builder {
	b.monitorOn = false
	return b
}

// WithMonitorPort sets the port number for the monitoring server.
func (b Builder) WithMonitorPort(port int) Builder {
	b.monitorPort = port
	return b
}

// WithoutRecording sets the system to not record diagnostics.
func (b Builder) WithoutRecording() Builder {
	b.recordingOn = false
	return b
}

// WithOutputFileName sets the custom output file name for the data recorder.
func (b Builder) WithOutputFileName(filename string) Builder {
	b.outputFileName = filename
	return b
}

func (b Builder) parametersMustBeValid() {
	if !b.monitorOn && b.monitorPort != 0 {
		panic("monitor port cannot be set when monitoring is disabled")
	}

	if !b.recordingOn && b.outputFileName != "" {
		panic("output file cannot be set when recording is disabled")
	}
}

// Build builds the system.
func (b Builder) Build() *System {
	b.parametersMustBeValid()

	s := &System{
		id: id.NewGlobalIDGenerator().Generate(),
	}

	s.scheduler = kern.NewSchedulerWithCapacity(b.maxTasks)
	s.faults = kern.NewQueue[kern.Event](
		s.scheduler, "system.faults", FaultQueueCapacity)
	s.dog = watchdog.New(s.scheduler, s.faults, b.faultThreshold)

	if b.recordingOn {
		outputPath := b.outputFileName
		if outputPath == "" {
			outputPath = "rtkern_run_" + s.id
		}

		s.dataRecorder = datarecording.New(outputPath)
		s.trace = datarecording.NewKernelTrace(s.dataRecorder)
		s.scheduler.AcceptHook(s.trace)
		s.dog.AcceptHook(s.trace)
		s.faults.AcceptHook(s.trace)
	}

	if b.monitorOn {
		s.monitor = monitoring.NewMonitor()
		if b.monitorPort > 0 {
			s.monitor.WithPortNumber(b.monitorPort)
		}
		s.monitor.RegisterScheduler(s.scheduler)
		s.monitor.RegisterQueue(s.faults)
		s.monitor.RegisterWatchdog(s.dog)
		s.monitor.StartServer()
	}

	return s
}
