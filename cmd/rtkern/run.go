package main

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rtkern/rtkern/fsm"
	"github.com/rtkern/rtkern/kern"
	"github.com/rtkern/rtkern/system"
)

// Task priorities of the demo, highest first.
const (
	priorityFaultHandler = 4
	priorityController   = 3
	priorityButton       = 2
	prioritySensor       = 1
	priorityWatchdog     = 5
)

var (
	flagDurationS    int
	flagMonitorPort  int
	flagNoMonitor    bool
	flagNoRecord     bool
	flagOutput       string
	flagSeed         int64
	flagEmergencyAtS int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the traffic light demo kernel",
	RunE:  runTrafficLight,
}

func init() {
	runCmd.Flags().IntVar(&flagDurationS, "duration", 120,
		"simulated seconds to run")
	runCmd.Flags().IntVar(&flagMonitorPort, "monitor-port", 0,
		"port of the web monitor (0 picks a free port)")
	runCmd.Flags().BoolVar(&flagNoMonitor, "no-monitor", false,
		"disable the web monitor")
	runCmd.Flags().BoolVar(&flagNoRecord, "no-record", false,
		"disable SQLite diagnostics recording")
	runCmd.Flags().StringVar(&flagOutput, "output", "",
		"output file name for the recorder")
	runCmd.Flags().Int64Var(&flagSeed, "seed", 1,
		"seed of the simulated car sensor")
	runCmd.Flags().IntVar(&flagEmergencyAtS, "emergency-at", 0,
		"simulated second at which an emergency vehicle arrives (0 for never)")

	rootCmd.AddCommand(runCmd)
}

func runTrafficLight(_ *cobra.Command, _ []string) error {
	applyEnvOverrides()

	b := system.MakeBuilder()
	if flagNoMonitor {
		b = b.WithoutMonitoring()
	} else if flagMonitorPort > 0 {
		b = b.WithMonitorPort(flagMonitorPort)
	}
	if flagNoRecord {
		b = b.WithoutRecording()
	} else if flagOutput != "" {
		b = b.WithOutputFileName(flagOutput)
	}

	sys := b.Build()
	defer sys.Terminate()

	s := sys.Scheduler()

	// The console is the one resource shared by every task, so it sits
	// behind a mutex with a bounded wait, like a UART would.
	console := kern.NewMutex(s, "console")
	sink := &consoleSink{}

	light := fsm.NewTrafficLight(s, sink)
	sys.RegisterMachine(light)

	if err := registerTasks(sys, light, console, sink); err != nil {
		return err
	}

	end := kern.VTimeInMs(flagDurationS) * 1000

	if flagEmergencyAtS > 0 && kern.VTimeInMs(flagEmergencyAtS)*1000 < end {
		s.RunUntil(kern.VTimeInMs(flagEmergencyAtS)*1000, 1)

		// An emergency vehicle arrives. Like an ISR, the source may only
		// use wait-free operations: a non-blocking send, never an acquire.
		ev := kern.MakeEvent(fsm.EventKindEmergency, nil, s.CurrentTime())
		if err := light.PostEvent(ev); err != nil {
			sink.Emit("emergency dropped, inbox full")
		}
	}

	s.RunUntil(end, 1)

	fmt.Printf("final state: %s after %.1f s\n",
		light.Current(), float64(s.CurrentTime())/1000)

	return nil
}

func registerTasks(
	sys *system.System,
	light *fsm.Machine,
	console *kern.Mutex,
	sink *consoleSink,
) error {
	s := sys.Scheduler()
	dog := sys.Watchdog()
	rng := rand.New(rand.NewSource(flagSeed))

	controllerBeat := dog.Watch("controller", 30000)

	// The controller drives the machine and reports liveness around every
	// event it applies.
	_, err := s.RegisterTask("controller", priorityController,
		kern.EventDrivenWake(), func(ctx *kern.Context) error {
			for {
				controllerBeat.Beat(ctx.Now())
				light.Pump(ctx)
			}
		})
	if err != nil {
		return err
	}

	// A pedestrian presses the button every 27 s.
	_, err = s.RegisterTask("button", priorityButton,
		kern.PeriodicWake(27000), func(ctx *kern.Context) error {
			for {
				ev := kern.MakeEvent(fsm.EventKindButtonPressed, nil, ctx.Now())
				if err := light.PostEvent(ev); err != nil {
					sink.Emit("button press dropped, inbox full")
				}
				ctx.WaitNextPeriod()
			}
		})
	if err != nil {
		return err
	}

	sensorBeat := dog.Watch("sensor", 20000)

	// The car sensor samples every 8 s and reports traffic with a guarded
	// console line.
	_, err = s.RegisterTask("sensor", prioritySensor,
		kern.PeriodicWake(8000), func(ctx *kern.Context) error {
			for {
				sensorBeat.Beat(ctx.Now())

				if rng.Intn(100) < 40 {
					ev := kern.MakeEvent(
						fsm.EventKindSensorTriggered, nil, ctx.Now())
					if err := light.PostEvent(ev); err == nil {
						logGuarded(ctx, console, sink, "car detected")
					}
				}

				ctx.WaitNextPeriod()
			}
		})
	if err != nil {
		return err
	}

	// The fault handler forwards watchdog faults into the machine, which
	// routes them to FaultFlash.
	_, err = s.RegisterTask("faulthandler", priorityFaultHandler,
		kern.EventDrivenWake(), func(ctx *kern.Context) error {
			for {
				ev, err := sys.FaultQueue().Receive(ctx, kern.DurationForever)
				if err != nil {
					continue
				}

				logGuarded(ctx, console, sink, "system fault: "+string(ev.Kind))

				if err := light.PostEvent(ev); err != nil {
					sink.Emit("fault not delivered, inbox full")
				}
			}
		})
	if err != nil {
		return err
	}

	_, err = s.RegisterTask("watchdog", priorityWatchdog,
		kern.PeriodicWake(5000), dog.Body())

	return err
}

// logGuarded prints through the shared console under its mutex. A held
// console is skipped after 100 ms rather than stalling the caller.
func logGuarded(
	ctx *kern.Context,
	console *kern.Mutex,
	sink *consoleSink,
	line string,
) {
	g, err := console.Acquire(ctx, 100)
	if err != nil {
		return
	}
	defer g.Release()

	sink.Emit(fmt.Sprintf("[%8.1f] %s", float64(ctx.Now())/1000, line))
}

// consoleSink applies effects by printing them.
type consoleSink struct{}

func (consoleSink) Emit(effect string) {
	fmt.Println(effect)
}

func applyEnvOverrides() {
	if v := os.Getenv("RTKERN_MONITOR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			flagMonitorPort = port
		}
	}

	if v := os.Getenv("RTKERN_OUTPUT"); v != "" {
		flagOutput = v
	}

	if v := os.Getenv("RTKERN_DURATION_S"); v != "" {
		if d, err := strconv.Atoi(v); err == nil {
			flagDurationS = d
		}
	}
}
