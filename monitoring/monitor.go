// Package monitoring turns a running kernel into a small web server so its
// task set, queues, machines, and health can be inspected from outside.
package monitoring

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"

	"github.com/rtkern/rtkern/fsm"
	"github.com/rtkern/rtkern/kern"
	"github.com/rtkern/rtkern/watchdog"
)

// A QueueView is anything whose occupancy the monitor can report. Both
// kern.Queue instantiations and other bounded buffers satisfy it.
type QueueView interface {
	Name() string
	Capacity() int
	Size() int
}

// Monitor exposes kernel state over HTTP.
type Monitor struct {
	scheduler  *kern.Scheduler
	machines   []*fsm.Machine
	queues     []QueueView
	dog        *watchdog.Watchdog
	portNumber int
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n",
			portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterScheduler registers the scheduler to be monitored.
func (m *Monitor) RegisterScheduler(s *kern.Scheduler) {
	m.scheduler = s
}

// RegisterMachine registers a state machine to be monitored.
func (m *Monitor) RegisterMachine(machine *fsm.Machine) {
	m.machines = append(m.machines, machine)
	m.queues = append(m.queues, machine.Inbox())
}

// RegisterQueue registers a queue to be monitored.
func (m *Monitor) RegisterQueue(q QueueView) {
	m.queues = append(m.queues, q)
}

// RegisterWatchdog registers the watchdog to be monitored.
func (m *Monitor) RegisterWatchdog(w *watchdog.Watchdog) {
	m.dog = w
}

// StartServer starts the monitor as a web server.
func (m *Monitor) StartServer() {
	r := mux.NewRouter()

	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/tasks", m.listTasks)
	r.HandleFunc("/api/queues", m.listQueues)
	r.HandleFunc("/api/fsm", m.listMachines)
	r.HandleFunc("/api/health", m.health)
	r.HandleFunc("/api/resource", m.listResources)
	http.Handle("/", r)

	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	fmt.Fprintf(
		os.Stderr,
		"Monitoring kernel with http://localhost:%d\n",
		listener.Addr().(*net.TCPAddr).Port)

	go func() {
		err = http.Serve(listener, nil)
		dieOnErr(err)
	}()
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintf(w, "{\"now\":%.6f}", m.scheduler.CurrentTime())
}

type taskStatus struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Priority       int    `json:"priority"`
	State          string `json:"state"`
	StackHighWater int    `json:"stack_high_water"`
}

func (m *Monitor) listTasks(w http.ResponseWriter, _ *http.Request) {
	tasks := m.scheduler.Tasks()

	statuses := make([]taskStatus, 0, len(tasks))
	for _, t := range tasks {
		statuses = append(statuses, taskStatus{
			ID:             t.ID(),
			Name:           t.Name(),
			Priority:       t.Priority(),
			State:          t.State().String(),
			StackHighWater: t.StackHighWater(),
		})
	}

	writeJSON(w, statuses)
}

type queueStatus struct {
	Name     string `json:"name"`
	Size     int    `json:"size"`
	Capacity int    `json:"capacity"`
}

func (m *Monitor) listQueues(w http.ResponseWriter, _ *http.Request) {
	statuses := make([]queueStatus, 0, len(m.queues))
	for _, q := range m.queues {
		statuses = append(statuses, queueStatus{
			Name:     q.Name(),
			Size:     q.Size(),
			Capacity: q.Capacity(),
		})
	}

	writeJSON(w, statuses)
}

type machineStatus struct {
	Name    string `json:"name"`
	Current string `json:"current"`
}

func (m *Monitor) listMachines(w http.ResponseWriter, _ *http.Request) {
	statuses := make([]machineStatus, 0, len(m.machines))
	for _, machine := range m.machines {
		statuses = append(statuses, machineStatus{
			Name:    machine.Name(),
			Current: string(machine.Current()),
		})
	}

	writeJSON(w, statuses)
}

type heartbeatStatus struct {
	Task     string  `json:"task"`
	LastSeen float64 `json:"last_seen"`
}

type healthStatus struct {
	Faulted    bool              `json:"faulted"`
	Heartbeats []heartbeatStatus `json:"heartbeats"`
}

func (m *Monitor) health(w http.ResponseWriter, _ *http.Request) {
	status := healthStatus{}

	if m.dog != nil {
		status.Faulted = m.dog.Faulted()
		for _, h := range m.dog.Monitored() {
			status.Heartbeats = append(status.Heartbeats, heartbeatStatus{
				Task:     h.Name(),
				LastSeen: float64(h.LastSeen()),
			})
		}
	}

	writeJSON(w, status)
}

type resourceStatus struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	p, err := process.NewProcess(int32(os.Getpid()))
	dieOnErr(err)

	cpu, err := p.CPUPercent()
	dieOnErr(err)

	mem, err := p.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceStatus{
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / (1 << 20),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	err := json.NewEncoder(w).Encode(v)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		panic(err)
	}
}
