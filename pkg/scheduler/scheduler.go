// Package scheduler runs the agent tasks as a cyclic executive: a fixed
// minor period, a declarative frame saying which task runs in which cycle,
// and per-task execution timing.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	metrics "github.com/hashicorp/go-metrics"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/heitortanoue/rescuebot/internal/clock"
)

// TaskID identifies one of the agent tasks.
type TaskID int

const (
	TaskMission TaskID = iota + 1
	TaskNavigate
	TaskControl
	TaskRefine
	TaskReport
	TaskCommunicate
	TaskAvoid
)

var taskNames = map[TaskID]string{
	TaskMission:     "mission",
	TaskNavigate:    "navigate",
	TaskControl:     "control",
	TaskRefine:      "refine",
	TaskReport:      "report",
	TaskCommunicate: "communicate",
	TaskAvoid:       "avoid",
}

func (t TaskID) String() string {
	if name, ok := taskNames[t]; ok {
		return name
	}
	return fmt.Sprintf("task(%d)", int(t))
}

// ParseTaskID maps a task name back to its id.
func ParseTaskID(name string) (TaskID, bool) {
	for id, n := range taskNames {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// TaskFunc is one task body. A non-nil error stops the scheduler.
type TaskFunc func() error

// Slot places a task in the frame: it runs in every cycle where
// cycle % Every == Phase.
type Slot struct {
	Task  TaskID `yaml:"task"`
	Every int    `yaml:"every"`
	Phase int    `yaml:"phase"`
}

// UnmarshalYAML accepts a task name or its number.
func (t *TaskID) UnmarshalYAML(value *yaml.Node) error {
	if id, ok := ParseTaskID(value.Value); ok {
		*t = id
		return nil
	}
	var n int
	if err := value.Decode(&n); err != nil {
		return errors.Errorf("line %d: unknown task %q", value.Line, value.Value)
	}
	*t = TaskID(n)
	return nil
}

// MarshalYAML writes the task name.
func (t TaskID) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

// DefaultFrame runs the tasks in pipeline order; refine and report run
// every other minor cycle.
func DefaultFrame() []Slot {
	frame := make([]Slot, 0, len(taskNames))
	for id := TaskMission; id <= TaskAvoid; id++ {
		every := 1
		if id == TaskRefine || id == TaskReport {
			every = 2
		}
		frame = append(frame, Slot{Task: id, Every: every})
	}
	return frame
}

// State is the scheduler lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// TaskStats accumulates execution times of one task.
type TaskStats struct {
	Runs  int64
	Total time.Duration
	Max   time.Duration
}

// Mean returns the average execution time, 0 before the first run.
func (s TaskStats) Mean() time.Duration {
	if s.Runs == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Runs)
}

// TaskTiming is one row of the timing report.
type TaskTiming struct {
	Task TaskID        `json:"-"`
	Name string        `json:"task"`
	Runs int64         `json:"runs"`
	Mean time.Duration `json:"mean"`
	Max  time.Duration `json:"max"`
}

// Report summarizes execution timing and schedulability.
type Report struct {
	Minor    time.Duration `json:"minor"`
	Cycles   int64         `json:"cycles"`
	Overruns int64         `json:"overruns"`
	Tasks    []TaskTiming  `json:"tasks"`
	SumMax   time.Duration `json:"sum_max"`
	Feasible bool          `json:"feasible"`
}

// Scheduler is a cyclic executive. RunCycle and WaitForPeriod must be
// called from one goroutine; GetStats and Report may be called from any.
type Scheduler struct {
	minor   time.Duration
	clk     clock.Clock
	metrics *metrics.Metrics

	frame []Slot
	tasks map[TaskID]TaskFunc

	state    State
	boundary time.Time
	cycle    int64
	overruns int64
	stats    map[TaskID]*TaskStats

	// AfterCycle runs after every completed cycle, before the wait.
	AfterCycle func(cycle int64)
	// OnOverrun runs whenever a cycle finishes past its period.
	OnOverrun func(cycle int64, late time.Duration)

	stopCh   chan struct{}
	stopOnce sync.Once
	mutex    sync.RWMutex
}

// New creates a scheduler for the given frame. Every slot must name a task
// present in tasks, with Every >= 1 and 0 <= Phase < Every. m may be nil.
func New(minor time.Duration, clk clock.Clock, m *metrics.Metrics, frame []Slot, tasks map[TaskID]TaskFunc) (*Scheduler, error) {
	if minor <= 0 {
		return nil, errors.Errorf("minor cycle must be positive, got %v", minor)
	}
	if len(frame) == 0 {
		return nil, errors.New("empty scheduler frame")
	}
	stats := make(map[TaskID]*TaskStats)
	for i, slot := range frame {
		if _, ok := tasks[slot.Task]; !ok {
			return nil, errors.Errorf("slot %d: no function registered for %s", i, slot.Task)
		}
		if slot.Every < 1 || slot.Phase < 0 || slot.Phase >= slot.Every {
			return nil, errors.Errorf("slot %d: invalid every=%d phase=%d for %s", i, slot.Every, slot.Phase, slot.Task)
		}
		stats[slot.Task] = &TaskStats{}
	}
	return &Scheduler{
		minor:   minor,
		clk:     clk,
		metrics: m,
		frame:   append([]Slot(nil), frame...),
		tasks:   tasks,
		stats:   stats,
		stopCh:  make(chan struct{}),
	}, nil
}

// NewInmemMetrics builds a metrics registry backed by an in-memory sink,
// the sink being what /metrics serves.
func NewInmemMetrics(service string) (*metrics.Metrics, *metrics.InmemSink, error) {
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)
	cfg := metrics.DefaultConfig(service)
	cfg.EnableHostname = false
	cfg.EnableRuntimeMetrics = false
	m, err := metrics.New(cfg, sink)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create metrics")
	}
	return m, sink, nil
}

// Minor returns the minor cycle period.
func (s *Scheduler) Minor() time.Duration { return s.minor }

// State returns the lifecycle state.
func (s *Scheduler) State() State {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state
}

// Start captures the reference time of the first cycle.
func (s *Scheduler) Start() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.state == StateRunning {
		return
	}
	s.state = StateRunning
	s.boundary = s.clk.Now()
	log.Printf("[SCHED] Starting: minor=%v slots=%d", s.minor, len(s.frame))
}

// RunCycle executes the tasks due in the current cycle, in frame order,
// and advances the cycle counter. The first task error aborts the cycle.
func (s *Scheduler) RunCycle() error {
	s.mutex.RLock()
	cycle := s.cycle
	s.mutex.RUnlock()

	for _, slot := range s.frame {
		if cycle%int64(slot.Every) != int64(slot.Phase) {
			continue
		}
		start := s.clk.Now()
		err := s.tasks[slot.Task]()
		s.record(slot.Task, s.clk.Since(start))
		if err != nil {
			return errors.Wrapf(err, "task %s", slot.Task)
		}
	}

	s.mutex.Lock()
	s.cycle++
	s.mutex.Unlock()
	return nil
}

func (s *Scheduler) record(task TaskID, d time.Duration) {
	s.mutex.Lock()
	st := s.stats[task]
	st.Runs++
	st.Total += d
	if d > st.Max {
		st.Max = d
	}
	s.mutex.Unlock()

	if s.metrics != nil {
		s.metrics.AddSample([]string{"task", task.String()}, float32(d)/float32(time.Millisecond))
	}
}

// WaitForPeriod sleeps until the end of the current minor period. A cycle
// that already ran past its period counts as an overrun, and the next
// period starts now instead of trying to catch up.
func (s *Scheduler) WaitForPeriod() {
	s.mutex.RLock()
	boundary := s.boundary
	cycle := s.cycle
	s.mutex.RUnlock()

	sleep := s.minor - s.clk.Since(boundary)
	if sleep > 0 {
		s.clk.Sleep(sleep)
		s.mutex.Lock()
		s.boundary = boundary.Add(s.minor)
		s.mutex.Unlock()
		return
	}

	late := -sleep
	s.mutex.Lock()
	s.overruns++
	s.boundary = s.clk.Now()
	s.mutex.Unlock()

	if s.metrics != nil {
		s.metrics.IncrCounter([]string{"scheduler", "overrun"}, 1)
	}
	log.Printf("[SCHED] Overrun in cycle %d: late by %v", cycle, late)
	if s.OnOverrun != nil {
		s.OnOverrun(cycle, late)
	}
}

// Run executes cycles until ctx is cancelled, Stop is called or a task
// fails. Cancellation and Stop return nil; a task failure is returned.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	defer s.markStopped()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopCh:
			return nil
		default:
		}

		if err := s.RunCycle(); err != nil {
			log.Printf("[SCHED] Stopping after task failure: %v", err)
			return err
		}

		s.mutex.RLock()
		cycle := s.cycle
		s.mutex.RUnlock()
		if s.AfterCycle != nil {
			s.AfterCycle(cycle)
		}
		if s.metrics != nil {
			s.metrics.SetGauge([]string{"scheduler", "cycle"}, float32(cycle))
		}

		s.WaitForPeriod()
	}
}

// Stop makes Run return after the current cycle.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		log.Printf("[SCHED] Stop requested")
	})
	s.markStopped()
}

func (s *Scheduler) markStopped() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.state = StateStopped
}

// Report returns per-task mean and max execution time in frame order and
// whether the sum of the maxima fits in one minor cycle.
func (s *Scheduler) Report() Report {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	r := Report{
		Minor:    s.minor,
		Cycles:   s.cycle,
		Overruns: s.overruns,
	}
	seen := make(map[TaskID]bool)
	for _, slot := range s.frame {
		if seen[slot.Task] {
			continue
		}
		seen[slot.Task] = true
		st := s.stats[slot.Task]
		r.Tasks = append(r.Tasks, TaskTiming{
			Task: slot.Task,
			Name: slot.Task.String(),
			Runs: st.Runs,
			Mean: st.Mean(),
			Max:  st.Max,
		})
		r.SumMax += st.Max
	}
	r.Feasible = r.SumMax <= s.minor
	return r
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() map[string]interface{} {
	report := s.Report()

	tasks := make(map[string]interface{}, len(report.Tasks))
	for _, t := range report.Tasks {
		tasks[t.Name] = map[string]interface{}{
			"runs":    t.Runs,
			"mean_us": t.Mean.Microseconds(),
			"max_us":  t.Max.Microseconds(),
		}
	}

	return map[string]interface{}{
		"state":      s.State().String(),
		"minor_ms":   s.minor.Milliseconds(),
		"cycles":     report.Cycles,
		"overruns":   report.Overruns,
		"sum_max_us": report.SumMax.Microseconds(),
		"feasible":   report.Feasible,
		"tasks":      tasks,
	}
}
