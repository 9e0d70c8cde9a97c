// Package agent holds the state shared by the seven robot tasks and the
// tasks themselves. Every method runs on the scheduler goroutine; other
// goroutines only see the values returned by Snapshot.
package agent

import (
	"io"
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/heitortanoue/rescuebot/internal/clock"
	"github.com/heitortanoue/rescuebot/logging"
	"github.com/heitortanoue/rescuebot/pkg/channel"
	"github.com/heitortanoue/rescuebot/pkg/environment"
	"github.com/heitortanoue/rescuebot/pkg/filter"
	"github.com/heitortanoue/rescuebot/pkg/hardware"
	"github.com/heitortanoue/rescuebot/pkg/pheromone"
	"github.com/heitortanoue/rescuebot/pkg/protocol"
	"github.com/heitortanoue/rescuebot/pkg/robot"
	"github.com/heitortanoue/rescuebot/pkg/scheduler"
)

// ErrActuatorFault is returned by the avoid task when the base keeps
// reporting a fault code. The base has been stopped when it is returned.
var ErrActuatorFault = errors.New("unrecoverable actuator fault")

// Transport moves encoded frames between robots.
type Transport interface {
	Broadcast(packet []byte) error
	// Receive returns the next pending packet without blocking.
	Receive() ([]byte, bool)
}

// PeerObserver records poses broadcast by other robots.
type PeerObserver interface {
	Update(id int, pose protocol.Pose, at time.Time)
}

// Config holds the thresholds and periods the tasks use.
type Config struct {
	ID             int
	Team           int
	Speed          int           // mm/s
	AccuracyLimit  int           // percent
	RequestPeriod  time.Duration // minimum time between odometry requests
	StreamSize     int           // bytes per stream chunk
	StreamRate     int           // chunks per second
	MaxVictims     int
	RequireGoAhead bool
	GoAheadTTL     time.Duration
	FaultCycles    int // consecutive fault polls before giving up
	StartEnabled   bool
}

// DefaultConfig returns the values the robots ship with.
func DefaultConfig() Config {
	return Config{
		ID:            1,
		Team:          1,
		Speed:         300,
		AccuracyLimit: 30,
		RequestPeriod: 300 * time.Millisecond,
		StreamSize:    20,
		StreamRate:    20,
		MaxVictims:    100,
		GoAheadTTL:    2000 * time.Millisecond,
		FaultCycles:   3,
		StartEnabled:  true,
	}
}

// Deps are the collaborators the agent is built from.
type Deps struct {
	Env       *environment.Environment
	Filter    *filter.ParticleFilter
	Map       *pheromone.Map
	Base      hardware.Base
	Tags      hardware.TagReader
	Transport Transport
	Peers     PeerObserver // optional
	Clock     clock.Clock
	Rand      *rand.Rand
	Logger    *logging.AgentLogger // optional
	Initial   robot.Pose
}

// Counters are monotonically increasing event counts.
type Counters struct {
	FramesSent      int64 `json:"frames_sent"`
	FramesReceived  int64 `json:"frames_received"`
	FramesDropped   int64 `json:"frames_dropped"`
	EncodeErrors    int64 `json:"encode_errors"`
	SendErrors      int64 `json:"send_errors"`
	PeerPoses       int64 `json:"peer_poses"`
	StreamReceived  int64 `json:"stream_received"`
	StreamChunks    int64 `json:"stream_chunks"`
	SectorsMerged   int64 `json:"sectors_merged"`
	SectorsRejected int64 `json:"sectors_rejected"`
	Deposits        int64 `json:"deposits"`
	LandmarkFixes   int64 `json:"landmark_fixes"`
	DisabledTags    int64 `json:"disabled_tags"`
	VictimsReported int64 `json:"victims_reported"`
	VictimOverflow  int64 `json:"victim_overflow"`
	Maneuvers       int64 `json:"maneuvers"`
	RateLimited     int64 `json:"rate_limited"`
	HardwareErrors  int64 `json:"hardware_errors"`
}

// DriveCommand is the last velocity/radius pair sent to the base.
type DriveCommand struct {
	Velocity int `json:"velocity"`
	Radius   int `json:"radius"`
}

// Agent is the complete task state of one robot.
type Agent struct {
	cfg Config

	env       *environment.Environment
	filter    *filter.ParticleFilter
	pher      *pheromone.Map
	base      hardware.Base
	tags      hardware.TagReader
	transport Transport
	peers     PeerObserver
	clk       clock.Clock
	rng       *rand.Rand
	logger    *logging.AgentLogger

	enabled [scheduler.TaskAvoid + 1]bool

	missionQueue  *channel.Queue[protocol.Payload]
	navigateQueue *channel.Queue[protocol.Payload]
	sendList      *channel.Queue[protocol.Payload]
	navControl    *channel.Pipe[pheromone.Direction]
	refineReport  *channel.Pipe[string]
	reportMission *channel.Pipe[protocol.Victim]

	estimate robot.Pose
	accuracy int
	victims  []protocol.Victim

	goAhead   bool
	goAheadAt time.Time

	lastRequest time.Time
	maneuvered  bool
	lastDrive   DriveCommand

	streamLast    time.Time
	streamCarry   time.Duration
	streamCounter int64

	seqID       int
	tdmaSlot    int
	faultStreak int
	peersSeen   map[int]bool

	counters Counters
}

// New builds an agent. Peers and Logger may be nil.
func New(cfg Config, deps Deps) (*Agent, error) {
	switch {
	case deps.Env == nil:
		return nil, errors.New("agent: environment is required")
	case deps.Filter == nil:
		return nil, errors.New("agent: particle filter is required")
	case deps.Map == nil:
		return nil, errors.New("agent: pheromone map is required")
	case deps.Base == nil:
		return nil, errors.New("agent: base is required")
	case deps.Tags == nil:
		return nil, errors.New("agent: tag reader is required")
	case deps.Transport == nil:
		return nil, errors.New("agent: transport is required")
	case deps.Clock == nil:
		return nil, errors.New("agent: clock is required")
	case deps.Rand == nil:
		return nil, errors.New("agent: random source is required")
	}
	if cfg.Speed < 0 || cfg.StreamSize < 0 || cfg.StreamRate < 0 || cfg.MaxVictims < 0 {
		return nil, errors.Errorf("agent: negative speed, stream or victim limit in %+v", cfg)
	}
	if cfg.FaultCycles < 1 {
		cfg.FaultCycles = 1
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.NewAgentLoggerTo(io.Discard, cfg.ID, "", false).WithClock(deps.Clock)
	}

	now := deps.Clock.Now()
	a := &Agent{
		cfg:           cfg,
		env:           deps.Env,
		filter:        deps.Filter,
		pher:          deps.Map,
		base:          deps.Base,
		tags:          deps.Tags,
		transport:     deps.Transport,
		peers:         deps.Peers,
		clk:           deps.Clock,
		rng:           deps.Rand,
		logger:        logger,
		missionQueue:  channel.NewQueue[protocol.Payload](16),
		navigateQueue: channel.NewQueue[protocol.Payload](16),
		sendList:      channel.NewQueue[protocol.Payload](64),
		navControl:    channel.NewPipe[pheromone.Direction](),
		refineReport:  channel.NewPipe[string](),
		reportMission: channel.NewPipe[protocol.Victim](),
		estimate:      deps.Initial,
		goAhead:       !cfg.RequireGoAhead,
		goAheadAt:     now,
		lastRequest:   now,
		streamLast:    now,
		tdmaSlot:      cfg.ID - 1,
		peersSeen:     make(map[int]bool),
	}

	if cfg.StartEnabled {
		a.enableAll()
	} else {
		a.enableIdle()
	}
	return a, nil
}

// Tasks returns the task bodies keyed by id, ready for the scheduler.
func (a *Agent) Tasks() map[scheduler.TaskID]scheduler.TaskFunc {
	return map[scheduler.TaskID]scheduler.TaskFunc{
		scheduler.TaskMission:     a.Mission,
		scheduler.TaskNavigate:    a.Navigate,
		scheduler.TaskControl:     a.Control,
		scheduler.TaskRefine:      a.Refine,
		scheduler.TaskReport:      a.Report,
		scheduler.TaskCommunicate: a.Communicate,
		scheduler.TaskAvoid:       a.Avoid,
	}
}

// Enabled reports whether a task runs when invoked.
func (a *Agent) Enabled(id scheduler.TaskID) bool {
	if id < scheduler.TaskMission || id > scheduler.TaskAvoid {
		return false
	}
	return a.enabled[id]
}

// SetEnabled switches one task on or off.
func (a *Agent) SetEnabled(id scheduler.TaskID, on bool) {
	if id < scheduler.TaskMission || id > scheduler.TaskAvoid {
		return
	}
	a.enabled[id] = on
}

func (a *Agent) enableAll() {
	for id := scheduler.TaskMission; id <= scheduler.TaskAvoid; id++ {
		a.enabled[id] = true
	}
}

// enableIdle leaves only mission and communicate running, so the robot
// still listens for a start command.
func (a *Agent) enableIdle() {
	for id := scheduler.TaskMission; id <= scheduler.TaskAvoid; id++ {
		a.enabled[id] = id == scheduler.TaskMission || id == scheduler.TaskCommunicate
	}
}

// drive sends a command to the base and remembers it.
func (a *Agent) drive(velocity, radius int) error {
	if err := a.base.Drive(velocity, radius); err != nil {
		a.counters.HardwareErrors++
		return err
	}
	a.lastDrive = DriveCommand{Velocity: velocity, Radius: radius}
	return nil
}

// Estimate returns the current pose estimate.
func (a *Agent) Estimate() robot.Pose { return a.estimate }

// Victims returns a copy of the mission victim list.
func (a *Agent) Victims() []protocol.Victim {
	return append([]protocol.Victim(nil), a.victims...)
}

// GoAhead reports whether the go-ahead gate is open.
func (a *Agent) GoAhead() bool { return a.goAhead }

// TDMASlot is the broadcast slot derived from the robot id. Nothing gates
// transmission on it.
func (a *Agent) TDMASlot() int { return a.tdmaSlot }

// Counters returns the event counters.
func (a *Agent) Counters() Counters { return a.counters }

// Snapshot is an immutable copy of the agent state for other goroutines.
type Snapshot struct {
	RobotID   int               `json:"robot_id"`
	Team      int               `json:"team"`
	TDMASlot  int               `json:"tdma_slot"`
	Pose      protocol.Pose     `json:"pose"`
	Accuracy  int               `json:"accuracy"`
	GoAhead   bool              `json:"go_ahead"`
	Enabled   map[string]bool   `json:"enabled"`
	Victims   []protocol.Victim `json:"victims"`
	Drive     DriveCommand      `json:"drive"`
	Pending   int               `json:"send_pending"`
	Overwrite int               `json:"pipe_overwrites"`
	Counters  Counters          `json:"counters"`
	TakenAt   time.Time         `json:"taken_at"`
}

// Snapshot copies the state worth publishing.
func (a *Agent) Snapshot() Snapshot {
	enabled := make(map[string]bool, len(a.enabled))
	for id := scheduler.TaskMission; id <= scheduler.TaskAvoid; id++ {
		enabled[id.String()] = a.enabled[id]
	}
	return Snapshot{
		RobotID:   a.cfg.ID,
		Team:      a.cfg.Team,
		TDMASlot:  a.tdmaSlot,
		Pose:      poseOf(a.estimate),
		Accuracy:  a.accuracy,
		GoAhead:   a.goAhead,
		Enabled:   enabled,
		Victims:   a.Victims(),
		Drive:     a.lastDrive,
		Pending:   a.sendList.Len(),
		Overwrite: a.navControl.Dropped() + a.refineReport.Dropped() + a.reportMission.Dropped(),
		Counters:  a.counters,
		TakenAt:   a.clk.Now(),
	}
}

// GetStats returns agent statistics
func (a *Agent) GetStats() map[string]interface{} {
	s := a.Snapshot()
	return map[string]interface{}{
		"robot_id":        s.RobotID,
		"team":            s.Team,
		"tdma_slot":       s.TDMASlot,
		"accuracy":        s.Accuracy,
		"go_ahead":        s.GoAhead,
		"victims":         len(s.Victims),
		"send_pending":    s.Pending,
		"pipe_overwrites": s.Overwrite,
		"enabled":         s.Enabled,
		"counters":        s.Counters,
	}
}

func poseOf(p robot.Pose) protocol.Pose {
	return protocol.Pose{X: p.X, Y: p.Y, Heading: p.A}
}
