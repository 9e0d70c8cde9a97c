package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/heitortanoue/rescuebot/internal/clock"
	"github.com/heitortanoue/rescuebot/internal/config"
	"github.com/heitortanoue/rescuebot/logging"
	"github.com/heitortanoue/rescuebot/pkg/agent"
	"github.com/heitortanoue/rescuebot/pkg/environment"
	"github.com/heitortanoue/rescuebot/pkg/filter"
	"github.com/heitortanoue/rescuebot/pkg/hardware"
	"github.com/heitortanoue/rescuebot/pkg/network"
	"github.com/heitortanoue/rescuebot/pkg/pheromone"
	"github.com/heitortanoue/rescuebot/pkg/report"
	"github.com/heitortanoue/rescuebot/pkg/robot"
	"github.com/heitortanoue/rescuebot/pkg/scheduler"
	"github.com/heitortanoue/rescuebot/pkg/status"
	"github.com/heitortanoue/rescuebot/swim"
)

func main() {
	// Command line flags
	var (
		configPath = pflag.StringP("config", "c", "", "YAML configuration file")
		robotID    = pflag.Int("id", 0, "Robot id (1..98), overrides robot.id")
		team       = pflag.Int("team", 0, "Team id, overrides robot.team")
		simulate   = pflag.Bool("simulate", false, "Use the in-memory simulator instead of serial hardware")
		statusPort = pflag.Int("status-port", 0, "Status server port, overrides status.port")
		seeds      = pflag.StringSlice("seeds", nil, "SWIM seed addresses; enables the swarm roster")
		reportPath = pflag.String("report", "", "Write the mission report to this file on exit")
		noColor    = pflag.Bool("no-color", false, "Disable colored log tags")
		showUsage  = pflag.BoolP("help", "h", false, "Show usage help")
	)
	pflag.Parse()

	if *showUsage {
		printUsage()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[MAIN] %v", err)
	}

	flags := pflag.CommandLine
	if flags.Changed("id") {
		cfg.Robot.ID = *robotID
	}
	if flags.Changed("team") {
		cfg.Robot.Team = *team
	}
	if flags.Changed("simulate") {
		cfg.Serial.Simulate = *simulate
	}
	if flags.Changed("status-port") {
		cfg.Status.Port = *statusPort
		cfg.Status.Enabled = *statusPort > 0
	}
	if flags.Changed("seeds") {
		cfg.Swim.Enabled = true
		cfg.Swim.Seeds = *seeds
	}
	if flags.Changed("report") {
		cfg.Report.Path = *reportPath
	}
	if *noColor {
		cfg.Log.Color = false
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("[MAIN] Invalid configuration: %v", err)
	}

	os.Exit(run(cfg))
}

// robotSystem is everything one run owns and must release on exit.
type robotSystem struct {
	cfg     *config.Config
	runID   string
	clk     clock.Clock
	logger  *logging.AgentLogger
	base    hardware.Base
	tags    hardware.TagReader
	udp     *network.UDPServer
	peers   *network.PeerTable
	roster  *swim.Roster
	agent   *agent.Agent
	sched   *scheduler.Scheduler
	board   *status.Board
	status  *status.Server
	started time.Time
}

func run(cfg *config.Config) int {
	sys, err := build(cfg)
	if err != nil {
		log.Printf("[MAIN] Startup failed: %v", err)
		if sys != nil {
			if cerr := sys.close(); cerr != nil {
				log.Printf("[MAIN] Cleanup: %v", cerr)
			}
		}
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sys.logger.LogStartup(cfg.Robot.Team, cfg.Scheduler.Minor, sys.agent.TDMASlot())
	runErr := sys.sched.Run(ctx)

	reason := "signal"
	code := 0
	switch {
	case errors.Is(runErr, agent.ErrActuatorFault):
		reason = "actuator_fault"
		code = 1
	case runErr != nil:
		reason = "task_failure"
		code = 1
		sys.logger.LogError("scheduler", runErr)
	}

	sys.logTiming()
	if err := sys.writeReport(reason); err != nil {
		sys.logger.LogError("report", err)
	}
	if err := sys.close(); err != nil {
		log.Printf("[MAIN] Teardown: %v", err)
		code = 1
	}
	log.Printf("[MAIN] Robot %d stopped (%s)", cfg.Robot.ID, reason)
	return code
}

// build wires the components in dependency order. On error the returned
// system holds whatever was opened so far.
func build(cfg *config.Config) (*robotSystem, error) {
	sys := &robotSystem{
		cfg:   cfg,
		runID: uuid.NewString(),
		clk:   clock.Real(),
	}
	sys.logger = logging.NewAgentLogger(cfg.Robot.ID, sys.runID, cfg.Log.Color).WithClock(sys.clk)
	sys.started = sys.clk.Now()

	seed := cfg.PF.Seed
	if seed == 0 {
		seed = sys.started.UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	env, err := environment.Load(cfg.Environment.RoomPath, cfg.Environment.TagsPath)
	if err != nil {
		return sys, errors.Wrap(err, "load environment")
	}
	log.Printf("[MAIN] Room %dx%d mm, %d tags", env.Width(), env.Height(), len(env.Tags()))

	pf, err := filter.New(cfg.PF.Particles, env, cfg.PF.Noise, cfg.Robot.Radius, rng)
	if err != nil {
		return sys, errors.Wrap(err, "create particle filter")
	}

	pher, err := pheromone.New(env, cfg.Pheromone, sys.clk, rng)
	if err != nil {
		return sys, errors.Wrap(err, "create pheromone map")
	}

	angle := float64(cfg.Robot.InitAngle) * math.Pi / 180
	if err := sys.openHardware(env, angle); err != nil {
		return sys, err
	}

	sys.udp, err = network.NewUDPServer(cfg.Robot.ID, cfg.UDP.Port, cfg.UDP.BroadcastIP, cfg.UDP.PacketSize)
	if err != nil {
		return sys, errors.Wrap(err, "create UDP server")
	}
	if err := sys.udp.Start(); err != nil {
		return sys, err
	}

	sys.peers, err = network.NewPeerTable(cfg.Swim.MaxPeers, cfg.Swim.PeerTimeout)
	if err != nil {
		return sys, err
	}

	if cfg.Swim.Enabled {
		sys.roster, err = swim.NewRoster(swim.RosterConfig{
			RobotID:  cfg.Robot.ID,
			BindAddr: cfg.Swim.BindAddr,
			BindPort: cfg.Swim.BindPort,
			UDPPort:  cfg.UDP.Port,
			Seeds:    cfg.Swim.Seeds,
		})
		if err != nil {
			return sys, err
		}
		sys.udp.SetTargets(sys.roster)
	}

	initial := robot.New(cfg.Robot.InitX, cfg.Robot.InitY, angle, cfg.PF.Noise, cfg.Robot.Radius)
	sys.agent, err = agent.New(cfg.AgentConfig(), agent.Deps{
		Env:       env,
		Filter:    pf,
		Map:       pher,
		Base:      sys.base,
		Tags:      sys.tags,
		Transport: sys.udp,
		Peers:     sys.peers,
		Clock:     sys.clk,
		Rand:      rng,
		Logger:    sys.logger,
		Initial:   initial,
	})
	if err != nil {
		return sys, err
	}

	m, sink, err := scheduler.NewInmemMetrics("rescuebot")
	if err != nil {
		return sys, err
	}
	sys.sched, err = scheduler.New(cfg.Scheduler.Minor, sys.clk, m, cfg.Scheduler.Frame, sys.agent.Tasks())
	if err != nil {
		return sys, errors.Wrap(err, "create scheduler")
	}

	sys.board = status.NewBoard(sys.runID)
	sys.sched.AfterCycle = sys.publish
	sys.sched.OnOverrun = sys.logger.LogOverrun

	if cfg.Status.Enabled {
		sys.status = status.NewServer(cfg.Robot.ID, cfg.Status.Port, sys.board, sink)
		go func() {
			if err := sys.status.Start(); err != nil && err != http.ErrServerClosed {
				log.Printf("[MAIN] Status server: %v", err)
			}
		}()
	}

	return sys, nil
}

func (sys *robotSystem) openHardware(env *environment.Environment, angle float64) error {
	cfg := sys.cfg
	if cfg.Serial.Simulate {
		sim := hardware.NewSim(env, sys.clk, cfg.Robot.InitX, cfg.Robot.InitY, angle, cfg.Robot.Radius)
		sys.base, sys.tags = sim, sim
		log.Printf("[MAIN] Using simulated base and RFID reader")
		return nil
	}

	oi, err := hardware.OpenOpenInterface(cfg.Serial.OpenInterfacePort)
	if err != nil {
		return err
	}
	sys.base = oi

	rfid, err := hardware.OpenRFIDReader(cfg.Serial.RFIDPort)
	if err != nil {
		return err
	}
	sys.tags = rfid
	return nil
}

// publish runs on the scheduler goroutine after every cycle.
func (sys *robotSystem) publish(cycle int64) {
	snap := status.Snapshot{
		Cycle:     cycle,
		Agent:     sys.agent.Snapshot(),
		Scheduler: sys.sched.Report(),
		Network:   sys.udp.GetStats(),
		Peers:     sys.peers.Active(sys.clk.Now()),
	}
	if sys.roster != nil {
		snap.Roster = sys.roster.GetStats()
	}
	sys.board.Publish(snap)
}

func (sys *robotSystem) logTiming() {
	rep := sys.sched.Report()
	for _, t := range rep.Tasks {
		sys.logger.LogTaskTiming(t.Name, t.Runs, t.Mean, t.Max)
	}
	sys.logger.LogSchedulability(rep.SumMax, rep.Minor, rep.Feasible)
	log.Printf("[MAIN] %d cycles, %d overruns", rep.Cycles, rep.Overruns)
}

func (sys *robotSystem) writeReport(reason string) error {
	if sys.cfg.Report.Path == "" {
		return nil
	}
	m := report.Mission{
		RunID:     sys.runID,
		RobotID:   sys.cfg.Robot.ID,
		Team:      sys.cfg.Robot.Team,
		StartedAt: sys.started,
		EndedAt:   sys.clk.Now(),
		Reason:    reason,
		Victims:   sys.agent.Victims(),
		Schedule:  sys.sched.Report(),
		Counters:  sys.agent.Counters(),
	}
	if err := report.Write(sys.cfg.Report.Path, m); err != nil {
		return err
	}
	log.Printf("[MAIN] Mission report written to %s (%d victims)", sys.cfg.Report.Path, len(m.Victims))
	return nil
}

// close stops the base first, then releases every other component.
func (sys *robotSystem) close() error {
	var result error
	if sys.base != nil {
		if err := sys.base.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "close base"))
		}
	}
	// The simulator is both base and reader.
	if sys.tags != nil && any(sys.tags) != any(sys.base) {
		if err := sys.tags.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "close RFID reader"))
		}
	}
	if sys.roster != nil {
		if err := sys.roster.Leave(time.Second); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if sys.udp != nil {
		if err := sys.udp.Stop(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "stop UDP server"))
		}
	}
	if sys.status != nil {
		if err := sys.status.Stop(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "stop status server"))
		}
	}
	return result
}

// printUsage shows available options and endpoints
func printUsage() {
	fmt.Fprintf(os.Stderr, `
=== Rescue Robot Agent ===

USAGE:
  %s [options]

EXAMPLES:
  %s --config robot.yaml --id 2
  %s --simulate --status-port 8081 --report mission.cbor
  %s --id 3 --seeds 10.0.0.1:7946,10.0.0.2:7946

OPTIONS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])

	pflag.PrintDefaults()

	fmt.Fprintf(os.Stderr, `
ENDPOINTS (status server):
  GET /health   - Liveness and run id
  GET /stats    - Latest snapshot of the agent, scheduler and network
  GET /victims  - Victims found so far
  GET /pose     - Estimated pose, accuracy and peers
  GET /metrics  - Task timing and overrun metrics
  GET /ws       - Websocket stream of snapshots
`)
}
