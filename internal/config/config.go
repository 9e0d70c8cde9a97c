package config

import (
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/heitortanoue/rescuebot/pkg/agent"
	"github.com/heitortanoue/rescuebot/pkg/pheromone"
	"github.com/heitortanoue/rescuebot/pkg/robot"
	"github.com/heitortanoue/rescuebot/pkg/scheduler"
)

// Config is the whole robot configuration, loaded from YAML.
type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Environment EnvironmentConfig `yaml:"environment"`
	PF          PFConfig          `yaml:"pf"`
	Robot       RobotConfig       `yaml:"robot"`
	Pheromone   pheromone.Params  `yaml:"pheromone"`
	UDP         UDPConfig         `yaml:"udp"`
	Network     NetworkConfig     `yaml:"network"`
	Mission     MissionConfig     `yaml:"mission"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Status      StatusConfig      `yaml:"status"`
	Swim        SwimConfig        `yaml:"swim"`
	Log         LogConfig         `yaml:"log"`
	Report      ReportConfig      `yaml:"report"`
}

// SerialConfig names the hardware serial ports.
type SerialConfig struct {
	RFIDPort          string `yaml:"rfid_port_path"`
	OpenInterfacePort string `yaml:"openinterface_port_path"`
	// Simulate replaces both devices with the in-memory simulator.
	Simulate bool `yaml:"simulate"`
}

// EnvironmentConfig points at the room and tag files.
type EnvironmentConfig struct {
	RoomPath string `yaml:"room_def_path"`
	TagsPath string `yaml:"tags_def_path"`
}

// PFConfig sizes the particle filter.
type PFConfig struct {
	Particles int         `yaml:"particles_num"`
	Noise     robot.Noise `yaml:"noise"`
	Seed      int64       `yaml:"seed"` // 0 seeds from the clock
}

// RobotConfig is the robot identity and initial pose.
type RobotConfig struct {
	ID        int `yaml:"id"`
	Team      int `yaml:"team"`
	Radius    int `yaml:"radius"`
	InitX     int `yaml:"init_x"`
	InitY     int `yaml:"init_y"`
	InitAngle int `yaml:"init_angle"` // degrees
	Speed     int `yaml:"speed"`
}

// UDPConfig is the frame transport.
type UDPConfig struct {
	BroadcastIP string `yaml:"broadcast_ip"`
	Port        int    `yaml:"port"`
	PacketSize  int    `yaml:"packet_size"`
}

// NetworkConfig describes the shared radio medium.
type NetworkConfig struct {
	Bitrate    int           `yaml:"bitrate"`
	TDMASlots  int           `yaml:"tdma_slot_num"`
	TDMAPeriod time.Duration `yaml:"tdma_period"`
}

// MissionConfig holds task thresholds and periods.
type MissionConfig struct {
	AccuracyLimit  int           `yaml:"accuracy_limit"`
	RequestPeriod  time.Duration `yaml:"request_period"`
	StreamSize     int           `yaml:"stream_size"`
	StreamRate     int           `yaml:"stream_rate"`
	MaxVictims     int           `yaml:"max_victims"`
	RequireGoAhead bool          `yaml:"require_go_ahead"`
	GoAheadTime    time.Duration `yaml:"go_ahead_time"`
	FaultCycles    int           `yaml:"fault_cycles"`
	StartEnabled   bool          `yaml:"start_enabled"`
}

// SchedulerConfig is the cyclic executive frame.
type SchedulerConfig struct {
	Minor time.Duration    `yaml:"minor"`
	Frame []scheduler.Slot `yaml:"frame"`
}

// StatusConfig is the HTTP status server.
type StatusConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// SwimConfig is the optional swarm roster.
type SwimConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BindAddr    string        `yaml:"bind_addr"`
	BindPort    int           `yaml:"bind_port"`
	Seeds       []string      `yaml:"seeds"`
	MaxPeers    int           `yaml:"max_peers"`
	PeerTimeout time.Duration `yaml:"peer_timeout"`
}

// LogConfig controls log output.
type LogConfig struct {
	Color bool `yaml:"color"`
}

// ReportConfig is where the mission report goes.
type ReportConfig struct {
	Path string `yaml:"path"` // empty disables the report
}

// DefaultConfig returns the defaults of the reference robot.
func DefaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			RFIDPort:          "/dev/ttyUSB0",
			OpenInterfacePort: "/dev/ttyUSB1",
		},
		Environment: EnvironmentConfig{
			RoomPath: "./res/large_room.dat",
			TagsPath: "./res/large_tags.dat",
		},
		PF: PFConfig{
			Particles: 1000,
			Noise:     robot.Noise{Move: 20, Turn: 6, Tag: 80, Wall: 1},
		},
		Robot: RobotConfig{
			ID:     1,
			Team:   1,
			Radius: 160,
			InitX:  160,
			InitY:  160,
			Speed:  300,
		},
		Pheromone: pheromone.Params{
			CellWidth:      100,
			Lifetime:       1,
			DepositRadius:  100,
			EvalRadius:     300,
			EvalDistance:   400,
			MaxSectorBytes: 100,
		},
		UDP: UDPConfig{
			BroadcastIP: "255.255.255.255",
			Port:        45454,
			PacketSize:  512,
		},
		Network: NetworkConfig{
			Bitrate:    153600,
			TDMASlots:  8,
			TDMAPeriod: time.Second,
		},
		Mission: MissionConfig{
			AccuracyLimit: 30,
			RequestPeriod: 300 * time.Millisecond,
			StreamSize:    20,
			StreamRate:    20,
			MaxVictims:    100,
			GoAheadTime:   2 * time.Second,
			FaultCycles:   3,
			StartEnabled:  true,
		},
		Scheduler: SchedulerConfig{
			Minor: 100 * time.Millisecond,
			Frame: scheduler.DefaultFrame(),
		},
		Status: StatusConfig{
			Enabled: true,
			Port:    8080,
		},
		Swim: SwimConfig{
			BindAddr:    "0.0.0.0",
			BindPort:    7946,
			MaxPeers:    64,
			PeerTimeout: 9 * time.Second,
		},
		Log: LogConfig{Color: true},
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default value.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch {
	case c.Robot.ID < 1 || c.Robot.ID > 98:
		return errors.Errorf("robot.id must be in 1..98, got %d", c.Robot.ID)
	case c.Robot.Team < 0:
		return errors.Errorf("robot.team must not be negative, got %d", c.Robot.Team)
	case c.Robot.Radius <= 0:
		return errors.Errorf("robot.radius must be positive, got %d", c.Robot.Radius)
	case c.Robot.Speed <= 0:
		return errors.Errorf("robot.speed must be positive, got %d", c.Robot.Speed)
	case c.PF.Particles <= 0:
		return errors.Errorf("pf.particles_num must be positive, got %d", c.PF.Particles)
	case c.Pheromone.CellWidth <= 0 || c.Pheromone.Lifetime <= 0:
		return errors.New("pheromone.width and pheromone.lifetime must be positive")
	case c.UDP.Port <= 0 || c.UDP.Port > 65535:
		return errors.Errorf("udp.port out of range: %d", c.UDP.Port)
	case net.ParseIP(c.UDP.BroadcastIP) == nil:
		return errors.Errorf("udp.broadcast_ip is not an IP address: %q", c.UDP.BroadcastIP)
	case c.UDP.PacketSize <= 0:
		return errors.Errorf("udp.packet_size must be positive, got %d", c.UDP.PacketSize)
	case c.Scheduler.Minor <= 0:
		return errors.Errorf("scheduler.minor must be positive, got %v", c.Scheduler.Minor)
	case len(c.Scheduler.Frame) == 0:
		return errors.New("scheduler.frame is empty")
	case c.Mission.FaultCycles <= 0:
		return errors.Errorf("mission.fault_cycles must be positive, got %d", c.Mission.FaultCycles)
	case c.Status.Enabled && (c.Status.Port < 0 || c.Status.Port > 65535):
		return errors.Errorf("status.port out of range: %d", c.Status.Port)
	case c.Swim.Enabled && c.Swim.MaxPeers <= 0:
		return errors.Errorf("swim.max_peers must be positive, got %d", c.Swim.MaxPeers)
	}
	return nil
}

// AgentConfig returns the task thresholds for the agent.
func (c *Config) AgentConfig() agent.Config {
	return agent.Config{
		ID:             c.Robot.ID,
		Team:           c.Robot.Team,
		Speed:          c.Robot.Speed,
		AccuracyLimit:  c.Mission.AccuracyLimit,
		RequestPeriod:  c.Mission.RequestPeriod,
		StreamSize:     c.Mission.StreamSize,
		StreamRate:     c.Mission.StreamRate,
		MaxVictims:     c.Mission.MaxVictims,
		RequireGoAhead: c.Mission.RequireGoAhead,
		GoAheadTTL:     c.Mission.GoAheadTime,
		FaultCycles:    c.Mission.FaultCycles,
		StartEnabled:   c.Mission.StartEnabled,
	}
}
