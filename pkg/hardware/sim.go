package hardware

import (
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/heitortanoue/rescuebot/internal/clock"
	"github.com/heitortanoue/rescuebot/pkg/environment"
	"github.com/heitortanoue/rescuebot/pkg/geom"
	"github.com/heitortanoue/rescuebot/pkg/robot"
)

// bumperRange is how far ahead of its footprint the simulated light
// bumper sees a wall.
const bumperRange = 100

// ErrClosed is returned by a closed simulator.
var ErrClosed = errors.New("hardware closed")

// Sim is an in-memory base and RFID reader. It integrates the commanded
// motion against a clock, reports odometry, raises the light bumper in
// front of walls and reads tags within sense radius of its true pose.
type Sim struct {
	env    *environment.Environment
	clk    clock.Clock
	radius int

	x, y, a  float64
	velocity int
	turn     int
	last     time.Time

	distAcc  float64
	angleAcc float64

	bumper   *byte
	tags     []string
	sensErr  error
	leds     [4]byte
	closed   bool
	requests int

	mutex sync.Mutex
}

// NewSim places a simulated robot at (x, y, a) in env.
func NewSim(env *environment.Environment, clk clock.Clock, x, y int, a float64, radius int) *Sim {
	return &Sim{
		env:    env,
		clk:    clk,
		radius: radius,
		x:      float64(x),
		y:      float64(y),
		a:      geom.WrapAngle(a),
		turn:   RadiusStraight,
		last:   clk.Now(),
	}
}

// advance integrates motion up to now. The caller holds the mutex.
func (s *Sim) advance() {
	now := s.clk.Now()
	dt := now.Sub(s.last).Seconds()
	s.last = now
	if dt <= 0 || s.velocity == 0 {
		return
	}

	v := float64(s.velocity)
	var omega float64 // rad/s, positive counter-clockwise
	switch s.turn {
	case RadiusStraight, 32767:
		omega = 0
	case RadiusSpinCCW:
		omega = v / float64(s.radius)
		v = 0
	case RadiusSpinCW:
		omega = -v / float64(s.radius)
		v = 0
	default:
		omega = v / float64(s.turn)
	}

	d := v * dt
	turned := omega * dt
	heading := s.a - turned/2
	s.x += math.Cos(heading) * d
	s.y += math.Sin(heading) * d
	s.a = geom.WrapAngle(s.a - turned)
	s.distAcc += d
	s.angleAcc += geom.Rad2Deg(turned)

	if s.env != nil {
		r := float64(s.radius)
		s.x = math.Max(r, math.Min(float64(s.env.Width())-r, s.x))
		s.y = math.Max(r, math.Min(float64(s.env.Height())-r, s.y))
	}
}

// Drive sets the commanded velocity and radius.
func (s *Sim) Drive(velocity, radius int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.advance()
	s.velocity = velocity
	s.turn = radius
	return nil
}

// SensorsUpdate reports odometry accumulated since the previous request
// and the light bumper.
func (s *Sim) SensorsUpdate(packet SensorPacket) (Sensors, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return Sensors{}, ErrClosed
	}
	if s.sensErr != nil {
		return Sensors{}, s.sensErr
	}
	if packet.Size() == 0 {
		return Sensors{}, errors.Errorf("unsupported sensor packet %d", packet)
	}
	s.advance()
	s.requests++

	dist := int(s.distAcc)
	angle := int(s.angleAcc)
	s.distAcc -= float64(dist)
	s.angleAcc -= float64(angle)

	out := Sensors{Distance: dist, Angle: angle}
	if packet == PacketAll {
		out.LightBumper = s.lightBumper()
	}
	return out, nil
}

func (s *Sim) lightBumper() byte {
	if s.bumper != nil {
		return *s.bumper
	}
	if s.env == nil {
		return 0
	}
	reach := float64(s.radius + bumperRange)
	ax := int(s.x + math.Cos(s.a)*reach)
	ay := int(s.y + math.Sin(s.a)*reach)
	if !s.env.Contains(ax, ay) {
		return BumperCenterRight
	}
	return 0
}

// LEDs records the LED state.
func (s *Sim) LEDs(play, advance bool, color, intensity byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var bits byte
	if play {
		bits |= 2
	}
	if advance {
		bits |= 8
	}
	s.leds = [4]byte{opLEDs, bits, color, intensity}
	return nil
}

// Read returns a queued tag id if any, otherwise the id of the first tag
// within sense radius of the true pose.
func (s *Sim) Read() (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return environment.EmptyTag, ErrClosed
	}
	if len(s.tags) > 0 {
		id := s.tags[0]
		s.tags = s.tags[1:]
		return id, nil
	}
	if s.env == nil {
		return environment.EmptyTag, nil
	}
	s.advance()
	for _, tag := range s.env.Tags() {
		if geom.Distance(int(s.x), int(s.y), tag.X, tag.Y) < robot.SenseRadius {
			return tag.ID, nil
		}
	}
	return environment.EmptyTag, nil
}

// Close stops the simulated base.
func (s *Sim) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.advance()
	s.velocity = 0
	s.closed = true
	return nil
}

// SetLightBumper forces the light bumper reading.
func (s *Sim) SetLightBumper(v byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.bumper = &v
}

// ClearLightBumper returns the light bumper to wall detection.
func (s *Sim) ClearLightBumper() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.bumper = nil
}

// QueueTag makes the next Read return id.
func (s *Sim) QueueTag(id string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.tags = append(s.tags, id)
}

// FailSensors makes every sensor request fail with err; nil clears it.
func (s *Sim) FailSensors(err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.sensErr = err
}

// TruePose returns the simulated ground truth.
func (s *Sim) TruePose() (x, y int, a float64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.advance()
	return int(s.x), int(s.y), s.a
}

// Command returns the last commanded velocity and radius.
func (s *Sim) Command() (velocity, radius int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.velocity, s.turn
}

// Requests counts sensor requests served.
func (s *Sim) Requests() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.requests
}

// Closed reports whether Close was called.
func (s *Sim) Closed() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.closed
}
