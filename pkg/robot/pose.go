// Package robot models a robot pose hypothesis. The same record is used for
// the estimated pose of the agent and for every particle of the filter.
package robot

import (
	"math"
	"math/rand"

	"github.com/heitortanoue/rescuebot/pkg/environment"
	"github.com/heitortanoue/rescuebot/pkg/geom"
)

const (
	// SenseRadius is the nominal RFID read range in millimetres.
	SenseRadius = 50
	// AngleUncertainty is the heading noise (degrees) of an untracked maneuver.
	AngleUncertainty = 10
	// DistanceUncertainty is the displacement (mm) of an untracked maneuver.
	DistanceUncertainty = 200
	// WeightFloor is the weight given to implausible hypotheses.
	WeightFloor = 0.00001
	// WallTolerance is the half-width of the band around the robot radius in
	// which a wall reading counts as a match.
	WallTolerance = 10
)

// Noise holds the standard deviations of the motion and sensor models.
type Noise struct {
	Move float64 `yaml:"move" json:"move"` // mm
	Turn float64 `yaml:"turn" json:"turn"` // degrees
	Tag  float64 `yaml:"tag" json:"tag"`   // mm
	Wall float64 `yaml:"wall" json:"wall"` // mm
}

// Pose is a weighted pose hypothesis.
type Pose struct {
	X      int     `json:"x"`
	Y      int     `json:"y"`
	A      float64 `json:"a"` // heading, radians in [0, 2π)
	Weight float64 `json:"weight"`
	Noise  Noise   `json:"-"`
	Radius int     `json:"radius"`
}

// New returns a pose at (x, y, a).
func New(x, y int, a float64, noise Noise, radius int) Pose {
	return Pose{X: x, Y: y, A: geom.WrapAngle(a), Noise: noise, Radius: radius}
}

// Drive applies the odometry motion model. angle is in degrees; positive
// angles turn clockwise. When uncertain is set an extra large perturbation
// accounts for motion the odometry did not capture.
func (p *Pose) Drive(rng *rand.Rand, distance, angle int, uncertain bool) {
	if angle != 0 {
		p.A = geom.WrapAngle(p.A - geom.Deg2Rad(float64(angle)+geom.GaussRand(rng, 0, p.Noise.Turn)))
	}

	if distance != 0 {
		dist := float64(distance + int(geom.GaussRand(rng, 0, p.Noise.Move)))
		p.X = int(float64(p.X) + math.Cos(p.A)*dist)
		p.Y = int(float64(p.Y) + math.Sin(p.A)*dist)
	}

	if uncertain {
		p.A = geom.WrapAngle(p.A - geom.Deg2Rad(geom.GaussRand(rng, 0, AngleUncertainty)))
		p.X = int(float64(p.X) + math.Cos(p.A)*DistanceUncertainty)
		p.Y = int(float64(p.Y) + math.Sin(p.A)*DistanceUncertainty)
	}
}

// Randomize moves the pose to a uniformly random spot in the room bounding
// box with a random heading.
func (p *Pose) Randomize(rng *rand.Rand, env *environment.Environment) {
	p.X = intn(rng, env.Width())
	p.Y = intn(rng, env.Height())
	p.A = rng.Float64() * 2 * math.Pi
}

// SenseWall returns the distance to the closest wall.
func (p *Pose) SenseWall(env *environment.Environment) float64 {
	return env.WallDistance(p.X, p.Y)
}

// EvalTag weights the pose against a landmark detection of tag. A pose that
// left the room is re-seeded at random with the floor weight.
func (p *Pose) EvalTag(rng *rand.Rand, env *environment.Environment, tag environment.Tag) float64 {
	if p.escaped(env) {
		p.Randomize(rng, env)
		p.Weight = WeightFloor
		return p.Weight
	}

	dist := geom.Distance(p.X, p.Y, tag.X, tag.Y)

	var prob float64
	if p.Noise.Tag <= 0 {
		// Without sensor noise the model reduces to "inside read range".
		if dist < SenseRadius {
			prob = 1
		}
	} else {
		r := float64(rng.Intn(SenseRadius))
		prob = geom.Gaussian(dist, p.Noise.Tag, r)
	}
	if prob <= 0 {
		prob = WeightFloor
	}

	p.Weight = prob
	return prob
}

// EvalWall weights the pose by how well its wall distance matches the robot
// touching a wall.
func (p *Pose) EvalWall(rng *rand.Rand, env *environment.Environment) float64 {
	if p.escaped(env) {
		p.Randomize(rng, env)
		p.Weight = WeightFloor
		return p.Weight
	}

	dist := p.SenseWall(env)
	if dist > float64(p.Radius-WallTolerance) && dist < float64(p.Radius+WallTolerance) {
		p.Weight = 1
	} else {
		p.Weight = 0.1
	}
	return p.Weight
}

// MaxTagWeight is the largest weight EvalTag can assign under the given
// tag noise.
func MaxTagWeight(tagNoise float64) float64 {
	if tagNoise <= 0 {
		return 1
	}
	return geom.Gaussian(0, tagNoise, 0)
}

func (p *Pose) escaped(env *environment.Environment) bool {
	return !env.InBounds(p.X, p.Y)
}

func intn(rng *rand.Rand, n int) int {
	if n <= 0 {
		return 0
	}
	return rng.Intn(n)
}
