// Package filter implements Monte-Carlo localization over a fixed set of
// pose hypotheses.
package filter

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/heitortanoue/rescuebot/pkg/environment"
	"github.com/heitortanoue/rescuebot/pkg/geom"
	"github.com/heitortanoue/rescuebot/pkg/robot"
)

const (
	// injectionSpread is the half-width (mm) of the square around a tag in
	// which injected particles land.
	injectionSpread = 300
	// maxInjected bounds the number of particles re-seeded per landmark hit.
	maxInjected = 100
)

// ParticleFilter owns the particle set. It is not safe for concurrent use.
type ParticleFilter struct {
	particles []robot.Pose
	scratch   []robot.Pose
	env       *environment.Environment
	rng       *rand.Rand
}

// New seeds n particles uniformly over the room bounding box with random
// headings and equal weights.
func New(n int, env *environment.Environment, noise robot.Noise, radius int, rng *rand.Rand) (*ParticleFilter, error) {
	if n <= 0 {
		return nil, fmt.Errorf("particle count must be positive, got %d", n)
	}
	if env == nil || env.Width() <= 0 || env.Height() <= 0 {
		return nil, fmt.Errorf("environment has no area")
	}

	pf := &ParticleFilter{
		particles: make([]robot.Pose, n),
		scratch:   make([]robot.Pose, n),
		env:       env,
		rng:       rng,
	}

	for i := range pf.particles {
		p := &pf.particles[i]
		p.Noise = noise
		p.Radius = radius
		p.Randomize(rng, env)
		p.Weight = 1 / float64(n)
	}
	return pf, nil
}

// Len returns the number of particles.
func (pf *ParticleFilter) Len() int { return len(pf.particles) }

// Particles returns a copy of the particle set.
func (pf *ParticleFilter) Particles() []robot.Pose {
	out := make([]robot.Pose, len(pf.particles))
	copy(out, pf.particles)
	return out
}

// Drive moves every particle with the odometry reading.
func (pf *ParticleFilter) Drive(distance, angle int, uncertain bool) {
	for i := range pf.particles {
		pf.particles[i].Drive(pf.rng, distance, angle, uncertain)
	}
}

// WeightByLandmark weights every particle against a detection of the tag
// at index tagIndex.
func (pf *ParticleFilter) WeightByLandmark(tagIndex int) error {
	tag, ok := pf.env.Tag(tagIndex)
	if !ok {
		return fmt.Errorf("tag index %d out of range", tagIndex)
	}
	for i := range pf.particles {
		pf.particles[i].EvalTag(pf.rng, pf.env, tag)
	}
	return nil
}

// WeightByWall weights every particle by its agreement with a wall contact.
func (pf *ParticleFilter) WeightByWall() {
	for i := range pf.particles {
		pf.particles[i].EvalWall(pf.rng, pf.env)
	}
}

// Resample draws a new particle set with a resampling wheel and
// normalizes the weights of the result so they sum to one.
func (pf *ParticleFilter) Resample() {
	n := len(pf.particles)
	index := pf.rng.Intn(n)

	mw := 0.0
	for i := range pf.particles {
		if pf.particles[i].Weight > mw {
			mw = pf.particles[i].Weight
		}
	}

	beta := 0.0
	sum := 0.0
	for i := 0; i < n; i++ {
		beta += pf.rng.Float64() * 2 * mw
		for beta > pf.particles[index].Weight {
			beta -= pf.particles[index].Weight
			index = (index + 1) % n
		}
		pf.scratch[i] = pf.particles[index]
		sum += pf.particles[index].Weight
	}

	pf.particles, pf.scratch = pf.scratch, pf.particles

	for i := range pf.particles {
		if sum > 0 {
			pf.particles[i].Weight /= sum
		} else {
			pf.particles[i].Weight = 1 / float64(n)
		}
	}
}

// Estimate returns the weighted mean pose. The heading is the direction of
// the weighted sum of unit heading vectors.
func (pf *ParticleFilter) Estimate() robot.Pose {
	var ex, ey, vx, vy, total float64
	for _, p := range pf.particles {
		ex += float64(p.X) * p.Weight
		ey += float64(p.Y) * p.Weight
		vx += p.Weight * math.Cos(p.A)
		vy += p.Weight * math.Sin(p.A)
		total += p.Weight
	}

	if total > 0 {
		ex /= total
		ey /= total
	}

	a := 0.0
	if vx != 0 || vy != 0 {
		a = geom.WrapAngle(math.Atan2(vy, vx))
	}

	return robot.Pose{X: int(ex), Y: int(ey), A: a, Weight: 1}
}

// RandomInjection scatters a random number (0-99) of particles around the
// tag at tagIndex with a low weight, so the filter can recover after
// converging on a wrong pose.
func (pf *ParticleFilter) RandomInjection(tagIndex int) (int, error) {
	tag, ok := pf.env.Tag(tagIndex)
	if !ok {
		return 0, fmt.Errorf("tag index %d out of range", tagIndex)
	}

	num := pf.rng.Intn(maxInjected)
	for i := 0; i < num; i++ {
		p := &pf.particles[pf.rng.Intn(len(pf.particles))]
		p.X = tag.X + (injectionSpread - pf.rng.Intn(2*injectionSpread))
		p.Y = tag.Y + (injectionSpread - pf.rng.Intn(2*injectionSpread))
		p.Weight = robot.WeightFloor
	}
	return num, nil
}

// Accuracy reports how tightly the plausible particles are clustered, as
// the percentage of the room not covered by their bounding box.
func (pf *ParticleFilter) Accuracy() int {
	xmin, ymin := math.MaxInt, math.MaxInt
	xmax, ymax := math.MinInt, math.MinInt
	kept := 0

	for _, p := range pf.particles {
		if p.Weight <= robot.WeightFloor {
			continue
		}
		kept++
		xmin = min(xmin, p.X)
		ymin = min(ymin, p.Y)
		xmax = max(xmax, p.X)
		ymax = max(ymax, p.Y)
	}
	if kept == 0 {
		return 0
	}

	area := float64(xmax-xmin) * float64(ymax-ymin)
	accuracy := 1 - area/pf.env.Area()

	percent := int(accuracy * 100)
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
