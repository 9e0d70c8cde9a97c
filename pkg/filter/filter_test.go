package filter

import (
	"math"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heitortanoue/rescuebot/pkg/environment"
	"github.com/heitortanoue/rescuebot/pkg/robot"
)

func testEnv() *environment.Environment {
	return environment.New(
		[]orb.Point{{0, 0}, {4000, 0}, {4000, 3000}, {0, 3000}},
		[]environment.Tag{
			{X: 1000, Y: 1000, ID: "0000000001", Enabled: true},
			{X: 3000, Y: 2000, ID: "0000000002", Enabled: true},
		},
	)
}

var defaultNoise = robot.Noise{Move: 20, Turn: 6, Tag: 80, Wall: 1}

func newFilter(t *testing.T, n int, seed int64) *ParticleFilter {
	t.Helper()
	pf, err := New(n, testEnv(), defaultNoise, 160, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return pf
}

func weightSum(pf *ParticleFilter) float64 {
	sum := 0.0
	for _, p := range pf.particles {
		sum += p.Weight
	}
	return sum
}

func TestNew(t *testing.T) {
	pf := newFilter(t, 1000, 1)
	env := testEnv()

	assert.Equal(t, 1000, pf.Len())
	assert.InDelta(t, 1.0, weightSum(pf), 1e-9)
	for _, p := range pf.Particles() {
		assert.True(t, env.InBounds(p.X, p.Y))
		assert.GreaterOrEqual(t, p.A, 0.0)
		assert.Less(t, p.A, 2*math.Pi)
	}
}

func TestNew_InvalidArguments(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	_, err := New(0, testEnv(), defaultNoise, 160, rng)
	assert.Error(t, err)

	_, err = New(10, environment.New(nil, nil), defaultNoise, 160, rng)
	assert.Error(t, err)
}

func TestResample_KeepsCountAndNormalizes(t *testing.T) {
	rng := rand.New(rand.NewSource(99))

	for _, n := range []int{1, 2, 7, 100, 1000} {
		pf := newFilter(t, n, int64(n))

		for trial := 0; trial < 20; trial++ {
			for i := range pf.particles {
				switch trial % 4 {
				case 0:
					pf.particles[i].Weight = rng.Float64()
				case 1:
					pf.particles[i].Weight = 1
				case 2:
					pf.particles[i].Weight = 0
				default:
					pf.particles[i].Weight = rng.ExpFloat64() * 1e-4
				}
			}

			pf.Resample()

			require.Equal(t, n, pf.Len())
			assert.InDelta(t, 1.0, weightSum(pf), 1e-9, "n=%d trial=%d", n, trial)
		}
	}
}

func TestResample_FavoursHeavyParticles(t *testing.T) {
	pf := newFilter(t, 500, 5)
	for i := range pf.particles {
		pf.particles[i].Weight = robot.WeightFloor
	}
	pf.particles[10].X, pf.particles[10].Y = 1234, 2345
	pf.particles[10].Weight = 1

	pf.Resample()

	hits := 0
	for _, p := range pf.particles {
		if p.X == 1234 && p.Y == 2345 {
			hits++
		}
	}
	assert.Greater(t, hits, 400)
}

func TestDrive_HeadingWrapped(t *testing.T) {
	pf := newFilter(t, 200, 11)
	for step := 0; step < 200; step++ {
		pf.Drive(30, 37*(step%5)-70, step%9 == 0)
	}
	for _, p := range pf.particles {
		assert.GreaterOrEqual(t, p.A, 0.0)
		assert.Less(t, p.A, 2*math.Pi)
	}
}

func TestEstimate(t *testing.T) {
	pf := newFilter(t, 4, 1)
	pf.particles[0] = robot.Pose{X: 100, Y: 100, A: 0.1, Weight: 0.25}
	pf.particles[1] = robot.Pose{X: 300, Y: 100, A: 2*math.Pi - 0.1, Weight: 0.25}
	pf.particles[2] = robot.Pose{X: 100, Y: 300, A: 0.1, Weight: 0.25}
	pf.particles[3] = robot.Pose{X: 300, Y: 300, A: 2*math.Pi - 0.1, Weight: 0.25}

	est := pf.Estimate()
	assert.Equal(t, 200, est.X)
	assert.Equal(t, 200, est.Y)
	// Headings on both sides of zero average to zero, not π.
	assert.True(t, est.A < 1e-9 || est.A > 2*math.Pi-1e-9, "heading %v", est.A)
}

func TestEstimate_ZeroVectorHeading(t *testing.T) {
	pf := newFilter(t, 2, 1)
	pf.particles[0] = robot.Pose{X: 10, Y: 10, A: 1, Weight: 0}
	pf.particles[1] = robot.Pose{X: 20, Y: 20, A: 2, Weight: 0}

	est := pf.Estimate()
	assert.Equal(t, 0.0, est.A)
	assert.Equal(t, 0, est.X)
}

func TestWeightByLandmark(t *testing.T) {
	pf := newFilter(t, 100, 3)
	require.NoError(t, pf.WeightByLandmark(0))
	for _, p := range pf.particles {
		assert.GreaterOrEqual(t, p.Weight, robot.WeightFloor)
	}

	assert.Error(t, pf.WeightByLandmark(5))
	assert.Error(t, pf.WeightByLandmark(-1))
}

func TestWeightByLandmark_ParticleOnTagZeroNoise(t *testing.T) {
	env := testEnv()
	pf, err := New(10, env, robot.Noise{}, 160, rand.New(rand.NewSource(4)))
	require.NoError(t, err)

	tag, _ := env.Tag(0)
	pf.particles[0].X, pf.particles[0].Y = tag.X, tag.Y

	require.NoError(t, pf.WeightByLandmark(0))
	assert.Equal(t, robot.MaxTagWeight(0), pf.particles[0].Weight)
	for _, p := range pf.particles {
		assert.LessOrEqual(t, p.Weight, pf.particles[0].Weight)
	}
}

func TestWeightByWall(t *testing.T) {
	pf := newFilter(t, 3, 3)
	pf.particles[0] = robot.Pose{X: 160, Y: 1500, Radius: 160}
	pf.particles[1] = robot.Pose{X: 2000, Y: 1500, Radius: 160}
	pf.particles[2] = robot.Pose{X: 5000, Y: 1500, Radius: 160}

	pf.WeightByWall()

	assert.Equal(t, 1.0, pf.particles[0].Weight)
	assert.Equal(t, 0.1, pf.particles[1].Weight)
	assert.Equal(t, robot.WeightFloor, pf.particles[2].Weight)
	assert.True(t, testEnv().InBounds(pf.particles[2].X, pf.particles[2].Y))
}

func TestRandomInjection(t *testing.T) {
	pf := newFilter(t, 1000, 8)
	for i := range pf.particles {
		pf.particles[i].Weight = 0.001
	}

	num, err := pf.RandomInjection(1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, num, 0)
	assert.Less(t, num, 100)

	tag, _ := testEnv().Tag(1)
	for _, p := range pf.particles {
		if p.Weight == robot.WeightFloor {
			assert.InDelta(t, tag.X, p.X, 300)
			assert.InDelta(t, tag.Y, p.Y, 300)
		}
	}

	_, err = pf.RandomInjection(9)
	assert.Error(t, err)
}

func TestAccuracy_MonotonicInSpread(t *testing.T) {
	pf := newFilter(t, 100, 2)
	rng := rand.New(rand.NewSource(21))

	prev := -1
	for spread := 2000; spread >= 0; spread -= 100 {
		for i := range pf.particles {
			pf.particles[i].X = 2000 + rng.Intn(spread+1) - spread/2
			pf.particles[i].Y = 1500 + rng.Intn(spread+1) - spread/2
			pf.particles[i].Weight = 0.01
		}
		// Pin the bounding box so it only shrinks as the spread tightens.
		pf.particles[0].X, pf.particles[0].Y = 2000-spread/2, 1500-spread/2
		pf.particles[1].X, pf.particles[1].Y = 2000+spread/2, 1500+spread/2

		acc := pf.Accuracy()
		assert.GreaterOrEqual(t, acc, prev, "spread %d", spread)
		assert.GreaterOrEqual(t, acc, 0)
		assert.LessOrEqual(t, acc, 100)
		prev = acc
	}
	assert.Equal(t, 100, prev)
}

func TestAccuracy_IgnoresFloorWeights(t *testing.T) {
	pf := newFilter(t, 3, 2)
	pf.particles[0] = robot.Pose{X: 0, Y: 0, Weight: robot.WeightFloor}
	pf.particles[1] = robot.Pose{X: 2000, Y: 1500, Weight: 0.5}
	pf.particles[2] = robot.Pose{X: 2000, Y: 1500, Weight: 0.5}
	assert.Equal(t, 100, pf.Accuracy())

	for i := range pf.particles {
		pf.particles[i].Weight = robot.WeightFloor
	}
	assert.Equal(t, 0, pf.Accuracy())
}
