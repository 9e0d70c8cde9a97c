package geom

import (
	"math"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

func TestWrapAngle(t *testing.T) {
	cases := []float64{0, 1, -1, 2 * math.Pi, -2 * math.Pi, 7 * math.Pi, -1e-18, -13.5, 1e6}
	for _, a := range cases {
		w := WrapAngle(a)
		assert.GreaterOrEqual(t, w, 0.0, "angle %v", a)
		assert.Less(t, w, 2*math.Pi, "angle %v", a)
	}
	assert.InDelta(t, 2*math.Pi-1, WrapAngle(-1), 1e-12)
}

func TestGaussRand_ZeroSigma(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	assert.Equal(t, 5.0, GaussRand(rng, 5, 0))
}

func TestGaussian_PeakAtMean(t *testing.T) {
	peak := Gaussian(10, 2, 10)
	assert.InDelta(t, 1/math.Sqrt(2*math.Pi*4), peak, 1e-12)
	assert.Less(t, Gaussian(10, 2, 13), peak)
}

func TestDistToSegment(t *testing.T) {
	a := orb.Point{0, 0}
	b := orb.Point{100, 0}

	assert.InDelta(t, 50, DistToSegment(orb.Point{50, 50}, a, b), 1e-9)
	assert.InDelta(t, 50, DistToSegment(orb.Point{150, 0}, a, b), 1e-9)
}

func TestTwosComplement(t *testing.T) {
	for _, v := range []int{0, 1, -1, 200, -200, 32767, -32768} {
		hi, lo := Int2Bytes(v)
		assert.Equal(t, v, Bytes2Int(hi, lo))
	}

	hi, lo := Int2Bytes(-1)
	assert.Equal(t, byte(0xFF), hi)
	assert.Equal(t, byte(0xFF), lo)

	hi, lo = Int2Bytes(-32768)
	assert.Equal(t, byte(0x80), hi)
	assert.Equal(t, byte(0x00), lo)

	assert.Equal(t, 65535, Bytes2Uint(0xFF, 0xFF))
}

func TestDisk_Symmetric(t *testing.T) {
	for _, size := range []int{1, 3, 5, 7, 11, 21} {
		mask := Disk(size)
		for i := 0; i < size; i++ {
			for j := 0; j < size; j++ {
				assert.Equal(t, mask[i][j], mask[size-1-i][j], "size %d x-reflection at %d,%d", size, i, j)
				assert.Equal(t, mask[i][j], mask[i][size-1-j], "size %d y-reflection at %d,%d", size, i, j)
			}
		}
		c := (size - 1) / 2
		assert.True(t, mask[c][c], "centre must be filled for size %d", size)
	}
}

func TestDisk_ThreeIsPlus(t *testing.T) {
	mask := Disk(3)
	expected := [][]bool{
		{false, true, false},
		{true, true, true},
		{false, true, false},
	}
	assert.Equal(t, expected, mask)
}
