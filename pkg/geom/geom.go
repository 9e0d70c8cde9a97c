// Package geom holds the small numeric helpers shared by localization,
// navigation and the hardware drivers.
package geom

import (
	"math"
	"math/rand"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

const twoPi = 2 * math.Pi

// GaussRand draws from N(mean, sigma^2). A non-positive sigma returns mean.
func GaussRand(rng *rand.Rand, mean, sigma float64) float64 {
	if sigma <= 0 {
		return mean
	}
	return mean + rng.NormFloat64()*sigma
}

// Gaussian evaluates the normal probability density with mean mu and
// standard deviation sigma at x.
func Gaussian(mu, sigma, x float64) float64 {
	d := mu - x
	return math.Exp(-(d*d)/(sigma*sigma)/2.0) / math.Sqrt(2.0*math.Pi*sigma*sigma)
}

// WrapAngle maps a radian angle into [0, 2π).
func WrapAngle(a float64) float64 {
	a = math.Mod(a, twoPi)
	if a < 0 {
		a += twoPi
	}
	// Mod of a tiny negative value can round up to exactly 2π
	if a >= twoPi {
		a = 0
	}
	return a
}

// Deg2Rad converts degrees to radians.
func Deg2Rad(deg float64) float64 { return deg * math.Pi / 180.0 }

// Rad2Deg converts radians to degrees.
func Rad2Deg(rad float64) float64 { return rad * 180.0 / math.Pi }

// DistToSegment returns the euclidean distance from p to the segment a-b.
func DistToSegment(p, a, b orb.Point) float64 {
	return planar.DistanceFromSegment(a, b, p)
}

// Distance returns the euclidean distance between two integer points.
func Distance(x1, y1, x2, y2 int) float64 {
	return planar.Distance(orb.Point{float64(x1), float64(y1)}, orb.Point{float64(x2), float64(y2)})
}

// Int2Bytes packs v as a big-endian 16-bit two's-complement value.
func Int2Bytes(v int) (hi, lo byte) {
	u := uint16(int16(v))
	return byte(u >> 8), byte(u)
}

// Bytes2Int unpacks a big-endian 16-bit two's-complement value.
func Bytes2Int(hi, lo byte) int {
	return int(int16(uint16(hi)<<8 | uint16(lo)))
}

// Bytes2Uint unpacks a big-endian unsigned 16-bit value.
func Bytes2Uint(hi, lo byte) int {
	return int(uint16(hi)<<8 | uint16(lo))
}
