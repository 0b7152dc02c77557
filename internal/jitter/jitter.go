// Package jitter provides the seedable randomness behind every humanized
// behavior: timing spreads, integer draws, Bernoulli decisions and 2D click
// offsets. A Source is an explicit instance handed to each component, never a
// package singleton, so tests can pin a seed and reproduce a session exactly.
package jitter

import (
	"math"
	"math/rand"
	"time"

	"github.com/aquilax/go-perlin"
)

// Perlin parameters shared by both noise axes.
const (
	perlinAlpha = 2.0
	perlinBeta  = 2.0
	perlinN     = 3
)

// Source generates all randomized values for one session.
type Source struct {
	rng    *rand.Rand
	noiseX *perlin.Perlin
	noiseY *perlin.Perlin
	t      float64
}

// NewSource creates a Source. A zero seed selects process entropy; any other
// value makes the Source fully deterministic.
func NewSource(seed int64) *Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Source{
		rng:    rand.New(rand.NewSource(seed)),
		noiseX: perlin.NewPerlin(perlinAlpha, perlinBeta, perlinN, seed),
		noiseY: perlin.NewPerlin(perlinAlpha, perlinBeta, perlinN, seed+1),
	}
}

// Duration draws uniformly from [mean-spread, mean+spread] milliseconds,
// floored at zero.
func (s *Source) Duration(mean, spread float64) time.Duration {
	ms := mean + (s.rng.Float64()*2-1)*spread
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// IntBetween draws an inclusive uniform integer from [from, to]. The bounds
// may be given in either order.
func (s *Source) IntBetween(from, to int) int {
	if from > to {
		from, to = to, from
	}
	return from + s.rng.Intn(to-from+1)
}

// Bool performs a Bernoulli draw with the given probability of true. Values
// outside [0, 1] are clamped.
func (s *Source) Bool(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return s.rng.Float64() < p
}

// Float64 exposes a raw uniform draw in [0, 1) for callers composing their
// own distributions.
func (s *Source) Float64() float64 {
	return s.rng.Float64()
}

// Offset produces a 2D click offset bounded by radius. The offset follows a
// perlin noise walk rather than white noise, so consecutive clicks drift the
// way a resting hand does instead of scattering independently.
func (s *Source) Offset(radius float64) (dx, dy float64) {
	if radius <= 0 {
		return 0, 0
	}
	s.t += 0.1 + s.rng.Float64()*0.15
	dx = s.noiseX.Noise1D(s.t) * radius
	dy = s.noiseY.Noise1D(s.t) * radius
	// Clamp to the jitter circle; perlin output can exceed [-1, 1] slightly.
	if d := math.Hypot(dx, dy); d > radius {
		dx, dy = dx/d*radius, dy/d*radius
	}
	return dx, dy
}
