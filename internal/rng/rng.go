// Package rng provides the uniform random source consumed by the grid.
package rng

import (
	"math/rand/v2"
	"time"
)

// Rand is a seeded uniform random source. It is not safe for concurrent use.
type Rand struct {
	r *rand.Rand
}

// New returns a source seeded with seed. A zero seed is replaced by the
// current time so that unseeded runs differ.
func New(seed uint64) *Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Rand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Uniform returns a value in [low, high). If high <= low it returns low.
func (s *Rand) Uniform(low, high float64) float64 {
	if high <= low {
		return low
	}
	v := low + (high-low)*s.r.Float64()
	// Rounding can land exactly on high for very narrow intervals.
	if v >= high {
		return low
	}
	return v
}

// UniformIndex returns an integer in [0, n). n must be positive.
func (s *Rand) UniformIndex(n int) int {
	return s.r.IntN(n)
}

// Coin returns true with probability one half.
func (s *Rand) Coin() bool {
	return s.r.Uint64()&1 == 1
}
