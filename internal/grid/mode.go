package grid

import (
	"fmt"
	"math"
	"strings"
)

// Mode selects which statistic turns a leaf's observations into its
// sampling weight.
type Mode int

const (
	// ModeCumulant weights a leaf by volume times the mean observed value.
	ModeCumulant Mode = iota
	// ModeVariance weights a leaf by volume times the RMS observed value.
	ModeVariance
	// ModeMaximum weights a leaf by volume times the largest observed value.
	ModeMaximum
)

var modeNames = [...]string{
	ModeCumulant: "cumulant",
	ModeVariance: "variance",
	ModeMaximum:  "maximum",
}

// String returns the name used in config files and the text format.
func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range modeNames {
		if name == s {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown grid mode %q (want cumulant, variance or maximum)", s)
}

func (m Mode) valid() bool { return m >= ModeCumulant && m <= ModeMaximum }

// tracksSquares reports whether F2 is part of the persisted statistics.
func (m Mode) tracksSquares() bool { return m == ModeVariance }

// tracksMaxima reports whether fmax/fmax1/fmax2 are part of the persisted
// statistics.
func (m Mode) tracksMaxima() bool { return m == ModeMaximum }

// weightFunc computes a leaf's weight from its volume and statistics. It is
// only called with f0 > 0.
type weightFunc func(volume float64, s *stats) float64

var weightFuncs = [...]weightFunc{
	ModeCumulant: func(volume float64, s *stats) float64 {
		return volume * s.f1 / s.f0
	},
	ModeVariance: func(volume float64, s *stats) float64 {
		return volume * math.Sqrt(s.f2/s.f0)
	},
	ModeMaximum: func(volume float64, s *stats) float64 {
		return volume * s.fmax
	},
}

// leafWeight applies the mode's formula, falling back to the bare volume
// for a leaf that has not been observed yet.
func (m Mode) leafWeight(volume float64, s *stats) float64 {
	if s.f0 == 0 {
		return volume
	}
	return weightFuncs[m](volume, s)
}
