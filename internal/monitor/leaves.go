package monitor

import (
	"cmp"
	"slices"

	"github.com/banshee-data/mcgrid/internal/grid"
)

// LeafSample is one leaf of the grid as plotted.
type LeafSample struct {
	Lower   []float64
	Upper   []float64
	Volume  float64
	Weight  float64
	Density float64 // weight per unit volume
	Count   float64
}

// Center returns the midpoint of the leaf along axis.
func (l LeafSample) Center(axis int) float64 {
	return (l.Lower[axis] + l.Upper[axis]) / 2
}

// captureLeaves copies every leaf of g, ordered by lower edge along axis 0.
func captureLeaves(g *grid.Grid) []LeafSample {
	out := make([]LeafSample, 0, g.LeafCount())
	for b := range g.Leaves() {
		l := LeafSample{
			Lower:  b.Lower(),
			Upper:  b.Upper(),
			Volume: b.Volume(),
			Weight: b.Weight(),
			Count:  b.Count(),
		}
		if l.Volume > 0 {
			l.Density = l.Weight / l.Volume
		}
		out = append(out, l)
	}
	slices.SortStableFunc(out, func(a, b LeafSample) int {
		for axis := range a.Lower {
			if c := cmp.Compare(a.Lower[axis], b.Lower[axis]); c != 0 {
				return c
			}
		}
		return 0
	})
	return out
}

// densityRange returns the smallest and largest leaf density.
func densityRange(leaves []LeafSample) (lo, hi float64) {
	for i, l := range leaves {
		if i == 0 || l.Density < lo {
			lo = l.Density
		}
		if i == 0 || l.Density > hi {
			hi = l.Density
		}
	}
	return lo, hi
}
