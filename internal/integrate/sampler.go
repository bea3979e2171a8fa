package integrate

import "github.com/banshee-data/mcgrid/internal/grid"

// sampler is what the runner draws from: a whole grid or a
// one-dimensional restriction of it. weight is absolute, so that
// weight*f(x) is an unbiased estimate of the integral over the sampled
// region.
type sampler interface {
	sample() (x []float64, weight float64, ok bool)
	update(value float64)
	adapt()
}

type gridSampler struct{ g *grid.Grid }

func (s gridSampler) sample() ([]float64, float64, bool) {
	x, w, ok := s.g.Generate()
	if !ok {
		return nil, 0, false
	}
	return x, s.g.Norm() * w, true
}

func (s gridSampler) update(value float64) { s.g.Update(value) }
func (s gridSampler) adapt()               { s.g.Adapt() }

type subGridSampler struct{ sg *grid.SubGrid }

func (s subGridSampler) sample() ([]float64, float64, bool) {
	x, w, ok := s.sg.Generate()
	if !ok {
		return nil, 0, false
	}
	return []float64{x}, w, true
}

func (s subGridSampler) update(value float64) { s.sg.Update(value) }
func (s subGridSampler) adapt()               { s.sg.Adapt() }
