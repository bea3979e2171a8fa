package grid

import (
	"fmt"

	"github.com/banshee-data/mcgrid/internal/monitoring"
)

// maxSubGridRetries bounds the redraws when a threshold lands on a leaf
// that only touches [a,b] at a single point.
const maxSubGridRetries = 8

// SubGrid samples a one-dimensional Grid restricted to [a,b]. It keeps no
// statistics of its own: Update and Adapt go straight to the parent, and
// the parent refreshes the SubGrid's cached integral bounds after every
// structural change. Close the SubGrid before dropping it.
type SubGrid struct {
	g          *Grid
	a, b       float64
	smin, smax float64
	closed     bool
}

// NewSubGrid registers a view of g restricted to [a,b].
func NewSubGrid(g *Grid, a, b float64) (*SubGrid, error) {
	if g == nil {
		return nil, fmt.Errorf("subgrid needs a parent grid")
	}
	if g.Dim() != 1 {
		return nil, fmt.Errorf("%w: subgrids need a one-dimensional grid, got %d axes", ErrDimension, g.Dim())
	}
	sg := &SubGrid{g: g}
	if err := sg.SetBounds(a, b); err != nil {
		return nil, err
	}
	g.register(sg)
	return sg, nil
}

// SetBounds moves the view to [a,b] and refreshes the cached bounds.
func (sg *SubGrid) SetBounds(a, b float64) error {
	lo, hi := sg.g.lower[0], sg.g.upper[0]
	if !(a >= lo && b <= hi && a < b) {
		return fmt.Errorf("subgrid bounds [%g, %g] must be an increasing interval inside [%g, %g]", a, b, lo, hi)
	}
	sg.a, sg.b = a, b
	sg.Refresh()
	return nil
}

// Bounds returns [a,b].
func (sg *SubGrid) Bounds() (a, b float64) { return sg.a, sg.b }

// Span returns the cached cumulative weight at a and b.
func (sg *SubGrid) Span() (smin, smax float64) { return sg.smin, sg.smax }

// Norm returns the total parent weight inside [a,b].
func (sg *SubGrid) Norm() float64 { return sg.smax - sg.smin }

// Refresh recomputes the cumulative weight at both bounds. The parent
// calls it after Adapt, Reset and structural edits.
func (sg *SubGrid) Refresh() {
	sg.smin = sg.leftIntegral(sg.a)
	sg.smax = sg.leftIntegral(sg.b)
}

// leftIntegral returns the parent's weight to the left of x: every leaf
// wholly left of x plus the proportional share of the leaf containing it.
func (sg *SubGrid) leftIntegral(x float64) float64 {
	left := 0.0
	id := sg.g.locate([]float64{x}, &left)
	if id == noBin {
		return left
	}
	lo, hi := sg.g.edge(id, 0)
	if hi > lo {
		left += sg.g.bin(id).weight * (x - lo) / (hi - lo)
	}
	return left
}

// Generate draws a point in [a,b] from the parent's weight distribution
// and reports the importance weight (smax-smin)*volume/weight of the
// parent leaf it landed in. The leaf becomes the parent's current bin.
func (sg *SubGrid) Generate() (float64, float64, bool) {
	if sg.closed {
		return 0, 0, false
	}
	if !(sg.smax > sg.smin) {
		monitoring.Warnf("[subgrid] cannot generate: empty weight range [%g, %g]", sg.smin, sg.smax)
		return 0, 0, false
	}
	g := sg.g
	point := []float64{0}
	box := [2][]float64{{sg.a}, {sg.b}}
	for attempt := 0; attempt < maxSubGridRetries; attempt++ {
		id := g.findWeight(g.root, g.src.Uniform(sg.smin, sg.smax))
		if id == noBin {
			continue
		}
		if !g.generate(id, point, box[0], box[1]) {
			continue
		}
		b := g.bin(id)
		if !(b.weight > 0) {
			continue
		}
		g.setCurrent(id, point)
		return point[0], (sg.smax - sg.smin) * (b.volume / b.weight), true
	}
	monitoring.Warnf("[subgrid] no sample inside [%g, %g] after %d attempts", sg.a, sg.b, maxSubGridRetries)
	return 0, 0, false
}

// EvaluateWeight reports the weight Generate would have reported at x, or
// false if x is outside [a,b].
func (sg *SubGrid) EvaluateWeight(x float64) (float64, bool) {
	if x < sg.a || x > sg.b {
		return 0, false
	}
	w, ok := sg.g.EvaluateWeight([]float64{x})
	if !ok {
		return 0, false
	}
	return (sg.smax - sg.smin) * w, true
}

// Update forwards to the parent grid.
func (sg *SubGrid) Update(value float64) { sg.g.Update(value) }

// Adapt forwards to the parent grid.
func (sg *SubGrid) Adapt() { sg.g.Adapt() }

// Grid returns the parent grid.
func (sg *SubGrid) Grid() *Grid { return sg.g }

// Close unregisters the SubGrid from its parent. Further Generate calls
// fail.
func (sg *SubGrid) Close() {
	if sg.closed {
		return
	}
	sg.g.unregister(sg)
	sg.closed = true
}
