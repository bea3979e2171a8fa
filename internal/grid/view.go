package grid

import (
	"iter"
)

// Bin is a read-only view of one cell of a Grid. A Bin value is only
// meaningful until the next structural change (Adapt, Reset, MergeBin,
// SplitBin) of its grid; Valid reports whether it still refers to a live
// cell.
type Bin struct {
	g  *Grid
	id binID
}

// Root returns the bin covering the whole domain.
func (g *Grid) Root() Bin { return Bin{g: g, id: g.root} }

// Current returns the leaf that produced the last sample, if any.
func (g *Grid) Current() (Bin, bool) {
	if g.current == noBin {
		return Bin{}, false
	}
	return Bin{g: g, id: g.current}, true
}

// FindPoint returns the leaf containing x.
func (g *Grid) FindPoint(x []float64) (Bin, bool) {
	id := g.locate(x, nil)
	if id == noBin {
		return Bin{}, false
	}
	return Bin{g: g, id: id}, true
}

// FindWeight returns the leaf whose slice of the cumulative weight
// contains t, for t in [0, Norm()].
func (g *Grid) FindWeight(t float64) (Bin, bool) {
	id := g.findWeight(g.root, t)
	if id == noBin {
		return Bin{}, false
	}
	return Bin{g: g, id: id}, true
}

// Bins yields every bin in pre-order: a bin, then its first child's
// subtree, then its second child's.
func (g *Grid) Bins() iter.Seq[Bin] {
	return func(yield func(Bin) bool) {
		if g.root == noBin {
			return
		}
		stack := []binID{g.root}
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !yield(Bin{g: g, id: id}) {
				return
			}
			if b := g.bin(id); !b.isLeaf() {
				stack = append(stack, b.child[1], b.child[0])
			}
		}
	}
}

// Leaves yields the leaves in the same order as Bins.
func (g *Grid) Leaves() iter.Seq[Bin] {
	return func(yield func(Bin) bool) {
		for b := range g.Bins() {
			if b.IsLeaf() && !yield(b) {
				return
			}
		}
	}
}

func (b Bin) get() *bin { return b.g.bin(b.id) }

// Valid reports whether b refers to a live bin.
func (b Bin) Valid() bool { return b.g != nil && b.g.owns(b) }

// IsLeaf reports whether b has no children.
func (b Bin) IsLeaf() bool { return b.get().isLeaf() }

// Axis returns the axis b splits along.
func (b Bin) Axis() int { return b.get().axis }

// Key returns a copy of the per-axis dyadic keys.
func (b Bin) Key() []uint64 { return append([]uint64(nil), b.get().key...) }

// Depth returns the number of halvings along axis.
func (b Bin) Depth(axis int) int { return keyDepth(b.get().key[axis]) }

// Lower returns the lower corner of the bin.
func (b Bin) Lower() []float64 {
	out := make([]float64, b.g.Dim())
	for axis := range out {
		out[axis], _ = b.g.edge(b.id, axis)
	}
	return out
}

// Upper returns the upper corner of the bin.
func (b Bin) Upper() []float64 {
	out := make([]float64, b.g.Dim())
	for axis := range out {
		_, out[axis] = b.g.edge(b.id, axis)
	}
	return out
}

// Width returns the edge length along axis.
func (b Bin) Width(axis int) float64 { return b.g.width(b.id, axis) }

// Volume returns the product of the bin's edge lengths.
func (b Bin) Volume() float64 { return b.get().volume }

// Weight returns the bin's sampling weight as of the last Adapt.
func (b Bin) Weight() float64 { return b.get().weight }

// ImportanceWeight returns Volume/Weight, the factor Generate reports for
// points drawn from this bin.
func (b Bin) ImportanceWeight() float64 {
	bb := b.get()
	return bb.volume / bb.weight
}

// Count returns the (possibly fractional) number of observations.
func (b Bin) Count() float64 { return b.get().f0 }

// Sum returns the sum of observed values.
func (b Bin) Sum() float64 { return b.get().f1 }

// SumSquares returns the sum of squared observed values (variance mode).
func (b Bin) SumSquares() float64 { return b.get().f2 }

// Max returns the running maxima over the whole bin and its lower and
// upper halves along the split axis (maximum mode).
func (b Bin) Max() (whole, lower, upper float64) {
	bb := b.get()
	return bb.fmax, bb.fmax1, bb.fmax2
}

// Parent returns the bin b was split from.
func (b Bin) Parent() (Bin, bool) {
	p := b.get().parent
	if p == noBin {
		return Bin{}, false
	}
	return Bin{g: b.g, id: p}, true
}

// Children returns b's two children, or false for a leaf.
func (b Bin) Children() (Bin, Bin, bool) {
	bb := b.get()
	if bb.isLeaf() {
		return Bin{}, Bin{}, false
	}
	return Bin{g: b.g, id: bb.child[0]}, Bin{g: b.g, id: bb.child[1]}, true
}

// Contains reports whether x lies inside the closed box of b.
func (b Bin) Contains(x []float64) bool {
	if len(x) != b.g.Dim() {
		return false
	}
	for axis, v := range x {
		lo, hi := b.g.edge(b.id, axis)
		if v < lo || v > hi {
			return false
		}
	}
	return true
}
