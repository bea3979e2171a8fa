package grid

import (
	"math"
	"math/bits"

	"github.com/banshee-data/mcgrid/internal/monitoring"
)

// MaxDepth is the deepest dyadic level a bin may reach along any one axis.
// Bin edges are computed from float64(index), which must stay exact for
// the midpoint index 2*idx+1 of the deepest splittable bin.
const MaxDepth = 52

// binID addresses a bin in the Grid's arena. IDs are stable for the
// lifetime of the bin; released IDs are recycled through the free list.
type binID int32

const noBin binID = -1

// stats holds a bin's accumulated observations. f2 is only maintained in
// variance mode, the maxima only in maximum mode.
type stats struct {
	f0    float64 // number of observations (halved on split, so not integral)
	f1    float64 // sum of values
	f2    float64 // sum of squared values
	fmax  float64 // largest value over the whole bin
	fmax1 float64 // largest value in the lower half along the split axis
	fmax2 float64 // largest value in the upper half along the split axis
}

type bin struct {
	key    []uint64 // per axis: 1<<depth | index
	axis   int      // split axis, fixed when the bin is created
	parent binID
	child  [2]binID
	volume float64
	weight float64
	stats
	live bool
}

func (b *bin) isLeaf() bool { return b.child[0] == noBin }

// arena owns every bin of one Grid. Children are referenced by index so
// that merge is a walk that returns indices to the free list.
type arena struct {
	bins []bin
	free []binID
	live int
}

func (a *arena) alloc(dim int) binID {
	var id binID
	if n := len(a.free); n > 0 {
		id = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.bins = append(a.bins, bin{})
		id = binID(len(a.bins) - 1)
	}
	b := &a.bins[id]
	key := b.key[:0]
	for i := 0; i < dim; i++ {
		key = append(key, 1)
	}
	*b = bin{key: key, parent: noBin, child: [2]binID{noBin, noBin}, live: true}
	a.live++
	return id
}

func (a *arena) release(id binID) {
	b := &a.bins[id]
	b.live = false
	b.child = [2]binID{noBin, noBin}
	b.parent = noBin
	a.free = append(a.free, id)
	a.live--
}

func keyDepth(k uint64) int { return bits.Len64(k) - 1 }

func (g *Grid) bin(id binID) *bin { return &g.arena.bins[id] }

// edge returns the lower and upper bound of bin id along axis. Both are
// computed from the dyadic index so that siblings share their boundary
// exactly.
func (g *Grid) edge(id binID, axis int) (lo, hi float64) {
	k := g.bin(id).key[axis]
	d := keyDepth(k)
	idx := k - 1<<uint(d)
	lo = g.lower[axis] + math.Ldexp(g.span[axis]*float64(idx), -d)
	hi = g.lower[axis] + math.Ldexp(g.span[axis]*float64(idx+1), -d)
	if idx+1 == 1<<uint(d) {
		hi = g.upper[axis]
	}
	return lo, hi
}

func (g *Grid) width(id binID, axis int) float64 {
	return math.Ldexp(g.span[axis], -keyDepth(g.bin(id).key[axis]))
}

// midpoint is the boundary between the two children along the bin's own
// split axis, computed the same way as the children's edges.
func (g *Grid) midpoint(id binID) float64 {
	b := g.bin(id)
	k := b.key[b.axis]
	d := keyDepth(k)
	idx := k - 1<<uint(d)
	return g.lower[b.axis] + math.Ldexp(g.span[b.axis]*float64(2*idx+1), -(d+1))
}

func (g *Grid) computeVolume(id binID) float64 {
	v := 1.0
	for axis := range g.span {
		v *= g.width(id, axis)
	}
	return v
}

// chooseAxis picks the axis with the largest current edge, breaking exact
// ties uniformly at random.
func (g *Grid) chooseAxis(id binID) int {
	best := math.Inf(-1)
	var ties []int
	for axis := range g.span {
		w := g.width(id, axis)
		switch {
		case w > best:
			best = w
			ties = append(ties[:0], axis)
		case w == best:
			ties = append(ties, axis)
		}
	}
	if len(ties) == 1 {
		return ties[0]
	}
	return ties[g.src.UniformIndex(len(ties))]
}

// newBin allocates a bin with the given key, derives its volume and fixes
// its split axis.
func (g *Grid) newBin(key []uint64, parent binID) binID {
	id := g.arena.alloc(len(g.span))
	b := g.bin(id)
	copy(b.key, key)
	b.parent = parent
	b.volume = g.computeVolume(id)
	b.axis = g.chooseAxis(id)
	return id
}

func (g *Grid) canSplit(id binID) bool {
	b := g.bin(id)
	return b.isLeaf() && keyDepth(b.key[b.axis]) < MaxDepth
}

// split gives a leaf two children along its split axis. The children
// inherit half of the parent's statistics and weight. In maximum mode the
// parent's half maxima seed the children and the new weights are pushed
// up through every ancestor at once.
func (g *Grid) split(id binID) bool {
	b := g.bin(id)
	if !b.isLeaf() {
		monitoring.Warnf("[grid] split refused: bin %v is not a leaf", b.key)
		return false
	}
	if d := keyDepth(b.key[b.axis]); d >= MaxDepth {
		monitoring.Warnf("[grid] split refused: bin %v at maximum depth %d on axis %d", b.key, d, b.axis)
		return false
	}

	axis := b.axis
	key := append([]uint64(nil), b.key...)
	key[axis] *= 2
	c1 := g.newBin(key, id)
	key[axis]++
	c2 := g.newBin(key, id)

	// alloc may have grown the arena, so re-fetch.
	b = g.bin(id)
	b.child = [2]binID{c1, c2}
	half := stats{f0: b.f0 / 2, f1: b.f1 / 2, f2: b.f2 / 2}
	for i, c := range b.child {
		cb := g.bin(c)
		cb.stats = half
		cb.weight = b.weight / 2
		if g.mode == ModeMaximum {
			m := b.fmax1
			if i == 1 {
				m = b.fmax2
			}
			cb.fmax, cb.fmax1, cb.fmax2 = m, m, m
			cb.weight = g.mode.leafWeight(cb.volume, &cb.stats)
		}
	}
	g.leaves++
	if g.mode == ModeMaximum {
		g.propagateUp(id)
	}
	return true
}

// propagateUp re-sums weights from id to the root.
func (g *Grid) propagateUp(id binID) {
	for ; id != noBin; id = g.bin(id).parent {
		b := g.bin(id)
		if b.isLeaf() {
			continue
		}
		b.weight = g.bin(b.child[0]).weight + g.bin(b.child[1]).weight
	}
}

// merge frees every descendant of id, leaving it a leaf. Its own
// statistics already describe the union and are kept. It returns the number
// of leaves removed from the tree.
func (g *Grid) merge(id binID) int {
	b := g.bin(id)
	if b.isLeaf() {
		return 0
	}
	removed := 0
	stack := []binID{b.child[0], b.child[1]}
	b.child = [2]binID{noBin, noBin}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		cb := g.bin(c)
		if cb.isLeaf() {
			removed++
		} else {
			stack = append(stack, cb.child[0], cb.child[1])
		}
		g.arena.release(c)
	}
	// The merged bin is itself a new leaf.
	removed--
	g.leaves -= removed
	return removed
}

func (g *Grid) resetBin(id binID) {
	g.merge(id)
	b := g.bin(id)
	b.stats = stats{}
	b.weight = b.volume
}

// update records one observation in a leaf. Non-finite values are refused.
// x is only consulted in maximum mode, to route value into the half maximum
// along the split axis.
func (g *Grid) update(id binID, x []float64, value float64) bool {
	b := g.bin(id)
	if !b.isLeaf() {
		monitoring.Warnf("[grid] update refused: bin %v is not a leaf", b.key)
		return false
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		monitoring.Warnf("[grid] update refused: non-finite value %g for bin %v", value, b.key)
		return false
	}
	b.f0++
	b.f1 += value
	if g.mode.tracksSquares() {
		b.f2 += value * value
	}
	if g.mode.tracksMaxima() {
		b.fmax = math.Max(b.fmax, value)
		if x != nil && x[b.axis] < g.midpoint(id) {
			b.fmax1 = math.Max(b.fmax1, value)
		} else {
			b.fmax2 = math.Max(b.fmax2, value)
		}
	}
	return true
}

// adaptBin recomputes weights bottom-up. Leaves apply the mode's weight
// formula; internal bins take the sums over their children so that a deep
// local change reaches the root.
func (g *Grid) adaptBin(id binID) {
	b := g.bin(id)
	if b.isLeaf() {
		b.weight = g.mode.leafWeight(b.volume, &b.stats)
		return
	}
	g.adaptBin(b.child[0])
	g.adaptBin(b.child[1])
	s1, s2 := g.bin(b.child[0]), g.bin(b.child[1])
	b.stats = stats{
		f0:    s1.f0 + s2.f0,
		f1:    s1.f1 + s2.f1,
		f2:    s1.f2 + s2.f2,
		fmax:  math.Max(s1.fmax, s2.fmax),
		fmax1: s1.fmax,
		fmax2: s2.fmax,
	}
	b.weight = s1.weight + s2.weight
}

// generate draws a point uniformly inside bin id, or inside its
// intersection with [lo, hi] when a restriction box is given. It fails
// when the intersection is empty along any axis.
func (g *Grid) generate(id binID, point, lo, hi []float64) bool {
	for axis := range g.span {
		a, b := g.edge(id, axis)
		if lo != nil {
			a = math.Max(a, lo[axis])
			b = math.Min(b, hi[axis])
		}
		if a >= b {
			return false
		}
		point[axis] = g.src.Uniform(a, b)
	}
	return true
}

// findPoint descends from id to the leaf containing x. When left is not
// nil, the weight of every left sibling passed on the way is added to it.
func (g *Grid) findPoint(id binID, x []float64, left *float64) binID {
	for {
		b := g.bin(id)
		lo, hi := g.edge(id, b.axis)
		if v := x[b.axis]; v < lo || v > hi || math.IsNaN(v) {
			monitoring.Warnf("[grid] point %v outside bin %v on axis %d [%g, %g]", x, b.key, b.axis, lo, hi)
			return noBin
		}
		if b.isLeaf() {
			return id
		}
		if x[b.axis] < g.midpoint(id) {
			id = b.child[0]
			continue
		}
		if left != nil {
			*left += g.bin(b.child[0]).weight
		}
		id = b.child[1]
	}
}

// findWeight is the inverse-CDF search over the weight-annotated tree.
func (g *Grid) findWeight(id binID, t float64) binID {
	if w := g.bin(id).weight; t < 0 || t > w || math.IsNaN(t) {
		monitoring.Warnf("[grid] weight threshold %g outside [0, %g]", t, w)
		return noBin
	}
	for {
		b := g.bin(id)
		if b.isLeaf() {
			return id
		}
		w1 := g.bin(b.child[0]).weight
		w2 := g.bin(b.child[1]).weight
		if t < w1 || (w2 <= 0 && w1 > 0) {
			id = b.child[0]
			continue
		}
		t -= w1
		id = b.child[1]
	}
}

// isAncestor reports whether a is a strict ancestor of b.
func (g *Grid) isAncestor(a, b binID) bool {
	for p := g.bin(b).parent; p != noBin; p = g.bin(p).parent {
		if p == a {
			return true
		}
	}
	return false
}
