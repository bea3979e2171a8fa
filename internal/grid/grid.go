package grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/mcgrid/internal/monitoring"
)

// ErrDimension is returned when bounds or points do not match the grid's
// dimension.
var ErrDimension = errors.New("dimension mismatch")

// Source is the uniform random source the grid draws from.
type Source interface {
	// Uniform returns a value in [low, high).
	Uniform(low, high float64) float64
	// UniformIndex returns an integer in [0, n).
	UniformIndex(n int) int
	// Coin returns true with probability one half.
	Coin() bool
}

// Config describes a grid's domain and adaptation budget.
type Config struct {
	Lower     []float64 // per-axis lower domain bound
	Upper     []float64 // per-axis upper domain bound
	Mode      Mode
	MaxLeaves int // leaf budget; Adapt moves resolution around once reached
}

// Validate checks that the configuration describes a non-empty box and a
// positive leaf budget.
func (c Config) Validate() error {
	if len(c.Lower) == 0 {
		return fmt.Errorf("grid needs at least one dimension")
	}
	if len(c.Lower) != len(c.Upper) {
		return fmt.Errorf("%w: %d lower bounds, %d upper bounds", ErrDimension, len(c.Lower), len(c.Upper))
	}
	for i := range c.Lower {
		lo, hi := c.Lower[i], c.Upper[i]
		if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
			return fmt.Errorf("axis %d: bounds must be finite, got [%g, %g]", i, lo, hi)
		}
		if !(hi > lo) {
			return fmt.Errorf("axis %d: upper bound %g must exceed lower bound %g", i, hi, lo)
		}
	}
	if !c.Mode.valid() {
		return fmt.Errorf("invalid mode %v", c.Mode)
	}
	if c.MaxLeaves < 1 {
		return fmt.Errorf("MaxLeaves must be at least 1, got %d", c.MaxLeaves)
	}
	return nil
}

// Grid is an adaptive importance sampler over a rectangular domain. The
// domain is partitioned by a binary tree of axis-aligned bins; points are
// drawn from leaves with probability proportional to their weights, and
// Adapt moves resolution towards high-weight regions.
//
// A Grid is not safe for concurrent use. Drive it from one goroutine in
// the order Generate, Update, and periodically Adapt.
type Grid struct {
	lower, upper, span []float64
	mode               Mode
	maxLeaves          int
	src                Source

	arena  arena
	root   binID
	leaves int

	// current is the leaf that produced the last sample and point the
	// sample itself; Update feeds both into the leaf's statistics.
	current binID
	point   []float64

	subgrids []*SubGrid
}

// New creates a grid with a single root leaf covering the whole domain.
func New(cfg Config, src Source) (*Grid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("grid needs a random source")
	}
	g := newGrid(cfg, src)
	g.root = g.newBin(rootKey(len(g.span)), noBin)
	g.leaves = 1
	g.resetBin(g.root)
	return g, nil
}

func rootKey(dim int) []uint64 {
	key := make([]uint64, dim)
	for i := range key {
		key[i] = 1
	}
	return key
}

// newGrid builds a grid without a root; Load attaches one itself.
func newGrid(cfg Config, src Source) *Grid {
	dim := len(cfg.Lower)
	g := &Grid{
		lower:     append([]float64(nil), cfg.Lower...),
		upper:     append([]float64(nil), cfg.Upper...),
		span:      make([]float64, dim),
		mode:      cfg.Mode,
		maxLeaves: cfg.MaxLeaves,
		src:       src,
		root:      noBin,
		current:   noBin,
	}
	for i := range g.span {
		g.span[i] = g.upper[i] - g.lower[i]
	}
	return g
}

// Dim returns the number of axes.
func (g *Grid) Dim() int { return len(g.span) }

// Mode returns the weighting mode.
func (g *Grid) Mode() Mode { return g.mode }

// MaxLeaves returns the leaf budget.
func (g *Grid) MaxLeaves() int { return g.maxLeaves }

// Bounds returns copies of the domain bounds.
func (g *Grid) Bounds() (lower, upper []float64) {
	return append([]float64(nil), g.lower...), append([]float64(nil), g.upper...)
}

// Volume returns the volume of the whole domain.
func (g *Grid) Volume() float64 { return g.bin(g.root).volume }

// Norm returns the total weight. A sample's absolute density correction
// is Norm()*weight, where weight is what Generate reports.
func (g *Grid) Norm() float64 { return g.bin(g.root).weight }

// BinCount returns the number of bins in the tree, leaves and internal.
func (g *Grid) BinCount() int { return g.arena.live }

// LeafCount returns the number of leaves.
func (g *Grid) LeafCount() int { return g.leaves }

// Generate draws a point with probability proportional to the leaf
// weights and reports its importance weight volume/weight of the leaf it
// came from. The leaf becomes the target of the next Update.
func (g *Grid) Generate() (point []float64, weight float64, ok bool) {
	total := g.Norm()
	if !(total > 0) || math.IsInf(total, 0) {
		monitoring.Warnf("[grid] cannot generate: total weight is %g", total)
		return nil, 0, false
	}
	id := g.findWeight(g.root, g.src.Uniform(0, total))
	if id == noBin {
		return nil, 0, false
	}
	point = make([]float64, g.Dim())
	if !g.generate(id, point, nil, nil) {
		monitoring.Warnf("[grid] leaf %v has an empty extent", g.bin(id).key)
		return nil, 0, false
	}
	b := g.bin(id)
	if !(b.weight > 0) {
		monitoring.Warnf("[grid] selected leaf %v has weight %g", b.key, b.weight)
		return nil, 0, false
	}
	g.setCurrent(id, point)
	return point, b.volume / b.weight, true
}

func (g *Grid) setCurrent(id binID, point []float64) {
	g.current = id
	g.point = append(g.point[:0], point...)
}

// EvaluateWeight reports the importance weight Generate would have
// reported for a point drawn at x. Points outside the domain are rejected
// with a zero weight.
func (g *Grid) EvaluateWeight(x []float64) (float64, bool) {
	id := g.locate(x, nil)
	if id == noBin {
		return 0, false
	}
	b := g.bin(id)
	if !(b.weight > 0) {
		return 0, false
	}
	return b.volume / b.weight, true
}

// locate checks x against the whole domain and then descends to its leaf.
func (g *Grid) locate(x []float64, left *float64) binID {
	if len(x) != g.Dim() {
		monitoring.Warnf("[grid] point has %d coordinates, grid has %d axes", len(x), g.Dim())
		return noBin
	}
	for i, v := range x {
		if !(v >= g.lower[i] && v <= g.upper[i]) {
			monitoring.Warnf("[grid] point %v outside domain on axis %d", x, i)
			return noBin
		}
	}
	return g.findPoint(g.root, x, left)
}

// Update records value for the most recently generated point. It does
// nothing if no sample is outstanding or value is NaN or infinite.
func (g *Grid) Update(value float64) {
	if g.current == noBin {
		return
	}
	g.update(g.current, g.point, value)
}

// UpdateAt records value for a point produced outside the grid. It
// returns false if x is outside the domain.
func (g *Grid) UpdateAt(x []float64, value float64) bool {
	id := g.locate(x, nil)
	if id == noBin {
		return false
	}
	return g.update(id, x, value)
}

// Adapt recomputes every weight and then makes at most one structural
// change. Below the leaf budget the heaviest leaf is split. At the budget
// the lightest bin whose children are both leaves is merged and the
// heaviest leaf is split, keeping the leaf count constant; the round is
// skipped when the two candidates overlap.
func (g *Grid) Adapt() {
	g.adaptBin(g.root)
	defer g.notify()

	hi := g.maxLeaf()
	if hi == noBin {
		monitoring.Warnf("[grid] adapt: no leaf has a comparable weight, skipping round")
		return
	}
	if g.leaves < g.maxLeaves {
		if g.split(hi) {
			g.moveCurrentAfterSplit(hi)
		}
		return
	}

	lo := g.minTwig()
	switch {
	case lo == noBin:
		monitoring.Debugf("[grid] adapt: no mergeable bin, skipping round")
		return
	case g.isAncestor(lo, hi):
		monitoring.Debugf("[grid] adapt: merge candidate %v contains split candidate %v, skipping round",
			g.bin(lo).key, g.bin(hi).key)
		return
	case !g.canSplit(hi):
		monitoring.Warnf("[grid] adapt: split candidate %v cannot be split, skipping round", g.bin(hi).key)
		return
	}

	if g.current != noBin && g.isAncestor(lo, g.current) {
		g.current = lo
	}
	g.merge(lo)
	if g.split(hi) {
		g.moveCurrentAfterSplit(hi)
	}
}

func (g *Grid) moveCurrentAfterSplit(id binID) {
	if g.current != id {
		return
	}
	c := g.bin(id).child
	if g.src.Coin() {
		g.current = c[1]
	} else {
		g.current = c[0]
	}
}

// maxLeaf returns the heaviest leaf, choosing uniformly among exact ties.
func (g *Grid) maxLeaf() binID {
	best := math.Inf(-1)
	var ties []binID
	g.walk(func(id binID, b *bin) {
		if !b.isLeaf() {
			return
		}
		switch {
		case b.weight > best:
			best = b.weight
			ties = append(ties[:0], id)
		case b.weight == best:
			ties = append(ties, id)
		}
	})
	return g.pick(ties)
}

// minTwig returns the lightest bin whose two children are leaves.
func (g *Grid) minTwig() binID {
	best := math.Inf(1)
	var ties []binID
	g.walk(func(id binID, b *bin) {
		if b.isLeaf() || !g.bin(b.child[0]).isLeaf() || !g.bin(b.child[1]).isLeaf() {
			return
		}
		switch {
		case b.weight < best:
			best = b.weight
			ties = append(ties[:0], id)
		case b.weight == best:
			ties = append(ties, id)
		}
	})
	return g.pick(ties)
}

func (g *Grid) pick(ids []binID) binID {
	switch len(ids) {
	case 0:
		return noBin
	case 1:
		return ids[0]
	}
	return ids[g.src.UniformIndex(len(ids))]
}

// walk visits every bin in pre-order without recursion.
func (g *Grid) walk(fn func(id binID, b *bin)) {
	if g.root == noBin {
		return
	}
	stack := []binID{g.root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		b := g.bin(id)
		fn(id, b)
		if !b.isLeaf() {
			stack = append(stack, b.child[1], b.child[0])
		}
	}
}

// Reset discards all statistics and collapses the tree to its root.
func (g *Grid) Reset() {
	g.resetBin(g.root)
	g.current = noBin
	g.point = g.point[:0]
	g.notify()
}

// SplitBin splits a leaf. It returns false and leaves the tree unchanged
// if b is not a leaf of this grid, is at maximum depth, or the grid is at
// its leaf budget.
func (g *Grid) SplitBin(b Bin) bool {
	if !g.owns(b) {
		return false
	}
	if g.leaves >= g.maxLeaves {
		monitoring.Warnf("[grid] split refused: leaf budget %d reached", g.maxLeaves)
		return false
	}
	if !g.split(b.id) {
		return false
	}
	g.moveCurrentAfterSplit(b.id)
	g.notify()
	return true
}

// MergeBin removes every descendant of b.
func (g *Grid) MergeBin(b Bin) {
	if !g.owns(b) {
		return
	}
	if g.current != noBin && g.isAncestor(b.id, g.current) {
		g.current = b.id
	}
	if g.merge(b.id) > 0 {
		g.notify()
	}
}

func (g *Grid) owns(b Bin) bool {
	return b.g == g && b.id >= 0 && int(b.id) < len(g.arena.bins) && g.bin(b.id).live
}

func (g *Grid) register(sg *SubGrid) { g.subgrids = append(g.subgrids, sg) }

func (g *Grid) unregister(sg *SubGrid) {
	for i, s := range g.subgrids {
		if s == sg {
			g.subgrids = append(g.subgrids[:i], g.subgrids[i+1:]...)
			return
		}
	}
}

// notify refreshes the cached integral bounds of every registered SubGrid.
func (g *Grid) notify() {
	for _, sg := range g.subgrids {
		sg.Refresh()
	}
}
