package grid

import (
	"fmt"
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/mcgrid/internal/rng"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid 1d", Config{Lower: []float64{0}, Upper: []float64{1}, MaxLeaves: 1}, false},
		{"valid 3d", Config{Lower: []float64{-1, 0, 5}, Upper: []float64{1, 2, 6}, Mode: ModeMaximum, MaxLeaves: 100}, false},
		{"no axes", Config{MaxLeaves: 4}, true},
		{"length mismatch", Config{Lower: []float64{0, 0}, Upper: []float64{1}, MaxLeaves: 4}, true},
		{"empty axis", Config{Lower: []float64{0, 1}, Upper: []float64{1, 1}, MaxLeaves: 4}, true},
		{"inverted axis", Config{Lower: []float64{1}, Upper: []float64{0}, MaxLeaves: 4}, true},
		{"nan bound", Config{Lower: []float64{math.NaN()}, Upper: []float64{1}, MaxLeaves: 4}, true},
		{"infinite bound", Config{Lower: []float64{0}, Upper: []float64{math.Inf(1)}, MaxLeaves: 4}, true},
		{"bad mode", Config{Lower: []float64{0}, Upper: []float64{1}, Mode: Mode(7), MaxLeaves: 4}, true},
		{"zero budget", Config{Lower: []float64{0}, Upper: []float64{1}, MaxLeaves: 0}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_LengthMismatchIsDimensionError(t *testing.T) {
	t.Parallel()
	err := Config{Lower: []float64{0, 0}, Upper: []float64{1}, MaxLeaves: 4}.Validate()
	assert.ErrorIs(t, err, ErrDimension)
}

func TestNew(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, []float64{0, 0}, []float64{2, 3}, ModeVariance, 8, 1)

	assert.Equal(t, 2, g.Dim())
	assert.Equal(t, ModeVariance, g.Mode())
	assert.Equal(t, 8, g.MaxLeaves())
	assert.Equal(t, 1, g.BinCount())
	assert.Equal(t, 1, g.LeafCount())
	assert.Equal(t, 6.0, g.Volume())
	assert.Equal(t, g.Volume(), g.Norm(), "fresh grid weight is its volume")

	root := g.Root()
	assert.True(t, root.IsLeaf())
	assert.Equal(t, []uint64{1, 1}, root.Key())
	assert.Equal(t, 1, root.Axis(), "longest edge of a 2x3 box")
	assert.Equal(t, []float64{0, 0}, root.Lower())
	assert.Equal(t, []float64{2, 3}, root.Upper())
	_, ok := root.Parent()
	assert.False(t, ok)
	_, ok = g.Current()
	assert.False(t, ok)

	lower, upper := g.Bounds()
	lower[0] = 99
	l2, _ := g.Bounds()
	assert.Equal(t, 0.0, l2[0], "Bounds returns copies")
	assert.Equal(t, []float64{2, 3}, upper)
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Lower: []float64{0}, Upper: []float64{1}, MaxLeaves: 2}, nil)
	assert.Error(t, err)
	_, err = New(Config{Lower: []float64{1}, Upper: []float64{0}, MaxLeaves: 2}, rng.New(1))
	assert.Error(t, err)
}

func TestAdapt_GrowsToBudgetAndHolds(t *testing.T) {
	t.Parallel()
	for _, mode := range []Mode{ModeCumulant, ModeVariance, ModeMaximum} {
		t.Run(mode.String(), func(t *testing.T) {
			t.Parallel()
			const budget = 16
			g := newTestGrid(t, []float64{0, 0}, []float64{1, 1}, mode, budget, 11)
			round := 0
			drive(t, g, 40, 60, peak, func() {
				round++
				checkTree(t, g)
				checkWeights(t, g)
				assert.Equal(t, min(1+round, budget), g.LeafCount(), "round %d", round)
			})
		})
	}
}

func TestAdapt_ConcentratesOnPeak(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, []float64{0}, []float64{1}, ModeCumulant, 32, 12)
	drive(t, g, 60, 200, peak, nil)

	atPeak, ok := g.FindPoint([]float64{0.7})
	require.True(t, ok)
	far, ok := g.FindPoint([]float64{0.1})
	require.True(t, ok)
	assert.Less(t, atPeak.Width(0), far.Width(0))
	assert.Greater(t, atPeak.Weight()/atPeak.Volume(), far.Weight()/far.Volume())
}

// Two adapts on [0,1] with a budget of four: the first splits the root, the
// observations at 0.9 then make the right half the heaviest leaf.
func TestAdapt_SplitsHeaviestLeaf(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, []float64{0}, []float64{1}, ModeCumulant, 4, 1)

	g.Adapt()
	require.Equal(t, 2, g.LeafCount())
	for i := 0; i < 3; i++ {
		require.True(t, g.UpdateAt([]float64{0.9}, 10))
	}
	g.Adapt()

	assert.Equal(t, 3, g.LeafCount())
	right, ok := g.FindPoint([]float64{0.9})
	require.True(t, ok)
	assert.Equal(t, 0.25, right.Width(0))
	assert.Equal(t, []float64{0.75}, right.Lower())
	left, ok := g.FindPoint([]float64{0.1})
	require.True(t, ok)
	assert.Equal(t, 0.5, left.Width(0))
	checkTree(t, g)
}

// atBudget builds a three-leaf grid on [0,1]: [0,0.5] plus the right half
// split in two, with the right half carrying all the weight.
func atBudget(t *testing.T, seed uint64) *Grid {
	t.Helper()
	g := newTestGrid(t, []float64{0}, []float64{1}, ModeCumulant, 3, seed)
	require.True(t, g.UpdateAt([]float64{0.1}, 1))
	require.True(t, g.SplitBin(g.Root()))
	require.True(t, g.UpdateAt([]float64{0.9}, 10))
	g.Adapt()
	require.Equal(t, 3, g.LeafCount())
	right, ok := g.FindPoint([]float64{0.9})
	require.True(t, ok)
	require.Equal(t, 0.25, right.Width(0))
	return g
}

func TestAdapt_AtBudgetMovesResolution(t *testing.T) {
	t.Parallel()
	g := atBudget(t, 2)

	// The left half becomes the heaviest leaf; the right twig is the
	// lightest mergeable bin.
	require.True(t, g.UpdateAt([]float64{0.2}, 100))
	g.Adapt()

	assert.Equal(t, 3, g.LeafCount())
	right, _ := g.FindPoint([]float64{0.9})
	assert.Equal(t, 0.5, right.Width(0), "right twig merged")
	assert.True(t, right.IsLeaf())
	left, _ := g.FindPoint([]float64{0.1})
	assert.Equal(t, 0.25, left.Width(0), "left leaf split")
	checkTree(t, g)
	checkWeights(t, g)
}

func TestAdapt_SkipsWhenMergeContainsSplit(t *testing.T) {
	t.Parallel()
	g := atBudget(t, 3)

	// The heaviest leaf is inside the only mergeable twig.
	require.True(t, g.UpdateAt([]float64{0.9}, 1000))
	before := g.BinCount()
	g.Adapt()

	assert.Equal(t, before, g.BinCount())
	right, _ := g.FindPoint([]float64{0.9})
	assert.Equal(t, 0.25, right.Width(0))
	left, _ := g.FindPoint([]float64{0.1})
	assert.Equal(t, 0.5, left.Width(0))
	checkWeights(t, g)
}

func TestAdapt_MergeReattachesCurrent(t *testing.T) {
	t.Parallel()
	g := atBudget(t, 4)

	var x []float64
	for i := 0; i < 200 && (x == nil || x[0] <= 0.5); i++ {
		p, _, ok := g.Generate()
		require.True(t, ok)
		x = p
	}
	require.Greater(t, x[0], 0.5, "right half carries nearly all the weight")

	require.True(t, g.UpdateAt([]float64{0.2}, 100))
	g.Adapt()

	cur, ok := g.Current()
	require.True(t, ok)
	assert.True(t, cur.Valid())
	assert.True(t, cur.IsLeaf())
	assert.Equal(t, []float64{0.5}, cur.Lower())
	assert.Equal(t, 0.5, cur.Width(0))

	count := cur.Count()
	g.Update(3)
	assert.Equal(t, count+1, cur.Count())
}

func TestAdapt_SplitMovesCurrentToChild(t *testing.T) {
	t.Parallel()
	seen := map[uint64]bool{}
	for seed := uint64(1); seed <= 32; seed++ {
		g := newTestGrid(t, []float64{0}, []float64{1}, ModeCumulant, 4, seed)
		_, _, ok := g.Generate()
		require.True(t, ok)
		g.Adapt()

		cur, ok := g.Current()
		require.True(t, ok)
		require.True(t, cur.IsLeaf())
		p, ok := cur.Parent()
		require.True(t, ok)
		require.Equal(t, g.Root(), p)
		seen[cur.Key()[0]] = true
	}
	assert.True(t, seen[2] && seen[3], "current should land on both children across seeds")
}

func TestAdapt_NoMergeableBin(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, []float64{0}, []float64{1}, ModeCumulant, 1, 1)
	require.True(t, g.UpdateAt([]float64{0.5}, 2))
	g.Adapt()
	assert.Equal(t, 1, g.BinCount())
	assert.Equal(t, 2.0, g.Norm())
}

func TestGenerate_ZeroNorm(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, []float64{0}, []float64{1}, ModeCumulant, 1, 1)
	require.True(t, g.UpdateAt([]float64{0.5}, 0))
	g.Adapt()
	require.Equal(t, 0.0, g.Norm())

	_, _, ok := g.Generate()
	assert.False(t, ok)
}

func TestGenerate_WeightMatchesEvaluateWeight(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, []float64{0, 0}, []float64{1, 2}, ModeVariance, 20, 21)
	drive(t, g, 25, 80, peak, nil)

	for i := 0; i < 500; i++ {
		x, w, ok := g.Generate()
		require.True(t, ok)
		cur, ok := g.Current()
		require.True(t, ok)
		require.True(t, cur.Contains(x), "point %v outside its leaf", x)
		assert.Equal(t, cur.ImportanceWeight(), w)

		ew, ok := g.EvaluateWeight(x)
		require.True(t, ok)
		assert.Equal(t, w, ew, "point %v", x)
	}

	_, ok := g.EvaluateWeight([]float64{1.5, 0})
	assert.False(t, ok)
	_, ok = g.EvaluateWeight([]float64{0.5})
	assert.False(t, ok)
}

func TestGenerate_UniformBeforeAdaptation(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, []float64{0, 0}, []float64{1, 1}, ModeCumulant, 16, 31)
	// Splits without observations keep every leaf's weight equal to its
	// volume, so the draw is uniform over an uneven tree.
	for i := 0; i < 6; i++ {
		b, ok := g.FindPoint([]float64{0.1, 0.1})
		require.True(t, ok)
		require.True(t, g.SplitBin(b))
	}
	checkTree(t, g)

	const n = 10000
	xs := make([][]float64, 2)
	for i := 0; i < n; i++ {
		x, w, ok := g.Generate()
		require.True(t, ok)
		assert.InDelta(t, 1.0, g.Norm()*w, 1e-12)
		xs[0] = append(xs[0], x[0])
		xs[1] = append(xs[1], x[1])
	}

	u := distuv.Uniform{Min: 0, Max: 1}
	limit := 1.95 / math.Sqrt(n)
	for axis, sample := range xs {
		slices.Sort(sample)
		d := 0.0
		for i, v := range sample {
			c := u.CDF(v)
			d = math.Max(d, math.Max(float64(i+1)/n-c, c-float64(i)/n))
		}
		assert.Less(t, d, limit, "axis %d KS distance", axis)
	}
}

func TestGenerate_ImportanceEstimate(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, []float64{0}, []float64{1}, ModeCumulant, 32, 41)
	drive(t, g, 40, 200, peak, nil)

	const n = 20000
	sum := 0.0
	for i := 0; i < n; i++ {
		x, w, ok := g.Generate()
		require.True(t, ok)
		sum += g.Norm() * w * peak(x)
	}
	want := 0.05 * math.Sqrt(2*math.Pi)
	assert.InEpsilon(t, want, sum/n, 0.03)
}

func TestUpdate_WithoutSampleIsNoop(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, []float64{0}, []float64{1}, ModeCumulant, 4, 1)
	g.Update(5)
	assert.Zero(t, g.Root().Count())
}

func TestUpdate_FeedsCurrentLeaf(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, []float64{0}, []float64{1}, ModeMaximum, 4, 1)
	x, _, ok := g.Generate()
	require.True(t, ok)
	g.Update(4)

	root := g.Root()
	assert.Equal(t, 1.0, root.Count())
	assert.Equal(t, 4.0, root.Sum())
	whole, lower, upper := root.Max()
	assert.Equal(t, 4.0, whole)
	if x[0] < 0.5 {
		assert.Equal(t, 4.0, lower)
		assert.Zero(t, upper)
	} else {
		assert.Zero(t, lower)
		assert.Equal(t, 4.0, upper)
	}
}

func TestUpdate_NonFiniteValueRefused(t *testing.T) {
	t.Parallel()
	values := []float64{math.NaN(), math.Inf(1), math.Inf(-1)}
	for _, mode := range []Mode{ModeCumulant, ModeVariance, ModeMaximum} {
		for _, v := range values {
			t.Run(fmt.Sprintf("%s/%g", mode, v), func(t *testing.T) {
				t.Parallel()

				// A lone root leaf.
				g := newTestGrid(t, []float64{0}, []float64{1}, mode, 4, 1)
				_, _, ok := g.Generate()
				require.True(t, ok)
				g.Update(v)
				assert.Zero(t, g.Root().Count(), "non-finite value must not be recorded")
				assert.False(t, g.UpdateAt([]float64{0.3}, v))
				assert.NotPanics(t, g.Adapt)
				assert.Equal(t, 2, g.LeafCount())
				assert.Equal(t, 1.0, g.Norm())

				// A grid already adapted to its budget.
				g = newTestGrid(t, []float64{0}, []float64{1}, mode, 6, 2)
				drive(t, g, 10, 50, peak, nil)
				require.Equal(t, 6, g.LeafCount())
				_, _, ok = g.Generate()
				require.True(t, ok)
				g.Update(v)
				assert.NotPanics(t, g.Adapt)
				assert.False(t, math.IsNaN(g.Norm()) || math.IsInf(g.Norm(), 0), "norm %g", g.Norm())
				assert.Positive(t, g.Norm())
				assert.Equal(t, 6, g.LeafCount())
				for i := 0; i < 100; i++ {
					_, _, ok := g.Generate()
					require.True(t, ok)
				}
				checkTree(t, g)
			})
		}
	}
}

func TestAdapt_IncomparableWeightsSkipRound(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, []float64{0}, []float64{1}, ModeCumulant, 4, 1)
	// Statistics corrupted behind the public API leave no leaf to split.
	root := g.bin(g.root)
	root.f0 = 1
	root.f1 = math.NaN()
	assert.NotPanics(t, g.Adapt)
	assert.Equal(t, 1, g.LeafCount())
}

func TestReset(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, []float64{0, 0}, []float64{1, 1}, ModeMaximum, 10, 51)
	drive(t, g, 20, 40, peak, nil)
	require.Greater(t, g.LeafCount(), 1)

	g.Reset()
	assert.Equal(t, 1, g.BinCount())
	assert.Equal(t, 1, g.LeafCount())
	assert.Zero(t, g.Root().Count())
	assert.Equal(t, g.Volume(), g.Norm())
	_, ok := g.Current()
	assert.False(t, ok)
	checkTree(t, g)

	// The grid is usable again.
	drive(t, g, 5, 40, peak, nil)
	checkTree(t, g)
}

func TestSplitBin_RespectsBudget(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, []float64{0}, []float64{1}, ModeCumulant, 2, 1)
	require.True(t, g.SplitBin(g.Root()))
	c1, _, _ := g.Root().Children()
	assert.False(t, g.SplitBin(c1))
	assert.Equal(t, 2, g.LeafCount())
}

func TestSplitBin_ForeignOrStaleBin(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, []float64{0}, []float64{1}, ModeCumulant, 8, 1)
	other := newTestGrid(t, []float64{0}, []float64{1}, ModeCumulant, 8, 1)
	assert.False(t, g.SplitBin(other.Root()))
	assert.False(t, g.SplitBin(Bin{}))

	require.True(t, g.SplitBin(g.Root()))
	c1, _, _ := g.Root().Children()
	g.MergeBin(g.Root())
	assert.False(t, c1.Valid())
	assert.False(t, g.SplitBin(c1))
}

func TestMergeBin(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, []float64{0, 0}, []float64{1, 1}, ModeCumulant, 16, 61)
	drive(t, g, 12, 40, peak, nil)
	_, _, ok := g.Generate()
	require.True(t, ok)

	g.MergeBin(g.Root())
	assert.Equal(t, 1, g.LeafCount())
	assert.Equal(t, 1, g.BinCount())
	cur, ok := g.Current()
	require.True(t, ok)
	assert.Equal(t, g.Root(), cur)
	checkTree(t, g)

	// Merging a leaf is a no-op.
	g.MergeBin(g.Root())
	assert.Equal(t, 1, g.BinCount())
}

func TestBins_PreOrder(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, []float64{0}, []float64{1}, ModeCumulant, 8, 1)
	require.True(t, g.SplitBin(g.Root()))
	_, right, _ := g.Root().Children()
	require.True(t, g.SplitBin(right))

	var keys, leafKeys []uint64
	for b := range g.Bins() {
		keys = append(keys, b.Key()[0])
	}
	for b := range g.Leaves() {
		leafKeys = append(leafKeys, b.Key()[0])
	}
	assert.Equal(t, []uint64{1, 2, 3, 6, 7}, keys)
	assert.Equal(t, []uint64{2, 6, 7}, leafKeys)

	// Early exit.
	n := 0
	for range g.Bins() {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestFindWeight_Public(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, []float64{0}, []float64{1}, ModeCumulant, 8, 1)
	require.True(t, g.SplitBin(g.Root()))

	b, ok := g.FindWeight(0.25)
	require.True(t, ok)
	assert.Equal(t, []uint64{2}, b.Key())
	b, ok = g.FindWeight(0.75)
	require.True(t, ok)
	assert.Equal(t, []uint64{3}, b.Key())
	_, ok = g.FindWeight(1.5)
	assert.False(t, ok)
}
