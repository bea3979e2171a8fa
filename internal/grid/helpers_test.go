package grid

import (
	"math"
	"os"
	"testing"

	"github.com/banshee-data/mcgrid/internal/monitoring"
	"github.com/banshee-data/mcgrid/internal/rng"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func newTestGrid(t *testing.T, lower, upper []float64, mode Mode, maxLeaves int, seed uint64) *Grid {
	t.Helper()
	g, err := New(Config{Lower: lower, Upper: upper, Mode: mode, MaxLeaves: maxLeaves}, rng.New(seed))
	require.NoError(t, err)
	return g
}

// peak is a narrow Gaussian bump at 0.7 on every axis, large enough to pull
// resolution towards it.
func peak(x []float64) float64 {
	r2 := 0.0
	for _, v := range x {
		d := v - 0.7
		r2 += d * d
	}
	return math.Exp(-r2 / (2 * 0.05 * 0.05))
}

// drive runs rounds of generate/update followed by one Adapt.
func drive(t *testing.T, g *Grid, rounds, perRound int, f func([]float64) float64, after func()) {
	t.Helper()
	for r := 0; r < rounds; r++ {
		for i := 0; i < perRound; i++ {
			x, _, ok := g.Generate()
			require.True(t, ok)
			g.Update(f(x))
		}
		g.Adapt()
		if after != nil {
			after()
		}
	}
}

// closeTo compares with a tolerance relative to the larger magnitude.
func closeTo(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

// checkTree asserts the structural invariants that hold at all times.
func checkTree(t *testing.T, g *Grid) {
	t.Helper()
	leaves, bins, leafVolume := 0, 0, 0.0
	for b := range g.Bins() {
		bins++
		c1, c2, ok := b.Children()
		if !ok {
			leaves++
			leafVolume += b.Volume()
			continue
		}
		p1, _ := c1.Parent()
		p2, _ := c2.Parent()
		require.Equal(t, b, p1, "child 1 parent link")
		require.Equal(t, b, p2, "child 2 parent link")
		require.True(t, closeTo(b.Volume(), c1.Volume()+c2.Volume()),
			"volume %g != %g + %g", b.Volume(), c1.Volume(), c2.Volume())
	}
	require.Equal(t, g.LeafCount(), leaves)
	require.Equal(t, g.BinCount(), bins)
	require.Equal(t, 2*leaves-1, bins)
	require.LessOrEqual(t, leaves, g.MaxLeaves())
	require.True(t, closeTo(g.Volume(), leafVolume), "leaf volumes %g != domain %g", leafVolume, g.Volume())
}

// checkWeights asserts that every internal weight is the sum of its
// children's, which holds after Adapt.
func checkWeights(t *testing.T, g *Grid) {
	t.Helper()
	for b := range g.Bins() {
		c1, c2, ok := b.Children()
		if !ok {
			continue
		}
		require.True(t, closeTo(b.Weight(), c1.Weight()+c2.Weight()),
			"bin %v weight %g != %g + %g", b.Key(), b.Weight(), c1.Weight(), c2.Weight())
	}
}
