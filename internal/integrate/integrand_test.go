package integrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/integrate/quad"
)

func TestLookup(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"camel", "constant", "gaussian", "step"}, Names())
	for _, name := range Names() {
		f, err := Lookup(name)
		require.NoError(t, err, name)
		require.NotNil(t, f, name)
	}
	_, err := Lookup("rosenbrock")
	assert.ErrorContains(t, err, "rosenbrock")
}

func TestExact_MatchesQuadrature(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		lo, hi float64
	}{
		{"gaussian", 0, 1},
		{"gaussian", 0.25, 0.55},
		{"camel", 0, 1},
		{"camel", 0.3, 0.9},
		{"constant", -1, 2},
		{"step", 0, 1},
		{"step", 0.2, 0.4},
		{"step", 0.6, 0.9},
	}
	for _, tc := range cases {
		f, err := Lookup(tc.name)
		require.NoError(t, err)
		got, ok := Exact(tc.name, []float64{tc.lo}, []float64{tc.hi})
		require.True(t, ok)
		want := quad.Fixed(func(x float64) float64 { return f([]float64{x}) }, tc.lo, tc.hi, 2000, nil, 0)
		assert.InDelta(t, want, got, 1e-3, "%s over [%g, %g]", tc.name, tc.lo, tc.hi)
	}
}

func TestExact_MultiDimensional(t *testing.T) {
	t.Parallel()
	got, ok := Exact("constant", []float64{0, 0, 0}, []float64{2, 3, 0.5})
	require.True(t, ok)
	assert.InDelta(t, 3.0, got, 1e-12)

	got, ok = Exact("step", []float64{0, 0}, []float64{1, 2})
	require.True(t, ok)
	assert.InDelta(t, 1.0, got, 1e-12)

	got, ok = Exact("gaussian", []float64{0, 0}, []float64{1, 1})
	require.True(t, ok)
	assert.InDelta(t, 1.0, got, 1e-6)
}

func TestExact_Unknown(t *testing.T) {
	t.Parallel()
	_, ok := Exact("rosenbrock", []float64{0}, []float64{1})
	assert.False(t, ok)
	_, ok = Exact("constant", []float64{0}, []float64{1, 1})
	assert.False(t, ok)
	_, ok = Exact("constant", nil, nil)
	assert.False(t, ok)
}
