package monitor

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tailscale.com/tsweb"

	"github.com/banshee-data/mcgrid/internal/grid"
	"github.com/banshee-data/mcgrid/internal/integrate"
	"github.com/banshee-data/mcgrid/internal/testutil"
)

type fakeSource struct {
	g       *grid.Grid
	results []integrate.IterationResult
}

func (f *fakeSource) View(fn func(g *grid.Grid)) {
	if f.g != nil {
		fn(f.g)
	}
}

func (f *fakeSource) Results() []integrate.IterationResult { return f.results }

func serveCharts(t *testing.T, src GridSource, path string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	NewCharts(src, "test").AttachRoutes(tsweb.Debugger(mux))
	rec := testutil.NewTestRecorder()
	mux.ServeHTTP(rec, testutil.NewDebugRequest(http.MethodGet, path))
	return rec
}

func TestCharts_Leaves(t *testing.T) {
	for _, dim := range []int{1, 2} {
		src := &fakeSource{g: adaptedGrid(t, dim)}
		rec := serveCharts(t, src, "/debug/grid-leaves?max_points=10")
		testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
		testutil.AssertContentType(t, rec, "text/html")
		testutil.AssertBodyContains(t, rec, "Grid Leaves", "visualMap")
	}
}

func TestCharts_Convergence(t *testing.T) {
	src := &fakeSource{results: []integrate.IterationResult{
		{Iteration: 1, Estimate: 1.2, StdError: 0.1, Leaves: 4},
		{Iteration: 2, Estimate: 1.05, StdError: 0.02, Leaves: 8},
	}}
	rec := serveCharts(t, src, "/debug/grid-convergence")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	testutil.AssertBodyContains(t, rec, "Convergence", "estimate", "leaves")
}

func TestCharts_Empty(t *testing.T) {
	src := &fakeSource{}
	for _, path := range []string{"/debug/grid-leaves", "/debug/grid-convergence"} {
		rec := serveCharts(t, src, path)
		testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
		testutil.AssertContentType(t, rec, "application/json")
	}

	rec := serveCharts(t, src, "/debug/grid-dashboard")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
}

func TestCharts_Dashboard(t *testing.T) {
	src := &fakeSource{
		g:       adaptedGrid(t, 2),
		results: []integrate.IterationResult{{Iteration: 1, Estimate: 1, StdError: 0.1, Leaves: 32}},
	}
	rec := serveCharts(t, src, "/debug/grid-dashboard")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	testutil.AssertBodyContains(t, rec, "Grid Leaves", "Convergence")
}

func TestCharts_RunnerIsSource(t *testing.T) {
	g := adaptedGrid(t, 1)
	r, err := integrate.NewRunner(g, func(x []float64) float64 { return 1 }, integrate.Options{SamplesPerIteration: 10, Iterations: 1, AdaptEvery: 10})
	require.NoError(t, err)
	var src GridSource = r
	assert.NotNil(t, src)
	assert.Empty(t, src.Results())
}
