package monitor

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/mcgrid/internal/grid"
	"github.com/banshee-data/mcgrid/internal/httputil"
	"github.com/banshee-data/mcgrid/internal/integrate"
)

// echartsAssetsPrefix is where rendered pages load the echarts script from.
var echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// GridSource is the live state the charts read. *integrate.Runner
// satisfies it.
type GridSource interface {
	View(fn func(g *grid.Grid))
	Results() []integrate.IterationResult
}

// Charts serves HTML views of a running integration.
type Charts struct {
	src   GridSource
	title string
}

// NewCharts returns chart handlers reading from src.
func NewCharts(src GridSource, title string) *Charts {
	if title == "" {
		title = "mcgrid"
	}
	return &Charts{src: src, title: title}
}

// AttachRoutes registers the chart pages on the debug handler.
func (c *Charts) AttachRoutes(debug *tsweb.DebugHandler) {
	debug.Handle("grid-leaves", "Leaf centres coloured by density (?max_points=)", http.HandlerFunc(c.handleLeaves))
	debug.Handle("grid-convergence", "Estimate and grid size per iteration", http.HandlerFunc(c.handleConvergence))
	debug.Handle("grid-dashboard", "Leaves and convergence on one page", http.HandlerFunc(c.handleDashboard))
}

func (c *Charts) leaves() ([]LeafSample, int) {
	var leaves []LeafSample
	dim := 0
	c.src.View(func(g *grid.Grid) {
		leaves = captureLeaves(g)
		dim = g.Dim()
	})
	return leaves, dim
}

// leafChart plots leaf centres. One-dimensional grids use density as the
// y coordinate; otherwise the first two axes are used and density is the
// colour dimension.
func (c *Charts) leafChart(leaves []LeafSample, dim, maxPoints int) *charts.Scatter {
	stride := 1
	if len(leaves) > maxPoints {
		stride = (len(leaves) + maxPoints - 1) / maxPoints
	}
	_, hi := densityRange(leaves)
	if hi <= 0 {
		hi = 1
	}

	data := make([]opts.ScatterData, 0, len(leaves)/stride+1)
	for i := 0; i < len(leaves); i += stride {
		l := leaves[i]
		y := l.Density
		if dim > 1 {
			y = l.Center(1)
		}
		data = append(data, opts.ScatterData{Value: []interface{}{l.Center(0), y, l.Density}})
	}

	yName := "weight / volume"
	if dim > 1 {
		yName = "x1"
	}
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: c.title + " leaves", Theme: "dark", Width: "900px", Height: "700px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Grid Leaves", Subtitle: fmt.Sprintf("%s leaves=%d stride=%d", c.title, len(leaves), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "x0", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName, NameLocation: "middle", NameGap: 40}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(hi),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	scatter.AddSeries("leaves", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	return scatter
}

func (c *Charts) convergenceChart(results []integrate.IterationResult) *charts.Line {
	x := make([]int, len(results))
	est := make([]opts.LineData, len(results))
	lo := make([]opts.LineData, len(results))
	hi := make([]opts.LineData, len(results))
	leaves := make([]opts.LineData, len(results))
	for i, r := range results {
		x[i] = r.Iteration
		est[i] = opts.LineData{Value: r.Estimate}
		lo[i] = opts.LineData{Value: r.Estimate - r.StdError}
		hi[i] = opts.LineData{Value: r.Estimate + r.StdError}
		leaves[i] = opts.LineData{Value: r.Leaves}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: c.title + " convergence", Width: "100%", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Convergence", Subtitle: fmt.Sprintf("%s iterations=%d", c.title, len(results))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "iteration"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "estimate", Scale: opts.Bool(true)}),
	)
	line.ExtendYAxis(opts.YAxis{Name: "leaves"})
	line.SetXAxis(x).
		AddSeries("estimate", est, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)})).
		AddSeries("estimate - err", lo, charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed"})).
		AddSeries("estimate + err", hi, charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed"})).
		AddSeries("leaves", leaves, charts.WithLineChartOpts(opts.LineChart{Step: "end", YAxisIndex: 1}))
	return line
}

func (c *Charts) handleLeaves(w http.ResponseWriter, r *http.Request) {
	maxPoints := httputil.QueryInt(r, "max_points", 8000, 1, 50000)
	leaves, dim := c.leaves()
	if len(leaves) == 0 {
		httputil.NotFound(w, "no grid available")
		return
	}
	c.render(w, c.leafChart(leaves, dim, maxPoints))
}

func (c *Charts) handleConvergence(w http.ResponseWriter, r *http.Request) {
	results := c.src.Results()
	if len(results) == 0 {
		httputil.NotFound(w, "no iterations completed")
		return
	}
	c.render(w, c.convergenceChart(results))
}

func (c *Charts) handleDashboard(w http.ResponseWriter, r *http.Request) {
	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.PageTitle = c.title

	if leaves, dim := c.leaves(); len(leaves) > 0 {
		page.AddCharts(c.leafChart(leaves, dim, 8000))
	}
	if results := c.src.Results(); len(results) > 0 {
		page.AddCharts(c.convergenceChart(results))
	}
	c.render(w, page)
}

type renderer interface {
	Render(w io.Writer) error
}

func (c *Charts) render(w http.ResponseWriter, chart renderer) {
	var buf bytes.Buffer
	if err := chart.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	httputil.WriteHTML(w, buf.Bytes())
}
