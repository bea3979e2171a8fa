// Package monitor renders the state of a running integration: PNG plots
// written at the end of a run and live HTML charts on the debug server.
package monitor

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/mcgrid/internal/fsutil"
	"github.com/banshee-data/mcgrid/internal/grid"
	"github.com/banshee-data/mcgrid/internal/integrate"
)

// GridPlotter records iteration results and the leaf layout while a run
// progresses, and renders them as PNG files afterwards. It implements
// integrate.Listener.
type GridPlotter struct {
	mu        sync.Mutex
	fsys      fsutil.FileSystem
	enabled   bool
	outputDir string
	runID     string

	iterations []integrate.IterationResult
	leaves     []LeafSample // layout after the latest iteration
	dim        int
}

// NewGridPlotter creates a disabled plotter that writes through fsys.
func NewGridPlotter(fsys fsutil.FileSystem, runID string) *GridPlotter {
	return &GridPlotter{fsys: fsys, runID: runID}
}

// Start creates outputDir and begins recording, discarding anything
// recorded before.
func (gp *GridPlotter) Start(outputDir string) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	if err := gp.fsys.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	gp.outputDir = outputDir
	gp.enabled = true
	gp.iterations = nil
	gp.leaves = nil
	gp.dim = 0
	return nil
}

// Stop disables recording. Call GeneratePlots to produce output files.
func (gp *GridPlotter) Stop() {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	gp.enabled = false
}

// IsEnabled returns true if the plotter is currently recording.
func (gp *GridPlotter) IsEnabled() bool {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	return gp.enabled
}

// IterationDone records res and the grid's current leaves.
func (gp *GridPlotter) IterationDone(g *grid.Grid, res integrate.IterationResult) {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	if !gp.enabled || g == nil {
		return
	}
	gp.iterations = append(gp.iterations, res)
	gp.leaves = captureLeaves(g)
	gp.dim = g.Dim()
}

// GetOutputDir returns the current output directory for plots.
func (gp *GridPlotter) GetOutputDir() string {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	return gp.outputDir
}

// GetSampleCount returns the number of iterations recorded.
func (gp *GridPlotter) GetSampleCount() int {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	return len(gp.iterations)
}

// GeneratePlots writes convergence.png, leaves.png and density.png.
// Returns the number of plots generated and any error.
func (gp *GridPlotter) GeneratePlots() (int, error) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	if gp.outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}
	if len(gp.iterations) == 0 {
		return 0, nil
	}

	steps := []struct {
		name  string
		build func() (*plot.Plot, error)
	}{
		{"convergence.png", gp.convergencePlot},
		{"leaves.png", gp.leafCountPlot},
		{"density.png", gp.densityPlot},
	}
	count := 0
	for _, s := range steps {
		p, err := s.build()
		if err != nil {
			return count, fmt.Errorf("%s: %w", s.name, err)
		}
		if err := gp.save(p, s.name); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// estimatePoints adapts iteration results to plotter.XYer and YErrorer.
type estimatePoints []integrate.IterationResult

func (e estimatePoints) Len() int { return len(e) }

func (e estimatePoints) XY(i int) (float64, float64) {
	return float64(e[i].Iteration), e[i].Estimate
}

func (e estimatePoints) YError(i int) (float64, float64) {
	return e[i].StdError, e[i].StdError
}

func (gp *GridPlotter) convergencePlot() (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Run %s - Estimate per Iteration", gp.runID)
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "Estimate"

	pts := estimatePoints(gp.iterations)
	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return nil, err
	}
	colors := palette(2)
	line.Color = colors[0]
	line.Width = vg.Points(1)
	points.Color = colors[0]

	bars, err := plotter.NewYErrorBars(pts)
	if err != nil {
		return nil, err
	}
	bars.Color = colors[0]

	p.Add(line, points, bars, plotter.NewGrid())
	p.Legend.Add("estimate +- std error", line, points)
	p.Legend.Top = true
	return p, nil
}

func (gp *GridPlotter) leafCountPlot() (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Run %s - Grid Size", gp.runID)
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "Leaves"

	pts := make(plotter.XYs, len(gp.iterations))
	for i, it := range gp.iterations {
		pts[i] = plotter.XY{X: float64(it.Iteration), Y: float64(it.Leaves)}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Color = palette(2)[1]
	line.Width = vg.Points(1)
	p.Add(line, plotter.NewGrid())
	return p, nil
}

// densityPlot draws weight per unit volume as a step function for a
// one-dimensional grid, and leaf centres coloured by density otherwise.
func (gp *GridPlotter) densityPlot() (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Run %s - Leaf Density (%d leaves)", gp.runID, len(gp.leaves))
	p.X.Label.Text = "x0"

	if gp.dim == 1 {
		p.Y.Label.Text = "Weight / Volume"
		pts := make(plotter.XYs, 0, 2*len(gp.leaves))
		for _, l := range gp.leaves {
			pts = append(pts,
				plotter.XY{X: l.Lower[0], Y: l.Density},
				plotter.XY{X: l.Upper[0], Y: l.Density})
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = palette(1)[0]
		line.Width = vg.Points(1)
		p.Add(line)
		return p, nil
	}

	p.Y.Label.Text = "x1"
	pts := make(plotter.XYs, len(gp.leaves))
	for i, l := range gp.leaves {
		pts[i] = plotter.XY{X: l.Center(0), Y: l.Center(1)}
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}
	const shades = 10
	colors := palette(shades)
	lo, hi := densityRange(gp.leaves)
	leaves := gp.leaves
	scatter.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		return draw.GlyphStyle{
			Color:  colors[bucket(leaves[i].Density, lo, hi, shades)],
			Radius: vg.Points(3),
			Shape:  draw.CircleGlyph{},
		}
	}
	p.Add(scatter)
	return p, nil
}

func (gp *GridPlotter) save(p *plot.Plot, name string) error {
	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	path := filepath.Join(gp.outputDir, name)
	f, err := gp.fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("save %s: %w", path, err)
	}
	return f.Close()
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakePlotOutputDir returns baseDir/<runID>/<timestamp>, with runID
// reduced to a single safe path element.
func MakePlotOutputDir(baseDir, runID string, now time.Time) string {
	return filepath.Join(baseDir, fsutil.SafeName(runID, "run"), FormatTimestamp(now))
}
