package integrate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/mcgrid/internal/grid"
	"github.com/banshee-data/mcgrid/internal/monitoring"
	"github.com/banshee-data/mcgrid/internal/timeutil"
)

// ErrNoSamples is returned when an iteration could not draw a single point,
// which happens once the grid's norm has collapsed to zero.
var ErrNoSamples = errors.New("no samples drawn")

// Options is the sampling schedule of a Runner.
type Options struct {
	SamplesPerIteration int
	Iterations          int
	AdaptEvery          int // samples between Adapt calls; 0 never adapts
	SnapshotEvery       int // iterations between snapshots; 0 keeps only the final one

	RunID      string // generated when empty
	Integrand  string // name recorded with the run
	ConfigJSON string // recorded with the run
}

func (o Options) validate() error {
	if o.SamplesPerIteration < 1 {
		return fmt.Errorf("SamplesPerIteration must be positive, got %d", o.SamplesPerIteration)
	}
	if o.Iterations < 1 {
		return fmt.Errorf("Iterations must be positive, got %d", o.Iterations)
	}
	if o.AdaptEvery < 0 {
		return fmt.Errorf("AdaptEvery must not be negative, got %d", o.AdaptEvery)
	}
	if o.SnapshotEvery < 0 {
		return fmt.Errorf("SnapshotEvery must not be negative, got %d", o.SnapshotEvery)
	}
	return nil
}

// IterationResult summarises one pass of SamplesPerIteration draws.
type IterationResult struct {
	Iteration int // 1-based
	Samples   int // points drawn and evaluated
	Failures  int // draws that produced no point
	Estimate  float64
	StdError  float64
	Leaves    int     // leaf count after the iteration
	Norm      float64 // grid norm after the iteration
	Duration  time.Duration
}

// Combined is the inverse-variance weighted estimate over all iterations.
type Combined struct {
	Estimate   float64
	StdError   float64
	Chi2PerDoF float64 // 0 with fewer than two iterations
	Iterations int
}

// Listener is notified after every iteration while the runner holds its
// lock, so g is consistent. Implementations must not call back into the
// Runner.
type Listener interface {
	IterationDone(g *grid.Grid, res IterationResult)
}

// RunRecord matches the integration_run table. The result fields are nil
// until the run finishes.
type RunRecord struct {
	RunID             string   `json:"run_id"`
	StartedUnixNanos  int64    `json:"started_unix_nanos"`
	FinishedUnixNanos *int64   `json:"finished_unix_nanos,omitempty"`
	Integrand         string   `json:"integrand"`
	ConfigJSON        string   `json:"config_json"`
	Iterations        int      `json:"iterations"`
	Samples           int64    `json:"samples"`
	Estimate          *float64 `json:"estimate,omitempty"`
	StdError          *float64 `json:"std_error,omitempty"`
	Chi2PerDoF        *float64 `json:"chi2_per_dof,omitempty"`
}

// RunStore persists RunRecords. Implemented by db.DB.
type RunStore interface {
	InsertRun(r *RunRecord) error
	UpdateRun(r *RunRecord) error
}

// Runner drives a grid with an integrand. It owns the grid for the
// duration of a run; other goroutines reach the grid through View.
type Runner struct {
	mu sync.Mutex

	g   *grid.Grid
	sub *grid.SubGrid
	s   sampler
	f   Integrand

	opts      Options
	store     grid.SnapshotStore
	runs      RunStore
	clock     timeutil.Clock
	listeners []Listener

	results    []IterationResult
	samples    int64
	sinceAdapt int
}

// NewRunner returns a runner sampling f over the whole of g.
func NewRunner(g *grid.Grid, f Integrand, opts Options) (*Runner, error) {
	if g == nil {
		return nil, fmt.Errorf("runner needs a grid")
	}
	if f == nil {
		return nil, fmt.Errorf("runner needs an integrand")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	return &Runner{
		g:     g,
		s:     gridSampler{g},
		f:     f,
		opts:  opts,
		clock: timeutil.RealClock{},
	}, nil
}

// RunID returns the identifier snapshots and the run record are filed
// under.
func (r *Runner) RunID() string { return r.opts.RunID }

// SetStore sets where snapshots are written. nil disables snapshots.
func (r *Runner) SetStore(s grid.SnapshotStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store = s
}

// SetRunStore sets where the run record is written. nil disables it.
func (r *Runner) SetRunStore(s RunStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = s
}

// SetClock replaces the clock used for timestamps and checkpoint tickers.
func (r *Runner) SetClock(c timeutil.Clock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = c
}

// AddListener registers l for iteration callbacks.
func (r *Runner) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Restrict makes the runner sample only [a, b] of a one-dimensional grid.
// The grid keeps adapting over its whole domain. Calling Restrict again
// moves the interval.
func (r *Runner) Restrict(a, b float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		return r.sub.SetBounds(a, b)
	}
	sg, err := grid.NewSubGrid(r.g, a, b)
	if err != nil {
		return err
	}
	r.sub = sg
	r.s = subGridSampler{sg}
	monitoring.Infof("[integrate] run %s restricted to [%g, %g]", r.opts.RunID, a, b)
	return nil
}

// Close drops any restriction and samples the whole grid again.
func (r *Runner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub == nil {
		return
	}
	r.sub.Close()
	r.sub = nil
	r.s = gridSampler{r.g}
}

// View calls fn with the grid while no sampling is in progress.
func (r *Runner) View(fn func(g *grid.Grid)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.g)
}

// Results returns a copy of the per-iteration results so far.
func (r *Runner) Results() []IterationResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.results)
}

// Estimate combines the iterations run so far.
func (r *Runner) Estimate() Combined {
	r.mu.Lock()
	defer r.mu.Unlock()
	return combine(r.results)
}

// Iterate draws one iteration of samples. The lock is released between
// adaptation rounds so View and Checkpoint are served during long
// iterations.
func (r *Runner) Iterate(ctx context.Context) (IterationResult, error) {
	start := r.now()
	n := r.opts.SamplesPerIteration
	values := make([]float64, 0, n)
	failures := 0

	for done := 0; done < n; {
		if err := ctx.Err(); err != nil {
			return IterationResult{}, err
		}
		var m int
		values, failures, m = r.batch(n-done, values, failures)
		done += m
	}

	samplesTotal.Add(float64(len(values)))
	generateFailuresTotal.Add(float64(failures))

	r.mu.Lock()
	defer r.mu.Unlock()
	res := IterationResult{
		Iteration: len(r.results) + 1,
		Samples:   len(values),
		Failures:  failures,
		Leaves:    r.g.LeafCount(),
		Norm:      r.g.Norm(),
		Duration:  r.clock.Since(start),
	}
	if len(values) == 0 {
		monitoring.Warnf("[integrate] iteration %d: all %d draws failed", res.Iteration, failures)
		return res, fmt.Errorf("iteration %d: %w", res.Iteration, ErrNoSamples)
	}
	mean, variance := stat.MeanVariance(values, nil)
	if len(values) < 2 {
		variance = 0
	}
	res.Estimate = mean
	res.StdError = stat.StdErr(math.Sqrt(variance), float64(len(values)))

	r.results = append(r.results, res)
	r.samples += int64(res.Samples)
	gridLeaves.Set(float64(res.Leaves))
	gridNorm.Set(res.Norm)
	iterationDuration.Observe(res.Duration.Seconds())
	monitoring.Infof("[integrate] iteration %d: %g +- %g (%d samples, %d leaves)",
		res.Iteration, res.Estimate, res.StdError, res.Samples, res.Leaves)
	for _, l := range r.listeners {
		l.IterationDone(r.g, res)
	}
	return res, nil
}

// batch draws up to remaining points under the lock, stopping at the next
// adaptation round, and returns how many it drew.
func (r *Runner) batch(remaining int, values []float64, failures int) ([]float64, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := remaining
	if r.opts.AdaptEvery > 0 {
		m = min(m, r.opts.AdaptEvery-r.sinceAdapt)
	}
	for i := 0; i < m; i++ {
		x, w, ok := r.s.sample()
		if !ok {
			failures++
			continue
		}
		fx := r.f(x)
		values = append(values, fx*w)
		r.s.update(math.Abs(fx))
	}
	if r.opts.AdaptEvery > 0 {
		r.sinceAdapt += m
		if r.sinceAdapt >= r.opts.AdaptEvery {
			r.s.adapt()
			adaptTotal.Inc()
			r.sinceAdapt = 0
		}
	}
	return values, failures, m
}

// Run records the run, performs every iteration and writes periodic and
// final snapshots. A failed periodic snapshot is logged; a failed final
// snapshot is returned along with the estimate.
func (r *Runner) Run(ctx context.Context) (Combined, error) {
	r.mu.Lock()
	rec := &RunRecord{
		RunID:            r.opts.RunID,
		StartedUnixNanos: r.clock.Now().UnixNano(),
		Integrand:        r.opts.Integrand,
		ConfigJSON:       r.opts.ConfigJSON,
	}
	runs := r.runs
	r.mu.Unlock()

	if runs != nil {
		if err := runs.InsertRun(rec); err != nil {
			return Combined{}, fmt.Errorf("record run %s: %w", rec.RunID, err)
		}
	}
	monitoring.Infof("[integrate] run %s: %d iterations of %d samples",
		rec.RunID, r.opts.Iterations, r.opts.SamplesPerIteration)

	for i := 1; i <= r.opts.Iterations; i++ {
		if _, err := r.Iterate(ctx); err != nil {
			r.finish(runs, rec)
			return r.Estimate(), err
		}
		if every := r.opts.SnapshotEvery; every > 0 && i%every == 0 && i < r.opts.Iterations {
			if _, err := r.Checkpoint("periodic"); err != nil {
				monitoring.Warnf("[integrate] periodic snapshot after iteration %d failed: %v", i, err)
			}
		}
	}

	_, snapErr := r.Checkpoint("final")
	c := r.finish(runs, rec)
	monitoring.Infof("[integrate] run %s: %g +- %g, chi2/dof %.3g over %d iterations",
		rec.RunID, c.Estimate, c.StdError, c.Chi2PerDoF, c.Iterations)
	if snapErr != nil {
		return c, fmt.Errorf("final snapshot: %w", snapErr)
	}
	return c, nil
}

// finish fills in the run record's results and writes it back.
func (r *Runner) finish(runs RunStore, rec *RunRecord) Combined {
	r.mu.Lock()
	c := combine(r.results)
	finished := r.clock.Now().UnixNano()
	rec.FinishedUnixNanos = &finished
	rec.Iterations = len(r.results)
	rec.Samples = r.samples
	r.mu.Unlock()

	if c.Iterations > 0 {
		rec.Estimate = &c.Estimate
		rec.StdError = &c.StdError
		rec.Chi2PerDoF = &c.Chi2PerDoF
	}
	if runs != nil {
		if err := runs.UpdateRun(rec); err != nil {
			monitoring.Warnf("[integrate] failed to update run %s: %v", rec.RunID, err)
		}
	}
	return c
}

// Checkpoint writes a snapshot of the grid to the store and returns its
// ID. It is a no-op without a store.
func (r *Runner) Checkpoint(reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store == nil {
		return 0, nil
	}
	id, err := r.g.Persist(r.store, r.opts.RunID, reason, len(r.results), r.clock.Now())
	if err != nil {
		return 0, err
	}
	snapshotsTotal.WithLabelValues(reason).Inc()
	monitoring.Debugf("[integrate] %s snapshot %d: %d leaves after %d iterations",
		reason, id, r.g.LeafCount(), len(r.results))
	return id, nil
}

// CheckpointEvery writes a periodic snapshot on every tick of d until ctx
// is done. Run it in its own goroutine.
func (r *Runner) CheckpointEvery(ctx context.Context, d time.Duration) {
	r.mu.Lock()
	ticker := r.clock.NewTicker(d)
	r.mu.Unlock()
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if _, err := r.Checkpoint("periodic"); err != nil {
				monitoring.Warnf("[integrate] timed snapshot failed: %v", err)
			}
		}
	}
}

func (r *Runner) now() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clock.Now()
}

// combine weights each iteration by its inverse variance. Iterations with
// zero variance are exact; if any exist their plain mean is the answer.
func combine(results []IterationResult) Combined {
	var est, wts, exact []float64
	for _, res := range results {
		if res.Samples == 0 {
			continue
		}
		if res.StdError == 0 {
			exact = append(exact, res.Estimate)
			continue
		}
		est = append(est, res.Estimate)
		wts = append(wts, 1/(res.StdError*res.StdError))
	}
	c := Combined{Iterations: len(est) + len(exact)}
	if len(exact) > 0 {
		c.Estimate = stat.Mean(exact, nil)
		return c
	}
	if len(est) == 0 {
		return c
	}
	c.Estimate = stat.Mean(est, wts)
	c.StdError = 1 / math.Sqrt(floats.Sum(wts))
	if len(est) > 1 {
		chi2 := 0.0
		for i, e := range est {
			d := e - c.Estimate
			chi2 += d * d * wts[i]
		}
		c.Chi2PerDoF = chi2 / float64(len(est)-1)
	}
	return c
}
