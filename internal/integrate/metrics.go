package integrate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	samplesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcgrid_samples_total",
		Help: "Points drawn from the grid and evaluated",
	})

	generateFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcgrid_generate_failures_total",
		Help: "Sampling attempts that produced no point",
	})

	adaptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcgrid_adapt_total",
		Help: "Adaptation rounds run on the grid",
	})

	gridLeaves = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcgrid_grid_leaves",
		Help: "Leaf count of the grid after the last iteration",
	})

	gridNorm = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcgrid_grid_norm",
		Help: "Root weight of the grid after the last iteration",
	})

	iterationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mcgrid_iteration_duration_seconds",
		Help:    "Wall time of one sampling iteration",
		Buckets: []float64{0.001, 0.01, 0.1, 1, 10, 100},
	})

	snapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcgrid_snapshots_total",
		Help: "Grid snapshots written to the store",
	}, []string{"reason"})
)
