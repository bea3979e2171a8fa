package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"tailscale.com/tsweb"

	"github.com/banshee-data/mcgrid/internal/config"
	"github.com/banshee-data/mcgrid/internal/db"
	"github.com/banshee-data/mcgrid/internal/fsutil"
	"github.com/banshee-data/mcgrid/internal/grid"
	"github.com/banshee-data/mcgrid/internal/integrate"
	"github.com/banshee-data/mcgrid/internal/monitor"
	"github.com/banshee-data/mcgrid/internal/monitoring"
	"github.com/banshee-data/mcgrid/internal/rng"
)

// healthService is the name reported by the gRPC health server.
const healthService = "mcgrid.Integrator"

type appOptions struct {
	ConfigPath string
	DBPath     string
	PlotsDir   string
	LoadPath   string
	SavePath   string
	Listen     string
	GRPCListen string
	Checkpoint time.Duration
	Hold       bool

	fsys fsutil.FileSystem // OSFileSystem when nil
}

func loadConfig(path string) (*config.RunConfig, error) {
	if path == "" {
		return config.EmptyRunConfig(), nil
	}
	return config.LoadRunConfig(path)
}

// buildGrid creates a fresh grid from cfg, or loads a saved one. A loaded
// grid must match the configured dimension.
func buildGrid(cfg *config.RunConfig, fsys fsutil.FileSystem, loadPath string) (*grid.Grid, error) {
	src := rng.New(cfg.GetSeed())
	if loadPath != "" {
		g, err := grid.LoadFile(fsys, loadPath, src, cfg.GetDimension())
		if err != nil {
			return nil, err
		}
		log.Printf("resumed grid from %s: %d leaves", loadPath, g.LeafCount())
		return g, nil
	}
	gcfg, err := cfg.GridConfig()
	if err != nil {
		return nil, err
	}
	return grid.New(gcfg, src)
}

func newRunner(cfg *config.RunConfig, g *grid.Grid) (*integrate.Runner, error) {
	f, err := integrate.Lookup(cfg.GetIntegrand())
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	r, err := integrate.NewRunner(g, f, integrate.Options{
		SamplesPerIteration: cfg.GetSamplesPerIteration(),
		Iterations:          cfg.GetIterations(),
		AdaptEvery:          cfg.GetAdaptEvery(),
		SnapshotEvery:       cfg.GetSnapshotEvery(),
		Integrand:           cfg.GetIntegrand(),
		ConfigJSON:          string(raw),
	})
	if err != nil {
		return nil, err
	}
	if a, b, ok := cfg.GetSubGrid(); ok {
		if err := r.Restrict(a, b); err != nil {
			return nil, fmt.Errorf("failed to restrict sampling: %w", err)
		}
	}
	return r, nil
}

// newDebugMux mounts the debug pages, the database admin routes when a
// database is open, and the Prometheus endpoint.
func newDebugMux(r *integrate.Runner, database *db.DB) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	debug := tsweb.Debugger(mux)
	if database != nil {
		if err := database.AttachAdminRoutes(debug); err != nil {
			return nil, err
		}
	}
	monitor.NewCharts(r, "run "+r.RunID()).AttachRoutes(debug)
	mux.Handle("/metrics", promhttp.Handler())
	return mux, nil
}

// serveHTTP runs an HTTP server on ln until ctx is done.
func serveHTTP(ctx context.Context, ln net.Listener, h http.Handler) {
	server := &http.Server{Handler: h}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
}

// serveHealth runs a gRPC health server on ln until ctx is done. The
// integrator reports SERVING while hs says so.
func serveHealth(ctx context.Context, ln net.Listener, hs *health.Server) {
	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Printf("gRPC server error: %v", err)
		}
	}()
	<-ctx.Done()
	hs.Shutdown()
	server.GracefulStop()
}

func writePlots(plotter *monitor.GridPlotter) {
	plotter.Stop()
	n, err := plotter.GeneratePlots()
	if err != nil {
		log.Printf("failed to generate plots: %v", err)
		return
	}
	log.Printf("wrote %d plots to %s", n, plotter.GetOutputDir())
}

func run(ctx context.Context, o appOptions) (integrate.Combined, error) {
	fsys := o.fsys
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}

	cfg, err := loadConfig(o.ConfigPath)
	if err != nil {
		return integrate.Combined{}, err
	}
	monitoring.SetLevel(cfg.GetLogLevel())

	g, err := buildGrid(cfg, fsys, o.LoadPath)
	if err != nil {
		return integrate.Combined{}, err
	}
	r, err := newRunner(cfg, g)
	if err != nil {
		return integrate.Combined{}, err
	}
	defer r.Close()
	log.Printf("run %s: %d-dimensional %s grid, integrand %s", r.RunID(), g.Dim(), g.Mode(), cfg.GetIntegrand())

	var database *db.DB
	if o.DBPath != "" {
		database, err = db.NewDB(o.DBPath)
		if err != nil {
			return integrate.Combined{}, fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()
		r.SetStore(database)
		r.SetRunStore(database)
	}

	var plotter *monitor.GridPlotter
	if o.PlotsDir != "" {
		plotter = monitor.NewGridPlotter(fsys, r.RunID())
		if err := plotter.Start(monitor.MakePlotOutputDir(o.PlotsDir, r.RunID(), time.Now())); err != nil {
			return integrate.Combined{}, err
		}
		r.AddListener(plotter)
	}

	serveCtx, stopServing := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		stopServing()
		wg.Wait()
	}()

	hs := health.NewServer()
	hs.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	if o.GRPCListen != "" {
		ln, err := net.Listen("tcp", o.GRPCListen)
		if err != nil {
			return integrate.Combined{}, fmt.Errorf("failed to listen on %s: %w", o.GRPCListen, err)
		}
		log.Printf("gRPC health on %s", ln.Addr())
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHealth(serveCtx, ln, hs)
		}()
	}
	if o.Listen != "" {
		mux, err := newDebugMux(r, database)
		if err != nil {
			return integrate.Combined{}, err
		}
		ln, err := net.Listen("tcp", o.Listen)
		if err != nil {
			return integrate.Combined{}, fmt.Errorf("failed to listen on %s: %w", o.Listen, err)
		}
		log.Printf("debug pages on http://%s/debug/", ln.Addr())
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHTTP(serveCtx, ln, mux)
		}()
	}

	if o.Checkpoint > 0 && database != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckpointEvery(serveCtx, o.Checkpoint)
		}()
	}

	res, runErr := r.Run(ctx)
	hs.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)

	if plotter != nil {
		writePlots(plotter)
	}
	if o.SavePath != "" {
		var saveErr error
		r.View(func(g *grid.Grid) { saveErr = g.SaveFile(fsys, o.SavePath) })
		if saveErr != nil {
			return res, errors.Join(runErr, saveErr)
		}
		log.Printf("saved grid to %s", o.SavePath)
	}

	if o.Hold && runErr == nil && (o.Listen != "" || o.GRPCListen != "") {
		log.Printf("run finished; serving until interrupted")
		<-ctx.Done()
	}
	return res, runErr
}
