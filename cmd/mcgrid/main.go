package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/mcgrid/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to run config JSON (built-in defaults when empty)")
	dbPath      = flag.String("db", "", "SQLite database for snapshots and run records (disabled when empty)")
	plotsDir    = flag.String("plots", "", "Base directory for PNG plots written after the run (disabled when empty)")
	loadPath    = flag.String("load", "", "Resume from a grid saved with -save instead of a fresh grid")
	savePath    = flag.String("save", "", "Write the final grid in text form to this file")
	listen      = flag.String("listen", "", "Serve debug pages and /metrics on this address")
	grpcListen  = flag.String("grpc-listen", "", "Serve gRPC health checks on this address")
	checkpoint  = flag.Duration("checkpoint-interval", 0, "Snapshot the grid on this interval while running (0 disables)")
	hold        = flag.Bool("hold", false, "Keep serving after the run finishes until interrupted")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := run(ctx, appOptions{
		ConfigPath: *configPath,
		DBPath:     *dbPath,
		PlotsDir:   *plotsDir,
		LoadPath:   *loadPath,
		SavePath:   *savePath,
		Listen:     *listen,
		GRPCListen: *grpcListen,
		Checkpoint: *checkpoint,
		Hold:       *hold,
	})
	if err != nil {
		log.Printf("run failed: %v", err)
		os.Exit(1)
	}
	fmt.Printf("estimate %.10g +- %.3g (chi2/dof %.3g, %d iterations)\n",
		res.Estimate, res.StdError, res.Chi2PerDoF, res.Iterations)
}
