// Command kometa-ai is the process entrypoint: it parses flags, loads
// configuration, and dispatches to one of the one-shot diagnostic modes or
// the scheduler loop (spec §6). Exit codes: 0 normal, 1 fatal configuration
// error, 2 health-check failure, 3 unrecoverable runtime error.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
)

// version is stamped at build time via -ldflags; "dev" otherwise.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	fs := flag.NewFlagSet("kometa-ai", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		runNow            = fs.Bool("run-now", false, "run immediately instead of waiting for schedule")
		dryRun            = fs.Bool("dry-run", false, "compute actions without mutating the catalog")
		collection        = fs.String("collection", "", "restrict processing to one rubric by name")
		batchSize         = fs.Int("batch-size", 0, "override the configured planner batch size")
		forceRefresh      = fs.Bool("force-refresh", false, "reask all movies, ignoring cached decisions")
		healthCheck       = fs.Bool("health-check", false, "run the health probe and exit")
		dumpConfig        = fs.Bool("dump-config", false, "print the resolved configuration and exit")
		dumpState         = fs.Bool("dump-state", false, "print the decision store and exit")
		resetState        = fs.Bool("reset-state", false, "clear the decision store and exit")
		optimizeBatchSize = fs.Bool("optimize-batch-size", false, "sweep batch sizes against the oracle and print a recommendation")
		showVersion       = fs.Bool("version", false, "print version information and exit")
		rubricDir         = fs.String("rubric-dir", "./kometa-config", "directory containing host collection documents")
		stateDir          = fs.String("state-dir", "./state", "directory for the decision store and its backups")
	)

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 1
	}

	if *showVersion {
		fmt.Fprintf(stdout, "kometa-ai %s\n", version)
		return 0
	}

	logger := newLogger(stderr)

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("configuration error", "error", err)
		return 1
	}
	logger = withDebugLevel(logger, stderr, cfg.DebugLogging)

	app, err := newApp(cfg, *rubricDir, *stateDir, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer app.Close()

	switch {
	case *healthCheck:
		if app.HealthCheck() {
			return 0
		}
		return 2
	case *dumpConfig:
		app.DumpConfig(stdout)
		return 0
	case *dumpState:
		if err := app.DumpState(stdout); err != nil {
			logger.Error("dump-state failed", "error", err)
			return 3
		}
		return 0
	case *resetState:
		if err := app.ResetState(); err != nil {
			logger.Error("reset-state failed", "error", err)
			return 3
		}
		return 0
	case *optimizeBatchSize:
		if err := app.OptimizeBatchSize(stdout); err != nil {
			logger.Error("optimize-batch-size failed", "error", err)
			return 3
		}
		return 0
	case *runNow:
		opts := runOptions{Collection: *collection, BatchSize: *batchSize, ForceRefresh: *forceRefresh, DryRun: *dryRun}
		if err := app.RunOnce(opts); err != nil {
			logger.Error("run failed", "error", err)
			return 3
		}
		return 0
	default:
		app.RunScheduled(runOptions{DryRun: *dryRun})
		return 0
	}
}

func newLogger(w *os.File) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func withDebugLevel(logger *slog.Logger, w *os.File, debug bool) *slog.Logger {
	if !debug {
		return logger
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
