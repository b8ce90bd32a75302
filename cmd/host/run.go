package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/stepdriver/host/internal/config"
	"github.com/stepdriver/host/internal/engine"
	"github.com/stepdriver/host/internal/report"
)

type runCommand struct {
	logger  hclog.Logger
	version string
}

func (c *runCommand) Synopsis() string {
	return "Run a Gherkin feature file against discovered drivers"
}

func (c *runCommand) Help() string {
	return strings.TrimSpace(`
Usage: host run <feature-file> [options]

  Parses a Gherkin feature file, dispatches each step to the driver that
  registered a matching pattern, and writes a report.

Options:

  --driver=<id>           Pre-start a specific driver instead of starting
                           drivers lazily, one per matched step.
  --driverConfig=<json>   JSON object merged into every driver's initialize
                           call.
  --tags=<expr>           Tag expression filtering which scenarios run,
                           e.g. "@smoke and not @wip".
  --parallel=<bool>       Run scenarios concurrently (default false).
  --report=<path>         Directory to write report.json/report.html into.
`)
}

func (c *runCommand) Run(args []string) int {
	var flags config.RunFlags
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.StringVar(&flags.Driver, "driver", "", "pre-start this driver id")
	fs.StringVar(&flags.DriverConfig, "driverConfig", "", "JSON object passed to every driver's initialize call")
	fs.StringVar(&flags.Tags, "tags", "", "tag expression filtering scenarios")
	fs.StringVar(&flags.Parallel, "parallel", "", "run scenarios concurrently")
	fs.StringVar(&flags.ReportPath, "report", "", "directory to write report artifacts into")
	if err := fs.Parse(args); err != nil {
		return exitUsageError
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "expected exactly one feature file argument")
		return exitUsageError
	}
	flags.FeaturePath = fs.Arg(0)

	cfg, err := config.ResolveEngineConfig(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsageError
	}
	cfg.HostVersion = c.version

	e := engine.New(c.logger)

	// The signal context only keeps an interrupt from killing the process
	// before watchForSecondInterrupt takes over; it is not handed to the
	// engine, so the first interrupt stops new steps without cancelling the
	// one in flight.
	ctx := context.Background()
	_, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go watchForSecondInterrupt(e, c.logger)

	if err := e.Initialize(ctx, cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInitError
	}

	r, err := e.RunFeature(ctx, flags.FeaturePath)
	e.RequestShutdown()
	if shutdownErr := e.Shutdown(); shutdownErr != nil {
		c.logger.Warn("error stopping drivers during shutdown", "error", shutdownErr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInitError
	}

	if writeErr := report.WriteAll(r, cfg.ReportPath, os.Stdout); writeErr != nil {
		fmt.Fprintln(os.Stderr, writeErr)
	}

	if r.Failed() {
		return exitFailed
	}
	return exitSuccess
}

// watchForSecondInterrupt escalates to EmergencyCleanup and a fast exit if
// the operator sends a second interrupt while a run is shutting down.
func watchForSecondInterrupt(e *engine.Engine, logger hclog.Logger) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	e.RequestShutdown()
	<-sigCh
	logger.Warn("second interrupt received, forcing emergency cleanup")
	if err := e.EmergencyCleanup(); err != nil {
		logger.Warn("emergency cleanup reported errors", "error", err)
	}
	os.Exit(exitFailed)
}
