// Package engine implements the Execution Engine (C5): wiring the driver
// registry, process supervisor, RPC clients, and step registry together to
// run Gherkin feature files and produce a report.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/stepdriver/host/internal/gherkinadapter"
	"github.com/stepdriver/host/internal/hosterr"
	"github.com/stepdriver/host/internal/registry"
	"github.com/stepdriver/host/internal/report"
	"github.com/stepdriver/host/internal/rpcclient"
	"github.com/stepdriver/host/internal/steps"
	"github.com/stepdriver/host/internal/supervisor"
)

// Engine coordinates one host run: discovery, dispatch, and reporting.
type Engine struct {
	logger     hclog.Logger
	cfg        Config
	registry   *registry.Registry
	supervisor *supervisor.Supervisor
	steps      *steps.Registry

	mu           sync.Mutex
	clients      map[string]rpcclient.Client
	introspected map[string]bool

	shuttingDown chan struct{}
	shutdownOnce sync.Once
}

// New constructs an Engine. Call Initialize before RunFeature.
func New(logger hclog.Logger) *Engine {
	return &Engine{
		logger:       logger.Named("engine"),
		steps:        steps.New(),
		clients:      make(map[string]rpcclient.Client),
		introspected: make(map[string]bool),
		shuttingDown: make(chan struct{}),
	}
}

// Initialize brings up the driver registry and seeds the step registry from
// every manifest's statically declared steps. If cfg.Driver is set, that
// driver is pre-started (and introspected) eagerly; otherwise every driver
// is started lazily, on first use by a matched step.
func (e *Engine) Initialize(ctx context.Context, cfg Config) error {
	e.cfg = cfg
	e.registry = registry.New(e.logger, cfg.InstallPath)
	e.supervisor = supervisor.New(e.logger)

	if err := e.registry.Initialize(); err != nil {
		return err
	}

	for _, id := range e.registry.List() {
		meta, _ := e.registry.Get(id)
		for _, s := range meta.SupportedSteps {
			def := steps.Definition{ID: s.ID, Pattern: s.Pattern, Action: s.Action, Description: s.Description}
			if err := e.steps.Register(id, def); err != nil {
				e.logger.Warn("skipping unregisterable static step", "driver_id", id, "pattern", s.Pattern, "error", err)
			}
		}
	}

	if cfg.Driver != "" {
		if _, err := e.ensureClient(ctx, cfg.Driver); err != nil {
			return err
		}
	}

	return nil
}

// ensureClient returns a connected, initialized client for driverID,
// starting and introspecting the driver the first time it is needed.
func (e *Engine) ensureClient(ctx context.Context, driverID string) (rpcclient.Client, error) {
	e.mu.Lock()
	if c, ok := e.clients[driverID]; ok {
		e.mu.Unlock()
		return c, nil
	}
	e.mu.Unlock()

	meta, ok := e.registry.Get(driverID)
	if !ok {
		return nil, &hosterr.ConfigurationError{Reason: fmt.Sprintf("no registered driver %q", driverID)}
	}

	rec, err := e.supervisor.Start(ctx, meta)
	if err != nil {
		return nil, err
	}

	client := rpcclient.New(rpcTransport(meta.Transport), driverID, rec.Port, e.logger)
	if _, err := client.Start(ctx); err != nil {
		return nil, &hosterr.DriverStartupError{DriverID: driverID, Executable: meta.Executable, Cause: err}
	}
	if err := client.Initialize(ctx, mergedConfig(meta.Config, e.cfg.DriverConfig)); err != nil {
		return nil, &hosterr.DriverStartupError{DriverID: driverID, Executable: meta.Executable, Cause: err}
	}

	e.mu.Lock()
	e.clients[driverID] = client
	needsIntrospect := !e.introspected[driverID]
	e.introspected[driverID] = true
	e.mu.Unlock()

	if needsIntrospect {
		e.introspectSteps(ctx, driverID, client)
	}

	return client, nil
}

// introspectSteps augments the step registry from a live driver's own
// reported step definitions. Introspection happens lazily, the first time a
// driver is actually started for a real step, per the fixed default.
func (e *Engine) introspectSteps(ctx context.Context, driverID string, client rpcclient.Client) {
	raw, err := client.Introspect(ctx, "steps")
	if err != nil {
		e.logger.Warn("step introspection failed", "driver_id", driverID, "error", err)
		return
	}

	var defs []steps.Definition
	if err := json.Unmarshal(raw, &defs); err != nil {
		e.logger.Warn("step introspection returned an unparsable payload", "driver_id", driverID, "error", err)
		return
	}

	for _, d := range defs {
		if err := e.steps.Register(driverID, d); err != nil {
			e.logger.Warn("skipping unregisterable introspected step", "driver_id", driverID, "pattern", d.Pattern, "error", err)
		}
	}
}

func mergedConfig(manifestConfig, runConfig map[string]any) map[string]any {
	out := make(map[string]any, len(manifestConfig)+len(runConfig))
	for k, v := range manifestConfig {
		out[k] = v
	}
	for k, v := range runConfig {
		out[k] = v
	}
	return out
}

// RunFeature parses the feature file at path, filters its scenarios by
// cfg.Tags, executes every matching scenario, and returns a Report.
func (e *Engine) RunFeature(ctx context.Context, path string) (report.Report, error) {
	start := time.Now()

	f, err := os.Open(path)
	if err != nil {
		return report.Report{}, &hosterr.ConfigurationError{Reason: fmt.Sprintf("opening feature file %q", path), Cause: err}
	}
	defer f.Close()

	feature, err := gherkinadapter.Parse(path, f)
	if err != nil {
		return report.Report{}, err
	}

	tagExpr, err := gherkinadapter.CompileTagExpression(e.cfg.Tags)
	if err != nil {
		return report.Report{}, err
	}

	var scenarios []gherkinadapter.Scenario
	for _, s := range feature.Scenarios {
		if tagExpr.Matches(s.Tags) {
			scenarios = append(scenarios, s)
		}
	}

	var results []report.StepResult
	if e.cfg.Parallel {
		results = e.runParallel(ctx, scenarios)
	} else {
		for _, s := range scenarios {
			results = append(results, e.runScenario(ctx, s)...)
		}
	}

	return report.New(start, e.cfg.HostVersion, results), nil
}

func (e *Engine) runParallel(ctx context.Context, scenarios []gherkinadapter.Scenario) []report.StepResult {
	workers := e.cfg.workerCount()
	jobs := make(chan int)
	out := make([][]report.StepResult, len(scenarios))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = e.runScenario(ctx, scenarios[i])
			}
		}()
	}
	for i := range scenarios {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var results []report.StepResult
	for _, r := range out {
		results = append(results, r...)
	}
	return results
}

// runScenario executes steps sequentially, halting the scenario (but not
// the feature) on the first failure.
func (e *Engine) runScenario(ctx context.Context, s gherkinadapter.Scenario) []report.StepResult {
	results := make([]report.StepResult, 0, len(s.Steps))
	failed := false

	for _, step := range s.Steps {
		select {
		case <-e.shuttingDown:
			return results
		default:
		}

		if failed {
			break
		}
		results = append(results, e.dispatchStep(ctx, step))
		if !results[len(results)-1].Success {
			failed = true
		}
	}
	return results
}

// dispatchStep implements the per-step algorithm from §4.5: match, ensure
// the driver is started and initialized, execute, and time the call.
func (e *Engine) dispatchStep(ctx context.Context, step gherkinadapter.Step) report.StepResult {
	started := time.Now()
	text := step.Text

	match, err := e.steps.Match(text)
	if err != nil {
		return failureResult(text, started, err)
	}
	if match.AmbiguousCount > 0 {
		e.logger.Warn("step text matched multiple patterns; using first-registered", "step", text, "ambiguous_matches", match.AmbiguousCount)
	}

	client, err := e.ensureClient(ctx, match.DriverID)
	if err != nil {
		return failureResult(text, started, err)
	}

	execCtx, cancel := context.WithTimeout(ctx, rpcclient.ExecuteTimeout)
	defer cancel()

	result, err := client.Execute(execCtx, match.Action, match.Args)
	if err != nil {
		return failureResult(text, started, err)
	}

	sr := report.StepResult{
		Step:       text,
		Timestamp:  started,
		DurationMs: time.Since(started).Milliseconds(),
		Success:    result.Success,
	}
	if result.Success {
		if len(result.Data) > 0 {
			var data interface{}
			if err := json.Unmarshal(result.Data, &data); err == nil {
				sr.Data = data
			}
		}
	} else if result.Error != nil {
		sr.Error = &report.StepError{Message: result.Error.Message}
	}
	return sr
}

func failureResult(step string, started time.Time, err error) report.StepResult {
	return report.StepResult{
		Step:       step,
		Success:    false,
		Error:      &report.StepError{Message: err.Error()},
		Timestamp:  started,
		DurationMs: time.Since(started).Milliseconds(),
	}
}

// RequestShutdown stops the engine from dispatching new steps. In-flight
// steps are allowed to finish (or hit their RPC timeout).
func (e *Engine) RequestShutdown() {
	e.shutdownOnce.Do(func() { close(e.shuttingDown) })
}

// Shutdown stops every driver the engine started.
func (e *Engine) Shutdown() error {
	if e.supervisor == nil {
		return nil
	}
	return e.supervisor.StopAll()
}

// EmergencyCleanup is invoked on a second interrupt signal.
func (e *Engine) EmergencyCleanup() error {
	if e.supervisor == nil {
		return nil
	}
	return e.supervisor.EmergencyCleanup()
}
