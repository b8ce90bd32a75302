// Package supervisor implements the Process Supervisor (C2): allocating a
// port, spawning a driver's executable, waiting for readiness, and tearing
// it down — gracefully or, as a last resort, by force.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	uuid "github.com/hashicorp/go-uuid"
	ps "github.com/mitchellh/go-ps"

	"github.com/stepdriver/host/internal/hosterr"
	"github.com/stepdriver/host/internal/registry"
)

const (
	readinessPollInterval = 500 * time.Millisecond
	readinessBudget       = 30 * time.Second
	readinessDialTimeout  = 1 * time.Second
	gracefulStopBudget    = 5 * time.Second
)

// state mirrors the per-child state machine: spawning -> ready -> running ->
// stopping -> exited.
type state int

const (
	stateSpawning state = iota
	stateReady
	stateRunning
	stateStopping
	stateExited
)

// ProcessRecord is the bookkeeping the supervisor keeps for one running
// driver instance. Owned exclusively by Supervisor; callers only ever see a
// read-only snapshot.
type ProcessRecord struct {
	DriverID           string
	PID                int
	Port               int
	StartTime          time.Time
	ExecutableBasename string // basename of the binary actually exec'd (e.g. "node", not the script)
	ScriptPath         string // absolute path of the interpreted script, if any; empty for native binaries

	cmd   *exec.Cmd
	state state
	exit  chan struct{} // closed once the child has been observed to exit
}

// Supervisor owns the map of live ProcessRecords and is the sole mutator of
// it. Safe for concurrent use.
type Supervisor struct {
	logger hclog.Logger

	mu       sync.Mutex
	records  map[string]*ProcessRecord
	starting map[string]chan struct{} // in-flight Start() calls, for dedup
	ports    map[int]bool             // ports currently owned by a live record
	spawned  map[string]bool          // every executable basename ever spawned, for EmergencyCleanup
	scripts  map[string]bool          // every interpreted script path ever spawned, for EmergencyCleanup
}

// New constructs an empty Supervisor.
func New(logger hclog.Logger) *Supervisor {
	return &Supervisor{
		logger:   logger.Named("supervisor"),
		records:  make(map[string]*ProcessRecord),
		starting: make(map[string]chan struct{}),
		ports:    make(map[int]bool),
		spawned:  make(map[string]bool),
		scripts:  make(map[string]bool),
	}
}

// Start launches meta's driver if it is not already running. If already
// running, it returns the existing record (idempotent); concurrent callers
// for the same driver id dedupe to exactly one spawn.
func (s *Supervisor) Start(ctx context.Context, meta *registry.DriverMetadata) (*ProcessRecord, error) {
	for {
		s.mu.Lock()
		if rec, ok := s.records[meta.ID]; ok {
			s.mu.Unlock()
			return rec, nil
		}
		if wait, inFlight := s.starting[meta.ID]; inFlight {
			s.mu.Unlock()
			select {
			case <-wait:
				continue // re-check: either published now, or failed and cleared
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		wait := make(chan struct{})
		s.starting[meta.ID] = wait
		s.mu.Unlock()

		rec, err := s.spawn(ctx, meta)

		s.mu.Lock()
		delete(s.starting, meta.ID)
		if err == nil {
			s.records[meta.ID] = rec
			s.ports[rec.Port] = true
			s.spawned[rec.ExecutableBasename] = true
			if rec.ScriptPath != "" {
				s.scripts[rec.ScriptPath] = true
			}
		}
		close(wait)
		s.mu.Unlock()

		return rec, err
	}
}

func (s *Supervisor) spawn(ctx context.Context, meta *registry.DriverMetadata) (*ProcessRecord, error) {
	port, err := allocatePort(func(p int) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.ports[p]
	})
	if err != nil {
		return nil, &hosterr.DriverStartupError{DriverID: meta.ID, Executable: meta.Executable, Cause: err}
	}

	cmd, scriptPath, err := buildCommandFn(meta, port)
	if err != nil {
		return nil, &hosterr.DriverStartupError{DriverID: meta.ID, Executable: meta.Executable, Cause: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &hosterr.DriverStartupError{DriverID: meta.ID, Executable: meta.Executable, Cause: err}
	}

	rec := &ProcessRecord{
		DriverID:           meta.ID,
		PID:                cmd.Process.Pid,
		Port:               port,
		StartTime:          time.Now(),
		ExecutableBasename: filepath.Base(cmd.Path),
		ScriptPath:         scriptPath,
		cmd:                cmd,
		state:              stateSpawning,
		exit:               make(chan struct{}),
	}

	exitErr := make(chan error, 1)
	go func() {
		exitErr <- cmd.Wait()
		close(rec.exit)
	}()

	if err := waitForReady(ctx, port, rec.exit); err != nil {
		cmd.Process.Kill()
		<-rec.exit
		return nil, &hosterr.DriverStartupError{DriverID: meta.ID, Executable: meta.Executable, Cause: err}
	}

	rec.state = stateReady
	s.logger.Info("driver started", "driver_id", meta.ID, "pid", rec.PID, "port", port)
	return rec, nil
}

// waitForReady polls 127.0.0.1:port every readinessPollInterval for up to
// readinessBudget, aborting early if exited fires first.
func waitForReady(ctx context.Context, port int, exited <-chan struct{}) error {
	return waitForReadyWithBudget(ctx, port, exited, readinessBudget, readinessPollInterval)
}

// waitForReadyWithBudget is waitForReady with the budget and poll interval
// as parameters, so tests can exercise the timeout path quickly.
func waitForReadyWithBudget(ctx context.Context, port int, exited <-chan struct{}, budget, pollInterval time.Duration) error {
	deadline := time.Now().Add(budget)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	for {
		conn, err := net.DialTimeout("tcp", addr, readinessDialTimeout)
		if err == nil {
			conn.Close()
			return nil
		}

		select {
		case <-exited:
			return fmt.Errorf("driver process exited before becoming ready")
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("readiness probe timed out after %s", budget)
		}

		select {
		case <-time.After(pollInterval):
		case <-exited:
			return fmt.Errorf("driver process exited before becoming ready")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// buildCommandFn is a package variable so tests can intercept command
// construction (e.g. to inject a sentinel env var that makes the test
// binary itself masquerade as a driver).
var buildCommandFn = buildCommand

// buildCommand constructs the child process invocation per §4.2: .js
// executables are run through the platform script interpreter, anything
// else is invoked directly. --port and the DRIVER_PORT/DRIVER_INSTANCE_ID
// environment variables are always set; cwd is the driver's root directory.
//
// The second return value is the absolute script path for interpreted
// drivers (empty for native binaries). For a ".js" driver the process
// actually exec'd is the interpreter ("node"), not the script — callers
// need the script path separately to target it by command-line for
// emergency cleanup, since "node" alone is not a unique process name.
func buildCommand(meta *registry.DriverMetadata, port int) (*exec.Cmd, string, error) {
	execPath := filepath.Join(meta.Path, meta.Executable)

	var name string
	var args []string
	var scriptPath string
	if strings.EqualFold(filepath.Ext(meta.Executable), ".js") {
		name = nodeInterpreter()
		args = []string{execPath}
		scriptPath = execPath
	} else {
		name = execPath
	}
	args = append(args, "--port", strconv.Itoa(port))

	cmd := exec.Command(name, args...)
	cmd.Dir = meta.Path

	instanceID, err := randomInstanceID(meta.ID)
	if err != nil {
		return nil, "", err
	}

	cmd.Env = append(os.Environ(),
		fmt.Sprintf("DRIVER_PORT=%d", port),
		fmt.Sprintf("DRIVER_INSTANCE_ID=%s", instanceID),
	)

	return cmd, scriptPath, nil
}

func nodeInterpreter() string {
	if runtime.GOOS == "windows" {
		return "node.exe"
	}
	return "node"
}

func randomInstanceID(driverID string) (string, error) {
	suffix, err := uuid.GenerateUUID()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d-%s", driverID, time.Now().UnixMilli(), suffix[:8]), nil
}

// Stop sends the platform's graceful termination signal, waits up to
// gracefulStopBudget for exit, then force-kills. Always removes the record.
func (s *Supervisor) Stop(driverID string) error {
	s.mu.Lock()
	rec, ok := s.records[driverID]
	if !ok {
		s.mu.Unlock()
		return nil // already stopped: no-op per idempotence contract
	}
	rec.state = stateStopping
	s.mu.Unlock()

	err := stopProcess(rec)

	s.mu.Lock()
	rec.state = stateExited
	delete(s.records, driverID)
	delete(s.ports, rec.Port)
	s.mu.Unlock()

	return err
}

func stopProcess(rec *ProcessRecord) error {
	if rec.cmd.Process == nil {
		return nil
	}

	if err := terminateGracefully(rec.cmd.Process); err != nil {
		// Process may already be gone; that's fine.
	}

	select {
	case <-rec.exit:
		return nil
	case <-time.After(gracefulStopBudget):
	}

	if err := rec.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to force-kill driver %q (pid %d): %w", rec.DriverID, rec.PID, err)
	}

	select {
	case <-rec.exit:
	case <-time.After(gracefulStopBudget):
		return fmt.Errorf("driver %q (pid %d) did not exit after force-kill", rec.DriverID, rec.PID)
	}
	return nil
}

// StopAll stops every live record in parallel. Per-driver failures are
// logged but do not halt the sweep; they are aggregated and returned.
func (s *Supervisor) StopAll() error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := s.Stop(id); err != nil {
				s.logger.Warn("failed to stop driver", "driver_id", id, "error", err)
				errs <- err
			}
		}(id)
	}
	wg.Wait()
	close(errs)

	var result *multierror.Error
	for err := range errs {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// EmergencyCleanup is the last-resort guarantor: it first attempts StopAll,
// then force-kills, by executable basename, every name this supervisor has
// ever spawned in this host's lifetime, and separately targets interpreter
// processes (e.g. "node") by matching their command-line against every
// script path this supervisor ever launched, since the interpreter's own
// basename is shared across every interpreted driver and cannot identify
// which one to kill.
func (s *Supervisor) EmergencyCleanup() error {
	var result *multierror.Error
	if err := s.StopAll(); err != nil {
		result = multierror.Append(result, err)
	}

	s.mu.Lock()
	basenames := make([]string, 0, len(s.spawned))
	for name := range s.spawned {
		basenames = append(basenames, name)
	}
	scripts := make([]string, 0, len(s.scripts))
	for script := range s.scripts {
		scripts = append(scripts, script)
	}
	s.mu.Unlock()

	for _, name := range basenames {
		if err := killByBasename(name); err != nil {
			s.logger.Warn("emergency cleanup: failed to kill by basename", "name", name, "error", err)
			result = multierror.Append(result, err)
		}
	}
	for _, script := range scripts {
		if err := killByScriptPath(script); err != nil {
			s.logger.Warn("emergency cleanup: failed to kill by script path", "script", script, "error", err)
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

// killByBasename force-kills every OS process whose executable name matches
// base, using mitchellh/go-ps for cross-platform process listing. Only when
// the process list cannot be read does it fall back to a shelled
// taskkill/pkill; a matched process that fails to die is reported as an
// error, not retried through the shell.
func killByBasename(base string) error {
	procs, err := ps.Processes()
	if err != nil {
		return fallbackKill(base)
	}

	var result *multierror.Error
	matched := false
	for _, p := range procs {
		if strings.EqualFold(p.Executable(), base) {
			matched = true
			if proc, err := os.FindProcess(p.Pid()); err == nil {
				if err := proc.Kill(); err != nil {
					result = multierror.Append(result, err)
				}
			}
		}
	}

	if !matched {
		return result.ErrorOrNil()
	}
	return result.ErrorOrNil()
}

func fallbackKill(base string) error {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.Command("taskkill", "/F", "/IM", base)
	} else {
		cmd = exec.Command("pkill", "-9", base)
	}
	// Best-effort: a non-zero exit (no matching process) is not an error
	// worth surfacing.
	_ = cmd.Run()
	return nil
}

// killByScriptPath force-kills, by command-line match rather than process
// name, every interpreter process whose arguments reference script. This is
// the only way to single out one interpreted driver: every ".js" driver
// shares the same interpreter basename ("node"), so killByBasename alone
// cannot tell them apart.
func killByScriptPath(script string) error {
	if script == "" {
		return nil
	}
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.Command("wmic", "process", "where", fmt.Sprintf("CommandLine like '%%%s%%'", script), "call", "terminate")
	} else {
		cmd = exec.Command("pkill", "-9", "-f", script)
	}
	// Best-effort, same as fallbackKill: no matching process is not an error.
	_ = cmd.Run()
	return nil
}

// IsRunning reports whether driverID currently has a live record.
func (s *Supervisor) IsRunning(driverID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[driverID]
	return ok
}

// List returns a snapshot of every live driver id.
func (s *Supervisor) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	return out
}

// Record returns a copy of the live record for driverID, if any. Used by
// the RPC layer to learn which port to dial.
func (s *Supervisor) Record(driverID string) (ProcessRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[driverID]
	if !ok {
		return ProcessRecord{}, false
	}
	return *rec, true
}
