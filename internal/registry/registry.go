// Package registry implements the Driver Registry (C1): discovery of
// drivers on disk and the immutable catalog of their metadata.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/stepdriver/host/internal/hosterr"
)

// discoveryWait bounds how long a concurrent caller waits for an in-flight
// Initialize to finish before failing with a ConfigurationError.
const discoveryWait = 10 * time.Second

// commonAlternates are probed, in order, when a manifest's declared
// executable does not exist at its expected path.
var commonAlternates = []string{"index.js", "driver.exe", "driver"}

// DriverMetadata is the immutable record the registry publishes for one
// discovered driver. It is created once and never mutated.
type DriverMetadata struct {
	ID             string
	Name           string
	Version        string
	Path           string // driver root directory
	Executable     string // resolved, path relative to Path
	Transport      Transport
	Config         map[string]any
	SupportedSteps []StepDefinition

	discoveredAt time.Time
}

// Registry walks the configured search paths, parses manifests, and serves
// an immutable catalog of DriverMetadata. The zero value is not usable; call
// New.
type Registry struct {
	logger      hclog.Logger
	searchPaths []string

	mu       sync.Mutex
	done     chan struct{} // closed once Initialize has completed (success or failure)
	started  bool
	initErr  error
	drivers  map[string]*DriverMetadata
	order    []string
}

// New constructs a Registry over the given search paths, in precedence
// order: (a) <cwd>/drivers, (b) <exe-dir>/drivers, (c) an install-time path,
// (d) $DRIVER_DIR if set.
func New(logger hclog.Logger, installPath string) *Registry {
	var paths []string
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, "drivers"))
	}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), "drivers"))
	}
	if installPath != "" {
		paths = append(paths, installPath)
	}
	if dir := os.Getenv("DRIVER_DIR"); dir != "" {
		paths = append(paths, dir)
	}

	return &Registry{
		logger:      logger.Named("registry"),
		searchPaths: paths,
		drivers:     make(map[string]*DriverMetadata),
	}
}

// Initialize enumerates drivers from the search paths. It is idempotent: a
// second call returns the cached results. A concurrent second caller waits
// (bounded by discoveryWait) for the first to finish rather than re-scanning.
func (r *Registry) Initialize() error {
	r.mu.Lock()
	if r.started {
		done := r.done
		r.mu.Unlock()
		select {
		case <-done:
			return r.initErr
		case <-time.After(discoveryWait):
			return &hosterr.ConfigurationError{Reason: "timed out waiting for concurrent driver discovery"}
		}
	}
	r.started = true
	r.done = make(chan struct{})
	r.mu.Unlock()

	err := r.scan()

	r.mu.Lock()
	r.initErr = err
	close(r.done)
	r.mu.Unlock()

	return err
}

func (r *Registry) scan() error {
	var order []string
	drivers := make(map[string]*DriverMetadata)

	for _, searchPath := range r.searchPaths {
		entries, err := os.ReadDir(searchPath)
		if err != nil {
			// A missing search path is normal (most of them are optional);
			// log at debug and move on.
			r.logger.Debug("search path unavailable", "path", searchPath, "error", err)
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(searchPath, entry.Name())
			manifestPath := filepath.Join(dir, "driver.json")
			raw, err := os.ReadFile(manifestPath)
			if err != nil {
				continue // no manifest here; not a driver directory
			}

			m, err := decodeManifest(raw)
			if err != nil {
				r.logger.Warn("skipping malformed manifest", "path", manifestPath, "error", err)
				continue
			}
			m.fill(entry.Name())

			resolvedExecutable, err := resolveExecutable(dir, m.Executable, m.ID)
			if err != nil {
				r.logger.Warn("skipping driver with unresolvable executable", "id", m.ID, "error", err)
				continue
			}

			if _, exists := drivers[m.ID]; exists {
				r.logger.Warn("skipping driver with duplicate id", "id", m.ID, "path", dir)
				continue
			}

			md := &DriverMetadata{
				ID:             m.ID,
				Name:           m.Name,
				Version:        m.Version,
				Path:           dir,
				Executable:     resolvedExecutable,
				Transport:      m.Transport,
				Config:         m.Config,
				SupportedSteps: m.staticSteps(),
				discoveredAt:   time.Now(),
			}
			drivers[m.ID] = md
			order = append(order, m.ID)
		}
	}

	r.mu.Lock()
	r.drivers = drivers
	r.order = order
	r.mu.Unlock()

	r.logger.Info("driver discovery complete", "count", len(order))
	return nil
}

// resolveExecutable checks the manifest's declared executable first, then
// falls back to a short list of common alternates before giving up.
func resolveExecutable(dir, declared, id string) (string, error) {
	candidates := []string{declared}
	candidates = append(candidates, commonAlternates...)
	candidates = append(candidates, id+".exe", id)

	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, c)); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no executable found for driver %q in %s (tried %v)", id, dir, candidates)
}

// Get returns the metadata for id, or false if no such driver was
// discovered.
func (r *Registry) Get(id string) (*DriverMetadata, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	md, ok := r.drivers[id]
	return md, ok
}

// List returns driver ids in discovery order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
