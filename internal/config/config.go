// Package config assembles host-wide configuration from CLI flags layered
// over environment variables, and resolves the logger those flags imply.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/stepdriver/host/internal/engine"
	"github.com/stepdriver/host/internal/hosterr"
)

// RunFlags mirrors the `host run` CLI surface from §6.
type RunFlags struct {
	FeaturePath  string
	Driver       string
	DriverConfig string // raw JSON
	Tags         string
	Parallel     string // "true"/"false"; empty means unset
	ReportPath   string
}

// ResolveEngineConfig turns RunFlags plus environment variables into an
// engine.Config. DRIVER_DIR supplies an extra search path; REPORT_PATH
// supplies a default report destination that --report overrides.
func ResolveEngineConfig(f RunFlags) (engine.Config, error) {
	cfg := engine.Config{
		Driver: f.Driver,
		Tags:   f.Tags,
	}

	if f.DriverConfig != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(f.DriverConfig), &m); err != nil {
			return engine.Config{}, &hosterr.ConfigurationError{Reason: "parsing --driverConfig as JSON", Cause: err}
		}
		cfg.DriverConfig = m
	}

	if f.Parallel != "" {
		parallel, err := strconv.ParseBool(f.Parallel)
		if err != nil {
			return engine.Config{}, &hosterr.ConfigurationError{Reason: fmt.Sprintf("invalid --parallel value %q", f.Parallel), Cause: err}
		}
		cfg.Parallel = parallel
	}

	cfg.ReportPath = f.ReportPath
	if cfg.ReportPath == "" {
		cfg.ReportPath = os.Getenv("REPORT_PATH")
	}

	// DRIVER_DIR is consumed directly by registry.New as one of its
	// ordered search paths; InstallPath is reserved for a compiled-in
	// install location and is left unset here.
	return cfg, nil
}

// ResolveLogger builds the top-level logger, honoring LOG_LEVEL.
func ResolveLogger() hclog.Logger {
	level := hclog.Info
	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		level = hclog.LevelFromString(raw)
		if level == hclog.NoLevel {
			level = hclog.Info
		}
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:  "host",
		Level: level,
	})
}
