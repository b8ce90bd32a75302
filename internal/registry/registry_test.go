package registry

import (
	"os"
	"path/filepath"
	"testing"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, id, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "driver.json"), []byte(contents), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "driver.js"), []byte("// stub"), 0o644))
}

func testLogger() hclog.Logger {
	return hclog.NewNullLogger()
}

func TestRegistry_discoversManifestsAndDefaults(t *testing.T) {
	tmp := t.TempDir()
	driversDir := filepath.Join(tmp, "drivers")

	writeManifest(t, filepath.Join(driversDir, "example"), "example", `{
		"name": "Example Driver",
		"executable": "driver.js",
		"supportedSteps": [
			{"pattern": "I echo the message \"(.*)\"", "action": "echo"}
		]
	}`)

	r := New(testLogger(), "")
	r.searchPaths = []string{driversDir}

	require.NoError(t, r.Initialize())
	require.ElementsMatch(t, []string{"example"}, r.List())

	md, ok := r.Get("example")
	require.True(t, ok)
	require.Equal(t, "0.0.0", md.Version) // default applied
	require.Equal(t, TransportWebsocket, md.Transport)
	require.Equal(t, "driver.js", md.Executable)
	require.Len(t, md.SupportedSteps, 1)
}

func TestRegistry_idDefaultsToDirectoryBasename(t *testing.T) {
	tmp := t.TempDir()
	driversDir := filepath.Join(tmp, "drivers")
	writeManifest(t, filepath.Join(driversDir, "mydriver"), "", `{"executable": "driver.js"}`)

	r := New(testLogger(), "")
	r.searchPaths = []string{driversDir}
	require.NoError(t, r.Initialize())

	_, ok := r.Get("mydriver")
	require.True(t, ok)
}

func TestRegistry_malformedManifestIsSkippedNotFatal(t *testing.T) {
	tmp := t.TempDir()
	driversDir := filepath.Join(tmp, "drivers")
	bad := filepath.Join(driversDir, "bad")
	require.NoError(t, os.MkdirAll(bad, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bad, "driver.json"), []byte("{not json"), 0o644))

	writeManifest(t, filepath.Join(driversDir, "good"), "good", `{"executable": "driver.js"}`)

	r := New(testLogger(), "")
	r.searchPaths = []string{driversDir}
	require.NoError(t, r.Initialize())
	require.Equal(t, []string{"good"}, r.List())
}

func TestRegistry_emptyCatalogIsLegal(t *testing.T) {
	tmp := t.TempDir()
	r := New(testLogger(), "")
	r.searchPaths = []string{filepath.Join(tmp, "nonexistent")}
	require.NoError(t, r.Initialize())
	require.Empty(t, r.List())
}

func TestRegistry_initializeIsIdempotent(t *testing.T) {
	tmp := t.TempDir()
	driversDir := filepath.Join(tmp, "drivers")
	writeManifest(t, filepath.Join(driversDir, "example"), "example", `{"executable": "driver.js"}`)

	r := New(testLogger(), "")
	r.searchPaths = []string{driversDir}
	require.NoError(t, r.Initialize())
	require.NoError(t, r.Initialize())
	require.Len(t, r.List(), 1)
}

func TestRegistry_executableFallsBackToAlternates(t *testing.T) {
	tmp := t.TempDir()
	driversDir := filepath.Join(tmp, "drivers")
	dir := filepath.Join(driversDir, "alt")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "driver.json"), []byte(`{"id":"alt","executable":"missing.js"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte("// stub"), 0o644))

	r := New(testLogger(), "")
	r.searchPaths = []string{driversDir}
	require.NoError(t, r.Initialize())

	md, ok := r.Get("alt")
	require.True(t, ok)
	require.Equal(t, "index.js", md.Executable)
}
