package engine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

// TestMain lets this test binary masquerade as a real driver executable: run
// with ENGINE_TEST_HELPER_DRIVER=1, it serves the JSON-RPC-over-WebSocket
// protocol directly instead of running the test suite, so end-to-end
// dispatch can be exercised without a real external driver.
func TestMain(m *testing.M) {
	if os.Getenv("ENGINE_TEST_HELPER_DRIVER") == "1" {
		runHelperDriver()
		return
	}
	os.Exit(m.Run())
}

type wireMessage struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func runHelperDriver() {
	port := "0"
	for i, a := range os.Args {
		if a == "--port" && i+1 < len(os.Args) {
			port = os.Args[i+1]
		}
	}

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg wireMessage
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			resp := handleHelperMethod(msg)
			out, _ := json.Marshal(resp)
			if conn.WriteMessage(websocket.TextMessage, out) != nil {
				return
			}
		}
	})
	srv := &http.Server{Addr: "127.0.0.1:" + port, Handler: mux}
	_ = srv.ListenAndServe()
}

func handleHelperMethod(msg wireMessage) wireMessage {
	switch msg.Method {
	case "capabilities":
		result, _ := json.Marshal(map[string]any{
			"name": "echo-driver", "version": "1.0.0",
			"supportedActions": []string{"echo"}, "supportedFeatures": []string{},
		})
		return wireMessage{ID: msg.ID, Type: "response", Result: result}
	case "initialize":
		return wireMessage{ID: msg.ID, Type: "response", Result: json.RawMessage(`{}`)}
	case "introspect":
		result, _ := json.Marshal([]map[string]string{
			{"id": "echo", "pattern": `I echo the message "(.*)"`, "action": "echo"},
		})
		return wireMessage{ID: msg.ID, Type: "response", Result: result}
	case "execute":
		var params struct {
			Action string   `json:"action"`
			Args   []string `json:"args"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		if params.Action != "echo" {
			return wireMessage{ID: msg.ID, Type: "response", Error: &struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			}{Code: 1, Message: "unknown action"}}
		}
		arg := ""
		if len(params.Args) > 0 {
			arg = params.Args[0]
		}
		result, _ := json.Marshal(map[string]string{"echoed": arg})
		return wireMessage{ID: msg.ID, Type: "response", Result: result}
	case "shutdown":
		return wireMessage{ID: msg.ID, Type: "response", Result: json.RawMessage(`{}`)}
	default:
		return wireMessage{ID: msg.ID, Type: "response", Result: json.RawMessage(`{}`)}
	}
}

// setupEchoDriver copies this test binary into a fresh drivers directory so
// the registry can discover it as a real driver.json-described driver.
func setupEchoDriver(t *testing.T) string {
	t.Helper()
	self, err := os.Executable()
	require.NoError(t, err)

	root := t.TempDir()
	driverDir := filepath.Join(root, "echo")
	require.NoError(t, os.MkdirAll(driverDir, 0o755))

	execName := "echo-driver"
	dst := filepath.Join(driverDir, execName)
	copyFile(t, self, dst)
	require.NoError(t, os.Chmod(dst, 0o755))

	manifest := map[string]any{
		"id": "echo", "name": "Echo Driver", "version": "1.0.0",
		"executable": execName, "transport": "websocket",
	}
	raw, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(driverDir, "driver.json"), raw, 0o644))

	return root
}

func copyFile(t *testing.T, src, dst string) {
	t.Helper()
	in, err := os.Open(src)
	require.NoError(t, err)
	defer in.Close()
	out, err := os.Create(dst)
	require.NoError(t, err)
	defer out.Close()
	_, err = io.Copy(out, in)
	require.NoError(t, err)
}

// withHelperEnv makes every driver spawned during the test see the sentinel
// env var the helper driver checks for.
func withHelperEnv(t *testing.T) {
	t.Helper()
	// supervisor.buildCommand reads os.Environ() at spawn time; the
	// simplest way to make every spawned child see the sentinel is to set
	// it in this process's own environment for the duration of the test.
	require.NoError(t, os.Setenv("ENGINE_TEST_HELPER_DRIVER", "1"))
	t.Cleanup(func() { os.Unsetenv("ENGINE_TEST_HELPER_DRIVER") })
}

func writeFeature(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.feature")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEngine_runFeatureDispatchesMatchedStep(t *testing.T) {
	withHelperEnv(t)
	installPath := setupEchoDriver(t)

	e := New(hclog.NewNullLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// The echo manifest declares no static steps, so its pattern is only
	// registered once the driver is started and introspected.
	require.NoError(t, e.Initialize(ctx, Config{InstallPath: installPath, Driver: "echo"}))
	defer e.Shutdown()

	feature := writeFeature(t, `Feature: Echo
  Scenario: says hello
    When I echo the message "hello"
`)
	r, err := e.RunFeature(ctx, feature)
	require.NoError(t, err)
	require.Equal(t, 1, r.Summary.Total)
	require.Equal(t, 1, r.Summary.Passed)
	require.Equal(t, 0, r.Summary.Failed)
}

func TestEngine_unmatchedStepFailsWithoutStartingAnyDriver(t *testing.T) {
	withHelperEnv(t)
	installPath := setupEchoDriver(t)

	e := New(hclog.NewNullLogger())
	ctx := context.Background()
	require.NoError(t, e.Initialize(ctx, Config{InstallPath: installPath}))
	defer e.Shutdown()

	feature := writeFeature(t, `Feature: Unknown
  Scenario: nothing matches
    When I do something nobody registered
`)
	r, err := e.RunFeature(ctx, feature)
	require.NoError(t, err)
	require.Equal(t, 1, r.Summary.Failed)
	require.Contains(t, r.Results[0].Error.Message, "UnmatchedStep")
	require.Empty(t, e.supervisor.List())
}

func TestEngine_tagFilterExcludesScenarios(t *testing.T) {
	withHelperEnv(t)
	installPath := setupEchoDriver(t)

	e := New(hclog.NewNullLogger())
	ctx := context.Background()
	require.NoError(t, e.Initialize(ctx, Config{InstallPath: installPath, Tags: "@keep"}))
	defer e.Shutdown()

	feature := writeFeature(t, `Feature: Mixed
  @keep
  Scenario: kept
    When I echo the message "a"

  @drop
  Scenario: dropped
    When I echo the message "b"
`)
	r, err := e.RunFeature(ctx, feature)
	require.NoError(t, err)
	require.Equal(t, 1, r.Summary.Total)
}
