package rpcclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"context"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

func fakeHTTPDriver(t *testing.T, handlers map[string]func(message) message) int {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[1:]
		var msg message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		h, ok := handlers[method]
		require.True(t, ok, "unexpected method %q", method)
		resp := h(msg)
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func TestHTTPClient_startAndExecute(t *testing.T) {
	port := fakeHTTPDriver(t, map[string]func(message) message{
		"capabilities": func(msg message) message {
			result, _ := json.Marshal(Capabilities{Name: "http-driver"})
			return message{ID: msg.ID, Type: typeResponse, Result: result}
		},
		"execute": func(msg message) message {
			return message{ID: msg.ID, Type: typeResponse, Result: json.RawMessage(`{"ok":true}`)}
		},
	})

	c := NewHTTP("http-driver", port, hclog.NewNullLogger())
	caps, err := c.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, "http-driver", caps.Name)

	result, err := c.Execute(context.Background(), "noop", nil)
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestHTTPClient_shutdownPreventsFurtherCalls(t *testing.T) {
	port := fakeHTTPDriver(t, map[string]func(message) message{
		"capabilities": func(msg message) message {
			result, _ := json.Marshal(Capabilities{Name: "http-driver"})
			return message{ID: msg.ID, Type: typeResponse, Result: result}
		},
		"shutdown": func(msg message) message {
			return message{ID: msg.ID, Type: typeResponse}
		},
	})

	c := NewHTTP("http-driver", port, hclog.NewNullLogger())
	_, err := c.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Shutdown(context.Background()))

	_, err = c.Execute(context.Background(), "noop", nil)
	require.Error(t, err)
}
