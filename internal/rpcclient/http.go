package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	hclog "github.com/hashicorp/go-hclog"

	"github.com/stepdriver/host/internal/hosterr"
)

// httpClient is the HTTP variant of Client: each RPC is a POST to a
// method-named path, with request/response correlation implicit per HTTP
// exchange rather than multiplexed over a shared socket.
type httpClient struct {
	driverID string
	baseURL  string
	logger   hclog.Logger
	hc       *http.Client

	mu           sync.Mutex
	closed       bool
	capabilities *Capabilities
}

// NewHTTP constructs a Client that POSTs JSON-RPC envelopes to
// http://127.0.0.1:port/<method>.
func NewHTTP(driverID string, port int, logger hclog.Logger) Client {
	return &httpClient{
		driverID: driverID,
		baseURL:  fmt.Sprintf("http://127.0.0.1:%d", port),
		logger:   logger.Named("rpc").With("driver_id", driverID),
		hc:       cleanhttp.DefaultClient(),
	}
}

func (c *httpClient) post(ctx context.Context, method string, params any, timeout time.Duration) (*message, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, &hosterr.DriverCommunicationError{DriverID: c.driverID, Cause: fmt.Errorf("connection closed")}
	}

	var paramsRaw json.RawMessage
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		paramsRaw = raw
	}

	reqEnvelope := &message{ID: newRequestID(), Type: typeRequest, Method: method, Params: paramsRaw}
	body, err := json.Marshal(reqEnvelope)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		if callCtx.Err() != nil {
			return nil, &hosterr.RequestTimeout{DriverID: c.driverID, Method: method, Timeout: timeout.String()}
		}
		return nil, &hosterr.DriverCommunicationError{DriverID: c.driverID, Cause: err}
	}
	defer resp.Body.Close()

	var respEnvelope message
	if err := json.NewDecoder(resp.Body).Decode(&respEnvelope); err != nil {
		return nil, &hosterr.DriverCommunicationError{DriverID: c.driverID, Cause: err}
	}
	return &respEnvelope, nil
}

func (c *httpClient) Start(ctx context.Context) (*Capabilities, error) {
	resp, err := c.post(ctx, "capabilities", nil, ConnectTimeout)
	if err != nil {
		return nil, &hosterr.DriverStartupError{DriverID: c.driverID, Cause: err}
	}
	if resp.Error != nil {
		return nil, &hosterr.DriverError{DriverID: c.driverID, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	var caps Capabilities
	if err := json.Unmarshal(resp.Result, &caps); err != nil {
		return nil, &hosterr.DriverStartupError{DriverID: c.driverID, Cause: err}
	}
	c.mu.Lock()
	c.capabilities = &caps
	c.mu.Unlock()
	return &caps, nil
}

func (c *httpClient) Initialize(ctx context.Context, config map[string]any) error {
	resp, err := c.post(ctx, "initialize", struct {
		Config map[string]any `json:"config"`
	}{Config: config}, IntrospectTimeout)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return &hosterr.DriverError{DriverID: c.driverID, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	return nil
}

func (c *httpClient) Execute(ctx context.Context, action string, args []string) (*StepExecutionResult, error) {
	resp, err := c.post(ctx, "execute", struct {
		Action string   `json:"action"`
		Args   []string `json:"args"`
	}{Action: action, Args: args}, ExecuteTimeout)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return &StepExecutionResult{Success: false, Error: &ExecutionError{Message: resp.Error.Message}}, nil
	}
	return &StepExecutionResult{Success: true, Data: resp.Result}, nil
}

func (c *httpClient) Introspect(ctx context.Context, typ string) (json.RawMessage, error) {
	resp, err := c.post(ctx, "introspect", struct {
		Type string `json:"type"`
	}{Type: typ}, IntrospectTimeout)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &hosterr.DriverError{DriverID: c.driverID, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	return resp.Result, nil
}

func (c *httpClient) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, _ = c.post(shutdownCtx, "shutdown", nil, 2*time.Second) // best-effort

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *httpClient) Capabilities() *Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capabilities
}
