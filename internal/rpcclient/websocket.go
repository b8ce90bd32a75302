package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	hclog "github.com/hashicorp/go-hclog"
	uuid "github.com/hashicorp/go-uuid"

	"github.com/stepdriver/host/internal/hosterr"
)

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateOpen
	stateClosed
)

// wsClient is the WebSocket variant of Client: a single persistent
// connection, one writer mutex, one receiver goroutine that demultiplexes
// responses to pendingRequests by id.
type wsClient struct {
	driverID string
	url      string
	logger   hclog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu           sync.Mutex
	state        connState
	capabilities *Capabilities

	pending *pendingRequests
}

// NewWebsocket constructs a Client that speaks the JSON-RPC protocol over a
// WebSocket connection to 127.0.0.1:port.
func NewWebsocket(driverID string, port int, logger hclog.Logger) Client {
	return &wsClient{
		driverID: driverID,
		url:      fmt.Sprintf("ws://127.0.0.1:%d/", port),
		logger:   logger.Named("rpc").With("driver_id", driverID),
		pending:  newPendingRequests(),
	}
}

func (c *wsClient) Start(ctx context.Context) (*Capabilities, error) {
	c.mu.Lock()
	c.state = stateConnecting
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: ConnectTimeout}
	conn, _, err := dialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		c.mu.Lock()
		c.state = stateDisconnected
		c.mu.Unlock()
		return nil, &hosterr.DriverStartupError{DriverID: c.driverID, Cause: err}
	}

	c.conn = conn
	c.mu.Lock()
	c.state = stateOpen
	c.mu.Unlock()

	go c.receiveLoop()

	capCtx, capCancel := context.WithTimeout(ctx, IntrospectTimeout)
	defer capCancel()
	caps, err := c.callCapabilities(capCtx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.capabilities = caps
	c.mu.Unlock()
	return caps, nil
}

// receiveLoop is the single reader for this connection. It demultiplexes
// every inbound response to its waiter by id; an unknown id is dropped with
// a warning, never assumed to belong to the most recent send.
func (c *wsClient) receiveLoop() {
	defer c.onDisconnect()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping unparseable message", "error", err)
			continue
		}
		if msg.Type != typeResponse {
			continue
		}
		if !c.pending.resolve(msg.ID, &msg) {
			c.logger.Warn("dropping response with unknown id", "id", msg.ID)
		}
	}
}

func (c *wsClient) onDisconnect() {
	c.mu.Lock()
	alreadyClosed := c.state == stateClosed
	c.state = stateClosed
	c.mu.Unlock()
	if alreadyClosed {
		// A deliberate Shutdown already set stateClosed before closing the
		// socket; this disconnect is its echo, not a surprise. No reconnect.
		return
	}
	c.pending.rejectAll()
	go c.attemptReconnect()
}

// attemptReconnect implements the disconnection policy from §4.3: up to 3
// attempts at 1s, 2s, 3s to re-dial the same driver. The first attempt to
// succeed reopens the connection and resumes the receive loop; if every
// attempt fails the client stays closed and the owning coordinator is
// expected to reissue Start or bury the driver.
func (c *wsClient) attemptReconnect() {
	policy := reconnectPolicyFn()
	for {
		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			c.logger.Warn("reconnect attempts exhausted; leaving driver connection closed")
			return
		}
		time.Sleep(delay)

		dialer := websocket.Dialer{HandshakeTimeout: ConnectTimeout}
		conn, _, err := dialer.Dial(c.url, nil)
		if err != nil {
			c.logger.Warn("reconnect attempt failed", "error", err)
			continue
		}

		c.mu.Lock()
		if c.state != stateClosed {
			// Shutdown (or a second reconnect) ran while we were dialing.
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.state = stateOpen
		c.mu.Unlock()

		c.logger.Info("reconnected to driver")
		go c.receiveLoop()
		return
	}
}

func (c *wsClient) send(req *message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// call sends req and waits for its correlated response, abandoning the
// wait (without tearing down the connection) if deadline fires first.
func (c *wsClient) call(ctx context.Context, req *message, timeout time.Duration) (*message, error) {
	c.mu.Lock()
	closed := c.state == stateClosed
	c.mu.Unlock()
	if closed {
		return nil, &hosterr.DriverCommunicationError{DriverID: c.driverID, Cause: fmt.Errorf("connection closed")}
	}

	waitCh := c.pending.register(req.ID)

	if err := c.send(req); err != nil {
		c.pending.abandon(req.ID)
		return nil, &hosterr.DriverCommunicationError{DriverID: c.driverID, Cause: err}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-waitCh:
		if !ok {
			return nil, &hosterr.DriverCommunicationError{DriverID: c.driverID, Cause: fmt.Errorf("connection closed while awaiting response")}
		}
		return resp, nil
	case <-timer.C:
		c.pending.abandon(req.ID)
		return nil, &hosterr.RequestTimeout{DriverID: c.driverID, Method: req.Method, Timeout: timeout.String()}
	case <-ctx.Done():
		c.pending.abandon(req.ID)
		return nil, ctx.Err()
	}
}

func newRequestID() string {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return id
}

func (c *wsClient) callCapabilities(ctx context.Context) (*Capabilities, error) {
	resp, err := c.call(ctx, &message{ID: newRequestID(), Type: typeRequest, Method: "capabilities"}, IntrospectTimeout)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &hosterr.DriverError{DriverID: c.driverID, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	var caps Capabilities
	if err := json.Unmarshal(resp.Result, &caps); err != nil {
		return nil, &hosterr.DriverCommunicationError{DriverID: c.driverID, Cause: err}
	}
	return &caps, nil
}

func (c *wsClient) Initialize(ctx context.Context, config map[string]any) error {
	params, err := json.Marshal(struct {
		Config map[string]any `json:"config"`
	}{Config: config})
	if err != nil {
		return err
	}
	resp, err := c.call(ctx, &message{ID: newRequestID(), Type: typeRequest, Method: "initialize", Params: params}, IntrospectTimeout)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return &hosterr.DriverError{DriverID: c.driverID, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	return nil
}

func (c *wsClient) Execute(ctx context.Context, action string, args []string) (*StepExecutionResult, error) {
	params, err := json.Marshal(struct {
		Action string   `json:"action"`
		Args   []string `json:"args"`
	}{Action: action, Args: args})
	if err != nil {
		return nil, err
	}

	resp, err := c.call(ctx, &message{ID: newRequestID(), Type: typeRequest, Method: "execute", Params: params}, ExecuteTimeout)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return &StepExecutionResult{
			Success: false,
			Error:   &ExecutionError{Message: resp.Error.Message},
		}, nil
	}

	return &StepExecutionResult{Success: true, Data: resp.Result}, nil
}

func (c *wsClient) Introspect(ctx context.Context, typ string) (json.RawMessage, error) {
	params, err := json.Marshal(struct {
		Type string `json:"type"`
	}{Type: typ})
	if err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, &message{ID: newRequestID(), Type: typeRequest, Method: "introspect", Params: params}, IntrospectTimeout)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &hosterr.DriverError{DriverID: c.driverID, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	return resp.Result, nil
}

func (c *wsClient) Shutdown(ctx context.Context) error {
	// Best-effort polite RPC; its failure must not prevent the socket
	// from closing.
	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, _ = c.call(shutdownCtx, &message{ID: newRequestID(), Type: typeRequest, Method: "shutdown"}, 2*time.Second)

	c.mu.Lock()
	alreadyClosed := c.state == stateClosed
	c.state = stateClosed
	c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
	}
	if !alreadyClosed {
		c.pending.rejectAll()
	}
	return nil
}

func (c *wsClient) Capabilities() *Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capabilities
}

// reconnectPolicyFn is a package variable so tests can substitute a faster
// policy instead of waiting out the real 1s/2s/3s schedule.
var reconnectPolicyFn = reconnectPolicy

// reconnectPolicy is the linear-backoff policy described in §4.3: up to 3
// attempts at 1s, 2s, 3s, driving attemptReconnect after an unexpected
// disconnect. cenkalti/backoff's built-in policies are constant or
// exponential; linearBackoff composes with backoff.WithMaxRetries to get
// the 1×,2×,3× shape the spec calls for.
func reconnectPolicy() backoff.BackOff {
	return backoff.WithMaxRetries(&linearBackoff{base: reconnectBaseDelay}, reconnectAttempts)
}

// linearBackoff implements 1×attempt, 2×attempt, 3×attempt... delays.
type linearBackoff struct {
	base    time.Duration
	attempt int
}

func (l *linearBackoff) NextBackOff() time.Duration {
	l.attempt++
	return time.Duration(l.attempt) * l.base
}

func (l *linearBackoff) Reset() { l.attempt = 0 }
