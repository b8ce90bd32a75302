package rpcclient

import (
	"context"
	"encoding/json"
	"time"
)

const (
	// ConnectTimeout bounds opening the transport.
	ConnectTimeout = 10 * time.Second
	// ExecuteTimeout is the default per-call deadline for Execute.
	ExecuteTimeout = 60 * time.Second
	// IntrospectTimeout bounds capabilities/introspect calls.
	IntrospectTimeout = 30 * time.Second

	// reconnectAttempts and reconnectBaseDelay implement the linear
	// backoff policy: 1s, 2s, 3s.
	reconnectAttempts  = 3
	reconnectBaseDelay = 1 * time.Second
)

// Client is the per-driver RPC channel contract described in §4.3, common
// to both the WebSocket and HTTP transports.
type Client interface {
	// Start opens the transport and performs the initial capabilities
	// call, caching and returning its result.
	Start(ctx context.Context) (*Capabilities, error)
	// Initialize sends the driver-specific configuration map.
	Initialize(ctx context.Context, config map[string]any) error
	// Execute runs one action with the given captured arguments, using
	// ExecuteTimeout unless ctx carries a tighter deadline.
	Execute(ctx context.Context, action string, args []string) (*StepExecutionResult, error)
	// Introspect asks the driver to report data of the given type
	// (typically "steps").
	Introspect(ctx context.Context, typ string) (json.RawMessage, error)
	// Shutdown attempts a polite shutdown RPC, then closes the
	// transport, rejecting every pending request.
	Shutdown(ctx context.Context) error
	// Capabilities returns the cached result of the initial Start call.
	Capabilities() *Capabilities
}
