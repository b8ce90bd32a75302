// Package rpcclient implements the RPC Client (C3): a correlated JSON-RPC
// channel to a single spawned driver, over WebSocket or HTTP.
package rpcclient

import "encoding/json"

// messageType distinguishes a request from a response on the wire.
type messageType string

const (
	typeRequest  messageType = "request"
	typeResponse messageType = "response"
)

// message is the wire envelope described in §4.3/§6: one JSON object per
// frame, correlated by Id.
type message struct {
	ID     string          `json:"id"`
	Type   messageType     `json:"type"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Capabilities is the driver metadata returned by the capabilities RPC.
type Capabilities struct {
	Name               string   `json:"name"`
	Version            string   `json:"version"`
	Description        string   `json:"description"`
	SupportedActions   []string `json:"supportedActions"`
	SupportedFeatures  []string `json:"supportedFeatures"`
}

// StepExecutionResult is what Execute returns to its caller, whether the
// driver succeeded or reported a domain error.
type StepExecutionResult struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ExecutionError `json:"error,omitempty"`
}

// ExecutionError is the translated form of a driver's response.error.
type ExecutionError struct {
	Message string `json:"message"`
}
