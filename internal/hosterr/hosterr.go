// Package hosterr defines the error taxonomy that every component in the
// host surfaces across its public contracts. Each kind is a concrete type so
// callers can distinguish them with errors.As instead of string matching.
package hosterr

import "fmt"

// ConfigurationError indicates a bad manifest, bad CLI input, or a driver
// search that exceeded its wait budget. Unrecoverable: startup aborts.
type ConfigurationError struct {
	Reason string
	Cause  error
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

// DriverStartupError indicates a spawn, readiness, or initial capabilities
// failure for a given driver.
type DriverStartupError struct {
	DriverID   string
	Executable string
	Cause      error
}

func (e *DriverStartupError) Error() string {
	return fmt.Sprintf("driver %q failed to start (executable %q): %v", e.DriverID, e.Executable, e.Cause)
}

func (e *DriverStartupError) Unwrap() error { return e.Cause }

// DriverCommunicationError indicates a socket closed mid-request, a parse
// failure, or an unknown message id on the RPC channel to DriverID.
type DriverCommunicationError struct {
	DriverID string
	Cause    error
}

func (e *DriverCommunicationError) Error() string {
	return fmt.Sprintf("communication with driver %q failed: %v", e.DriverID, e.Cause)
}

func (e *DriverCommunicationError) Unwrap() error { return e.Cause }

// RequestTimeout indicates an RPC call exceeded its deadline. The driver is
// left running; the pending request is abandoned, not cancelled.
type RequestTimeout struct {
	DriverID string
	Method   string
	Timeout  string
}

func (e *RequestTimeout) Error() string {
	return fmt.Sprintf("request %q to driver %q timed out after %s", e.Method, e.DriverID, e.Timeout)
}

// UnmatchedStep indicates a step's text matched no registered pattern.
// Suggestions holds the closest registered patterns for diagnostics.
type UnmatchedStep struct {
	Step        string
	Suggestions []string
}

func (e *UnmatchedStep) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("UnmatchedStep: no pattern matches %q", e.Step)
	}
	return fmt.Sprintf("UnmatchedStep: no pattern matches %q (closest: %v)", e.Step, e.Suggestions)
}

// DriverError wraps a domain error returned verbatim by a driver's RPC
// response error field.
type DriverError struct {
	DriverID string
	Code     int
	Message  string
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver %q returned error %d: %s", e.DriverID, e.Code, e.Message)
}
