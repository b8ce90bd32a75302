package rpcclient

import (
	hclog "github.com/hashicorp/go-hclog"
)

// Transport selects which wire transport New constructs.
type Transport string

const (
	TransportWebsocket Transport = "websocket"
	TransportHTTP      Transport = "http"
)

// New constructs the Client variant matching transport, dialing
// 127.0.0.1:port for driverID.
func New(transport Transport, driverID string, port int, logger hclog.Logger) Client {
	if transport == TransportHTTP {
		return NewHTTP(driverID, port, logger)
	}
	return NewWebsocket(driverID, port, logger)
}
