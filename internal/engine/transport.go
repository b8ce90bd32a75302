package engine

import (
	"github.com/stepdriver/host/internal/registry"
	"github.com/stepdriver/host/internal/rpcclient"
)

// rpcTransport maps the registry's declared transport to the rpcclient
// variant that speaks it. The two packages define their own Transport type
// so neither depends on the other; this is the one place that bridges them.
func rpcTransport(t registry.Transport) rpcclient.Transport {
	if t == registry.TransportHTTP {
		return rpcclient.TransportHTTP
	}
	return rpcclient.TransportWebsocket
}
