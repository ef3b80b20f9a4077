package transport

import "github.com/agentfabric/relay/observability"

const (
	EventConnecting   observability.EventType = "transport.connecting"
	EventConnected    observability.EventType = "transport.connected"
	EventBackoff      observability.EventType = "transport.backoff"
	EventDisconnected observability.EventType = "transport.disconnected"
	EventDropped      observability.EventType = "transport.dropped"
)
