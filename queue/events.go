package queue

import "github.com/agentfabric/relay/observability"

const (
	EventDelivered  observability.EventType = "queue.delivered"
	EventRetry      observability.EventType = "queue.retry"
	EventDeadLetter observability.EventType = "queue.dead_letter"
	EventDropped    observability.EventType = "queue.dropped"
)
