package syncer

import "github.com/agentfabric/relay/observability"

const (
	EventEnqueued observability.EventType = "sync.enqueued"
	EventApplied  observability.EventType = "sync.applied"
	EventRetry    observability.EventType = "sync.retry"
	EventFailed   observability.EventType = "sync.failed"
)
