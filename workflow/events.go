package workflow

import "github.com/agentfabric/relay/observability"

const (
	EventStarted        observability.EventType = "workflow.started"
	EventCompleted      observability.EventType = "workflow.completed"
	EventError          observability.EventType = "workflow.error"
	EventStepDispatched observability.EventType = "workflow.step.dispatched"
	EventStepCompleted  observability.EventType = "workflow.step.completed"
	EventStepFailed     observability.EventType = "workflow.step.failed"
	EventStepSkipped    observability.EventType = "workflow.step.skipped"
)
