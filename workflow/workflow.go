// Package workflow executes multi-step agent workflows. Steps declare
// which agent performs them, which action they invoke, and which other
// steps must complete first; the engine validates the whole graph up
// front, then dispatches every eligible step concurrently and gates the
// rest on their dependencies.
package workflow

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/agentfabric/relay/retry"
)

// Status is the lifecycle state of a workflow.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether the workflow can no longer change state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// StepStatus is the lifecycle state of a single step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepDispatched StepStatus = "dispatched"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"

	// StepSkipped marks a step whose dependency failed; it was never
	// dispatched.
	StepSkipped StepStatus = "skipped"
)

// Step is one unit of work performed by a registered agent.
type Step struct {
	ID         string
	AgentID    string
	Action     string
	Parameters map[string]any

	// DependsOn lists step IDs that must complete before this step is
	// dispatched.
	DependsOn []string

	// Retry overrides the engine's default step retry policy when
	// MaxAttempts is positive.
	Retry retry.Policy

	// Timeout overrides the engine's default per-dispatch timeout when
	// positive.
	Timeout time.Duration

	Status StepStatus
	Result json.RawMessage
	Err    error
}

// Workflow is an ordered set of steps with a shared lifecycle. The zero
// Status is treated as StatusDraft.
type Workflow struct {
	ID     string
	Name   string
	Steps  []*Step
	Status Status
}

// NewWorkflow creates a draft workflow with a generated ID.
func NewWorkflow(name string, steps ...*Step) *Workflow {
	return &Workflow{
		ID:     uuid.Must(uuid.NewV7()).String(),
		Name:   name,
		Steps:  steps,
		Status: StatusDraft,
	}
}

// NewStep creates a pending step with a generated ID.
func NewStep(agentID, action string, params map[string]any, dependsOn ...string) *Step {
	return &Step{
		ID:         uuid.Must(uuid.NewV7()).String(),
		AgentID:    agentID,
		Action:     action,
		Parameters: params,
		DependsOn:  dependsOn,
		Status:     StepPending,
	}
}

// StepByID returns the step with the given ID, or nil.
func (w *Workflow) StepByID(id string) *Step {
	for _, step := range w.Steps {
		if step.ID == id {
			return step
		}
	}
	return nil
}

// StatusEvent notifies a listener of a workflow or step transition. StepID
// is empty for workflow-level transitions.
type StatusEvent struct {
	WorkflowID string
	StepID     string
	Status     string
	Timestamp  time.Time
}

// StatusListener receives status events as execution progresses. Calls are
// serialized per workflow run.
type StatusListener func(event StatusEvent)
